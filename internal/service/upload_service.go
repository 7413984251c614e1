package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/observability"
)

var (
	// ErrUploadTooLarge indicates the essay file exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the file is not plain text or HTML.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
	// ErrUploadEmpty indicates the file carried no essay text.
	ErrUploadEmpty = errors.New("file contains no text")
)

var allowedEssayTypes = []string{"text/plain", "text/html"}

// EssayUploadService turns uploaded essay files into grading submissions.
type EssayUploadService interface {
	Read(ctx context.Context, file *multipart.FileHeader) (GradingSubmission, error)
}

type essayUploadService struct {
	maxSize int64
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewEssayUploadService constructs the reader. maxSizeKB bounds each file.
func NewEssayUploadService(maxSizeKB int, logger zerolog.Logger) EssayUploadService {
	if maxSizeKB <= 0 {
		maxSizeKB = 512
	}
	return &essayUploadService{
		maxSize: int64(maxSizeKB) * 1024,
		logger:  logger.With().Str("component", "essay_upload_service").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/gema-grader/internal/service/upload"),
	}
}

func (s *essayUploadService) Read(ctx context.Context, file *multipart.FileHeader) (GradingSubmission, error) {
	_, span := s.tracer.Start(ctx, "upload.read_essay")
	defer span.End()

	if file == nil {
		err := errors.New("file is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return GradingSubmission{}, err
	}
	span.SetAttributes(
		attribute.String("upload.original_name", strings.TrimSpace(file.Filename)),
		attribute.Int64("upload.request_size", file.Size),
	)

	if file.Size > s.maxSize {
		return GradingSubmission{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return GradingSubmission{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return GradingSubmission{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		return GradingSubmission{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	detected := mimetype.Detect(buf.Bytes())
	span.SetAttributes(attribute.String("upload.detected_mime", detected.String()))
	if !isAllowedEssayType(detected) || !utf8.Valid(buf.Bytes()) {
		return GradingSubmission{}, s.reject(span, "type", ErrUploadTypeNotAllowed)
	}

	body := strings.TrimSpace(buf.String())
	if body == "" {
		return GradingSubmission{}, s.reject(span, "empty", ErrUploadEmpty)
	}

	name := strings.TrimSpace(strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename)))
	span.SetStatus(codes.Ok, "read")
	return GradingSubmission{
		ID:          submissionIDFromFileName(name),
		DisplayName: name,
		Body:        body,
	}, nil
}

func (s *essayUploadService) reject(span trace.Span, reason string, err error) error {
	observability.UploadRejected().WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

func isAllowedEssayType(detected *mimetype.MIME) bool {
	for _, allowed := range allowedEssayTypes {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

// submissionIDFromFileName keeps lowercase letters, digits, '-' and '_'. An empty result
// leaves the id blank so the orchestrator assigns the position.
func submissionIDFromFileName(name string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, name)
	return strings.Trim(id, "-")
}
