package service

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(int64(len(content))+1024))

	files := req.MultipartForm.File["files"]
	require.Len(t, files, 1)
	return files[0]
}

func TestEssayUploadReadsPlainText(t *testing.T) {
	svc := NewEssayUploadService(4, testLogger())

	submission, err := svc.Read(context.Background(), buildFileHeader(t, "Ana Putri.txt", []byte("  My holiday essay.\n")))
	require.NoError(t, err)
	require.Equal(t, "ana-putri", submission.ID)
	require.Equal(t, "Ana Putri", submission.DisplayName)
	require.Equal(t, "My holiday essay.", submission.Body)
}

func TestEssayUploadAcceptsHTML(t *testing.T) {
	svc := NewEssayUploadService(4, testLogger())

	submission, err := svc.Read(context.Background(), buildFileHeader(t, "budi.html", []byte("<html><body><p>Essay</p></body></html>")))
	require.NoError(t, err)
	require.Equal(t, "budi", submission.ID)
	require.Contains(t, submission.Body, "<p>Essay</p>")
}

func TestEssayUploadRejections(t *testing.T) {
	svc := NewEssayUploadService(1, testLogger())

	_, err := svc.Read(context.Background(), buildFileHeader(t, "big.txt", bytes.Repeat([]byte("a"), 2048)))
	require.ErrorIs(t, err, ErrUploadTooLarge)

	pdf := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{0x00, 0xff}, 20)...)
	_, err = svc.Read(context.Background(), buildFileHeader(t, "essay.pdf", pdf))
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)

	_, err = svc.Read(context.Background(), buildFileHeader(t, "blank.txt", []byte("   \n\t")))
	require.ErrorIs(t, err, ErrUploadEmpty)

	_, err = svc.Read(context.Background(), nil)
	require.Error(t, err)
}
