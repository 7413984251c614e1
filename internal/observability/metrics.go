package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	apiRequestsTotal     *prometheus.CounterVec
	apiLatencySeconds    *prometheus.HistogramVec
	apiErrorsTotal       *prometheus.CounterVec
	gradingItemsTotal    *prometheus.CounterVec
	gradingRefundsTotal  *prometheus.CounterVec
	gradingBatchSeconds  *prometheus.HistogramVec
	scoreExtractionTotal *prometheus.CounterVec
	uploadRejectedTotal  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		gradingItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_items_total",
			Help: "Submissions graded, by terminal status and error kind.",
		}, []string{"status", "error_kind"})

		gradingRefundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_refunds_total",
			Help: "Compensating credits issued for failed submissions, by result.",
		}, []string{"result"})

		gradingBatchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_batch_duration_seconds",
			Help:    "Wall time of batch grading runs.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"mode"})

		scoreExtractionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_score_extraction_total",
			Help: "Scores extracted from grader replies, by cascade stage.",
		}, []string{"stage"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "essay_uploads_rejected_total",
			Help: "Uploaded essay files rejected before grading, by reason.",
		}, []string{"reason"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			gradingItemsTotal, gradingRefundsTotal, gradingBatchSeconds, scoreExtractionTotal,
			uploadRejectedTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradingItems counts terminal submission outcomes.
func GradingItems() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingItemsTotal
}

// GradingRefunds counts refund attempts.
func GradingRefunds() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRefundsTotal
}

// GradingBatchDuration observes batch wall time.
func GradingBatchDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingBatchSeconds
}

// ScoreExtractions counts which cascade stage produced each score.
func ScoreExtractions() *prometheus.CounterVec {
	RegisterMetrics()
	return scoreExtractionTotal
}

// UploadRejected counts essay files refused by the upload reader.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}
