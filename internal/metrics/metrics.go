package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DraftsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_drafts_created_total",
			Help: "Total number of draft applications created",
		},
		[]string{"origin"},
	)

	DraftUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_draft_updates_total",
			Help: "Total number of draft update attempts by result",
		},
		[]string{"result"},
	)

	UploadFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_upload_files_total",
			Help: "Total number of uploaded files by field and result",
		},
		[]string{"field", "result"},
	)

	UploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_upload_file_bytes",
			Help:    "Size of accepted uploaded files in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 7),
		},
		[]string{"field"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_submissions_total",
			Help: "Total number of submission attempts by result",
		},
		[]string{"result"},
	)

	ReceiptsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_receipts_rendered_total",
			Help: "Total number of receipts rendered, split by whether an attachment degraded to a link",
		},
		[]string{"degraded"},
	)

	SessionResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_session_resolutions_total",
			Help: "Draft session resolutions by action",
		},
		[]string{"action"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
