package server

import (
	"net/http"

	"github.com/ahmethakanbesel/clipper/internal/artifact"
	"github.com/ahmethakanbesel/clipper/internal/clip"
	"github.com/ahmethakanbesel/clipper/internal/job"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(clipSvc *clip.Service, jobSvc *job.Service, artifacts *artifact.Store) http.Handler {
	return newMux(clipSvc, jobSvc, artifacts)
}

func newMux(clipSvc *clip.Service, jobSvc *job.Service, artifacts *artifact.Store) http.Handler {
	h := &handler{
		clipSvc:   clipSvc,
		jobSvc:    jobSvc,
		artifacts: artifacts,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /apispec.json", h.apiSpec)
	mux.HandleFunc("POST /api/v1/jobs", h.submit)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)
	mux.HandleFunc("GET /download/{filename}", h.download)

	// Form-based paths kept for existing clients.
	mux.HandleFunc("POST /process_video", h.submit)
	mux.HandleFunc("GET /job/{id}", h.getJob)

	// Apply middleware stack: recovery -> requestID -> logging -> cors
	var handler http.Handler = mux
	handler = cors(handler)
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
