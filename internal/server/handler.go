package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/ahmethakanbesel/clipper/internal/apperror"
	"github.com/ahmethakanbesel/clipper/internal/artifact"
	"github.com/ahmethakanbesel/clipper/internal/clip"
	"github.com/ahmethakanbesel/clipper/internal/job"
)

//go:embed openapi.json
var openAPISpec []byte

// maxSubmitBody caps submission payloads; a request is three short strings.
const maxSubmitBody = 64 << 10

type handler struct {
	clipSvc   *clip.Service
	jobSvc    *job.Service
	artifacts *artifact.Store
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handler) apiSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.clipSvc.Submit(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// decodeSubmit accepts a JSON body or a form. Form fields also go by their
// legacy names youtube_url, input_timestamp and output_timestamp.
func decodeSubmit(w http.ResponseWriter, r *http.Request) (clip.SubmitRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

	var req clip.SubmitRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid json body")
		}
		return req, nil
	}

	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(maxSubmitBody)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return req, errors.New("invalid form body")
	}

	req.SourceURL = formValue(r, "source_url", "youtube_url")
	req.InputMark = formValue(r, "input_mark", "input_timestamp")
	req.OutputMark = formValue(r, "output_mark", "output_timestamp")
	return req, nil
}

func formValue(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r.PostFormValue(k)); v != "" {
			return v
		}
	}
	return ""
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: r.PathValue("id")})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	req := job.ListJobsRequest{
		Status: r.URL.Query().Get("status"),
	}

	jobs, err := h.jobSvc.List(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

// download streams a published clip. The owning job decides whether the
// name is servable: unknown names are 404, clips removed by retention 410.
func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	id, ok := strings.CutSuffix(name, ".mp4")
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: id})
	if err != nil {
		if apperror.Is(err, apperror.BadRequest) || apperror.Is(err, apperror.NotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeAppError(w, err)
		return
	}
	if j.Expired() {
		writeError(w, http.StatusGone, "file expired")
		return
	}
	if j.Status != job.StatusCompleted || j.OutputPath != name {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	f, fi, err := h.artifacts.Open(name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

func writeAppError(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		if ae.HTTPStatus() >= http.StatusInternalServerError {
			slog.Error("request failed", "error", err)
		}
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
