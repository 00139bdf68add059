package clip

import (
	"errors"
	"net/url"
	"strings"

	"github.com/ahmethakanbesel/clipper/internal/apperror"
	"github.com/ahmethakanbesel/clipper/internal/job"
	"github.com/ahmethakanbesel/clipper/internal/timestamp"
)

type SubmitRequest struct {
	SourceURL  string `json:"source_url"`
	InputMark  string `json:"input_mark"`
	OutputMark string `json:"output_mark"`
}

// Parse validates the request and returns the clip range.
func (r SubmitRequest) Parse() (timestamp.Range, *apperror.AppError) {
	if r.SourceURL == "" || r.InputMark == "" || r.OutputMark == "" {
		return timestamp.Range{}, apperror.New(apperror.BadRequest, "missing required parameters")
	}

	u, err := url.Parse(strings.TrimSpace(r.SourceURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return timestamp.Range{}, apperror.New(apperror.BadRequest, "source url must be an absolute http(s) url")
	}

	rng, err := timestamp.ParseRange(r.InputMark, r.OutputMark)
	if err != nil {
		if errors.Is(err, timestamp.ErrInvalidRange) {
			return timestamp.Range{}, apperror.Wrap(apperror.BadRequest,
				"output timestamp must be greater than input timestamp", err)
		}
		return timestamp.Range{}, apperror.Wrap(apperror.BadRequest,
			"invalid timestamp format, use "+timestamp.Layout, err)
	}
	return rng, nil
}

type SubmitResponse struct {
	JobID     string     `json:"jobId"`
	Status    job.Status `json:"status"`
	Message   string     `json:"message"`
	StatusURL string     `json:"statusUrl"`
}
