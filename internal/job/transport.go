package job

import (
	"github.com/google/uuid"

	"github.com/ahmethakanbesel/clipper/internal/apperror"
)

type GetJobRequest struct {
	ID string
}

func (r GetJobRequest) Validate() *apperror.AppError {
	if _, err := uuid.Parse(r.ID); err != nil {
		return apperror.New(apperror.BadRequest, "invalid job id")
	}
	return nil
}

type ListJobsRequest struct {
	Status string
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	if r.Status != "" && !Status(r.Status).Valid() {
		return apperror.New(apperror.BadRequest, "unknown status filter")
	}
	return nil
}
