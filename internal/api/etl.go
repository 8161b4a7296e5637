package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/miladsoleymani/jobrelay/core"
	"github.com/miladsoleymani/jobrelay/internal/etl"
)

type jobRequest struct {
	JobType    string         `json:"jobType" validate:"required"`
	UserID     string         `json:"userId" validate:"required"`
	Parameters map[string]any `json:"parameters"`
}

type statusRequest struct {
	JobID    string   `json:"jobId" validate:"required"`
	Status   string   `json:"status" validate:"required,etlstatus"`
	Progress *float64 `json:"progress"`
	Result   any      `json:"result"`
	Error    string   `json:"error"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("etlstatus", func(fl validator.FieldLevel) bool {
		return etl.Status(fl.Field().String()).Valid()
	})
	return v
}

// hasTag reports whether any failed validation used tag.
func hasTag(err error, tag string) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Tag() == tag {
			return true
		}
	}
	return false
}

// formRequest is a request body that can also arrive URL-encoded.
type formRequest interface {
	fromForm(form url.Values) error
}

// decode reads a JSON or URL-encoded body into v. An empty body leaves v
// zero-valued.
func decode(r *http.Request, v formRequest) error {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		return v.fromForm(r.PostForm)
	}

	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// fromForm reads parameters as bracketed keys: parameters[source]=s3.
func (j *jobRequest) fromForm(form url.Values) error {
	j.JobType = form.Get("jobType")
	j.UserID = form.Get("userId")
	for k, vals := range form {
		name, ok := strings.CutPrefix(k, "parameters[")
		if !ok || !strings.HasSuffix(name, "]") || len(vals) == 0 {
			continue
		}
		if j.Parameters == nil {
			j.Parameters = make(map[string]any)
		}
		j.Parameters[strings.TrimSuffix(name, "]")] = vals[0]
	}
	return nil
}

func (s *statusRequest) fromForm(form url.Values) error {
	s.JobID = form.Get("jobId")
	s.Status = form.Get("status")
	s.Error = form.Get("error")
	if form.Has("result") {
		s.Result = form.Get("result")
	}
	if p := form.Get("progress"); p != "" {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		s.Progress = &f
	}
	return nil
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: jobType, userId")
		return
	}

	now := s.now()
	job := etl.JobRequest{
		JobID:      etl.NewJobID(now),
		JobType:    req.JobType,
		UserID:     req.UserID,
		Parameters: req.Parameters,
		Timestamp:  etl.Timestamp(now),
	}
	if job.Parameters == nil {
		job.Parameters = map[string]any{}
	}

	if err := s.publisher.Publish(r.Context(), s.jobsTopic, job, core.WithKey(job.JobID)); err != nil {
		s.logger.Error("failed to submit ETL job request", zap.String("job_id", job.JobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to submit ETL job request")
		return
	}

	s.logger.Info("ETL job request submitted", zap.String("job_id", job.JobID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "ETL job request submitted successfully",
		"jobId":   job.JobID,
	})
}

func (s *Server) publishStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		if hasTag(err, "required") {
			writeError(w, http.StatusBadRequest, "Missing required fields: jobId, status")
		} else {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid status: %s. Must be one of: %s", req.Status, etl.AllowedStatuses()))
		}
		return
	}

	update := etl.StatusUpdate{
		JobID:     req.JobID,
		Status:    etl.Status(req.Status),
		Progress:  req.Progress,
		Result:    req.Result,
		Error:     req.Error,
		Timestamp: etl.Timestamp(s.now()),
	}
	if err := s.publisher.Publish(r.Context(), s.statusTopic, update, core.WithKey(update.JobID)); err != nil {
		s.logger.Error("failed to publish ETL job status update", zap.String("job_id", update.JobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to publish ETL job status update")
		return
	}

	s.logger.Info("ETL job status update published",
		zap.String("job_id", update.JobID), zap.String("status", req.Status))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "ETL job status update published successfully",
	})
}
