// Package etl holds the ETL job message shapes and the handlers that react
// to them.
package etl

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Status is the lifecycle state of an ETL job.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Statuses lists every valid Status in lifecycle order.
var Statuses = []Status{StatusStarted, StatusRunning, StatusCompleted, StatusFailed}

// Valid reports whether s is one of Statuses. The comparison is case-sensitive.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// AllowedStatuses returns the statuses joined for error messages.
func AllowedStatuses() string {
	names := make([]string, len(Statuses))
	for i, s := range Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// JobRequest is published on the jobs topic when a job is submitted.
type JobRequest struct {
	JobID      string         `json:"jobId"`
	JobType    string         `json:"jobType"`
	UserID     string         `json:"userId"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  string         `json:"timestamp"`
}

// StatusUpdate is published on the status topic.
type StatusUpdate struct {
	JobID     string   `json:"jobId"`
	Status    Status   `json:"status"`
	Progress  *float64 `json:"progress,omitempty"`
	Result    any      `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// NewJobID returns an id of the form etl-<unix-ms>-<0..999>. Ids are not
// guaranteed unique within one millisecond.
func NewJobID(now time.Time) string {
	return fmt.Sprintf("etl-%d-%d", now.UnixMilli(), rand.IntN(1000))
}

// Timestamp formats t as ISO-8601 UTC with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
