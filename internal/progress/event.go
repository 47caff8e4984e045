package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageHostStart Stage = "HOST_START"
	StageHostDone  Stage = "HOST_DONE"
	StageHostError Stage = "HOST_ERROR"
	StageFetchDone Stage = "FETCH_DONE"
	StageDocStored Stage = "DOC_STORED"
	StageShutdown  Stage = "SHUTDOWN"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes tracked for fetch completions. StatusError marks a transport
// failure with no response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
	StatusError StatusClass = "error"
)

// Event captures a single step of crawl progress.
type Event struct {
	// RunID identifies one crawl invocation.
	RunID uuid.UUID
	// TS is the UTC time the event was recorded. Emit fills it when zero.
	TS    time.Time
	Stage Stage
	// Host is the origin the event belongs to; empty for run-level stages.
	Host string
	URL  string
	// Bytes is the response size for FETCH_DONE.
	Bytes       int64
	StatusClass StatusClass
	Dur         time.Duration
	// Note carries low-volume context such as an error message or stop reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageShutdown:
	case StageHostStart, StageHostDone, StageHostError:
		if e.Host == "" {
			return fmt.Errorf("%s requires host", e.Stage)
		}
	case StageFetchDone:
		if e.Host == "" || e.URL == "" {
			return errors.New("fetch done requires host and url")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageDocStored:
		if e.Host == "" || e.URL == "" {
			return errors.New("doc stored requires host and url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
