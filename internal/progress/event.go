package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCycleStart    Stage = "CYCLE_START"
	StageCycleDone     Stage = "CYCLE_DONE"
	StageCycleError    Stage = "CYCLE_ERROR"
	StageDownloadStart Stage = "DOWNLOAD_START"
	StageDownloadBytes Stage = "DOWNLOAD_BYTES"
	StageDownloadDone  Stage = "DOWNLOAD_DONE"
	StageMessage       Stage = "MESSAGE"
	StageWait          Stage = "WAIT"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for download completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Result values reported on StageCycleDone.
const (
	ResultUpdated     = "updated"
	ResultNotModified = "not_modified"
	ResultNotFound    = "not_found"
)

// Event captures a single piece of archive progress.
type Event struct {
	// RunID identifies one archive run (one thread URL) in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Thread is the "site/board/thread_id" label of the archived thread.
	Thread string
	// URL is the page or asset URL concerned, if any.
	URL string
	// Bytes is the number of bytes read so far (DOWNLOAD_BYTES) or in total.
	Bytes int64
	// Total is the declared length of a download, or -1 when unknown.
	Total int64
	// Posts is the number of newly merged posts on CYCLE_DONE.
	Posts int
	// Result is the cycle outcome on CYCLE_DONE.
	Result string
	// StatusClass groups the HTTP response code of a finished download.
	StatusClass StatusClass
	// Dur captures download latency, cycle wall time, or the remaining wait.
	Dur time.Duration
	// Message is the operator-facing text for MESSAGE and error stages.
	Message string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleError, StageWait:
	case StageCycleDone:
		if e.Result == "" {
			return errors.New("cycle done requires result")
		}
	case StageDownloadStart, StageDownloadBytes:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageDownloadDone:
		if e.URL == "" {
			return errors.New("download done requires url")
		}
		if e.StatusClass == "" {
			return errors.New("download done requires status class")
		}
	case StageMessage:
		if e.Message == "" {
			return errors.New("message stage requires text")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to a uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for download events.
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
