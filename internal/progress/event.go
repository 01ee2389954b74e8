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
	StageRunStart      Stage = "RUN_START"
	StageRunHB         Stage = "RUN_HEARTBEAT"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageDiscoveryDone Stage = "DISCOVERY_DONE"
	StageFileStart     Stage = "FILE_START"
	StageFileDone      Stage = "FILE_DONE"
)

// Outcome is the final disposition of a processed file, or of the run itself
// on RUN_DONE events.
type Outcome string

// Supported dispositions tracked for completions.
const (
	OutcomeImported Outcome = "imported"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeMismatch Outcome = "schema_mismatch"
	OutcomeCanceled Outcome = "canceled"
)

// Event captures a single component of pipeline progress.
type Event struct {
	// RunID uniquely identifies a pipeline run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or file milestone occurred.
	Stage Stage
	// Mode carries the pipeline mode on RUN_START events.
	Mode string
	// Category optionally scopes file events to a portal category label.
	Category string
	// URL is the canonical file URL for FILE_START and FILE_DONE events.
	URL string
	// Outcome is the disposition for FILE_DONE; on RUN_DONE it may carry a
	// non-default final run status such as canceled.
	Outcome Outcome
	// Records carries the imported-record delta, or the discovered-file count
	// on DISCOVERY_DONE.
	Records int64
	// Bytes carries the downloaded size delta for the file.
	Bytes int64
	// Dur captures execution latency for file imports and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
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
	case StageRunStart, StageRunHB, StageRunDone, StageRunError, StageDiscoveryDone:
	case StageFileStart:
		if e.URL == "" {
			return errors.New("file start requires url")
		}
	case StageFileDone:
		if e.URL == "" {
			return errors.New("file done requires url")
		}
		if e.Outcome == "" {
			return errors.New("file done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
