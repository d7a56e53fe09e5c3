package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies the lifecycle milestone an Event describes.
type Stage string

// Supported stages.
const (
	StageBatchStart  Stage = "BATCH_START"
	StageAttemptDone Stage = "ATTEMPT_DONE"
	StageRecordDone  Stage = "RECORD_DONE"
	StageBatchDone   Stage = "BATCH_DONE"
)

// Result values carried by attempt and record events.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Event is one progress milestone of a batch.
type Event struct {
	// BatchID is the 16-byte UUID of the owning batch.
	BatchID [16]byte
	TS      time.Time
	Stage   Stage
	// RecordID and Title are set on attempt and record events.
	RecordID string
	Title    string
	// Strategy and Priority are set on attempt events.
	Strategy string
	Priority int
	// Result is success or failed on attempt and record events.
	Result string
	// Total is the record count on BATCH_START and the attempted count on BATCH_DONE.
	Total     int
	Succeeded int
	Dur       time.Duration
	// Note carries low-volume context such as a strategy error.
	Note string
}

// Validate checks that the fields required by the stage are present.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
		if e.Total < 0 || e.Succeeded < 0 {
			return errors.New("counts must be >= 0")
		}
	case StageAttemptDone:
		if e.RecordID == "" || e.Strategy == "" {
			return errors.New("attempt requires record id and strategy")
		}
		if err := validResult(e.Result); err != nil {
			return err
		}
	case StageRecordDone:
		if e.RecordID == "" {
			return errors.New("record event requires record id")
		}
		if err := validResult(e.Result); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

func validResult(result string) error {
	switch result {
	case ResultSuccess, ResultFailed:
		return nil
	default:
		return fmt.Errorf("unknown result %q", result)
	}
}

// BatchUUID returns the batch id as a uuid.UUID.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes converts a uuid.UUID to the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
