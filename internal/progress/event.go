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
	StageBatchStart Stage = "BATCH_START"
	StagePageDone   Stage = "PAGE_DONE"
	StagePageError  Stage = "PAGE_ERROR"
	StageBatchDone  Stage = "BATCH_DONE"
)

// PreviewLimit caps the excerpt preview carried on page events.
const PreviewLimit = 80

// Event captures one milestone of a batch generation run.
type Event struct {
	// BatchID uniquely identifies a batch run using the 16-byte UUID form.
	BatchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Index is the 1-based completion order within the batch.
	Index int
	// Total is the job count of the batch.
	Total int
	// Slug identifies the page a page event refers to.
	Slug string
	// Host is the serving hostname the batch targets.
	Host string
	// Title is the generated page title, when available.
	Title string
	// Topic is the theme the page was generated from.
	Topic string
	// Generator records which path produced the page (ai or local).
	Generator string
	// Preview carries up to PreviewLimit characters of the excerpt.
	Preview string
	// Dur captures per-page or whole-batch latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
		if e.Total <= 0 {
			return errors.New("batch events require a total")
		}
	case StagePageDone, StagePageError:
		if e.Slug == "" {
			return errors.New("page events require a slug")
		}
		if e.Index < 1 || e.Index > e.Total {
			return fmt.Errorf("index %d out of range 1..%d", e.Index, e.Total)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// BatchUUID converts the binary batch ID to uuid.UUID.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// TruncatePreview trims text to PreviewLimit characters for event payloads.
func TruncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLimit {
		return text
	}
	return string(runes[:PreviewLimit])
}
