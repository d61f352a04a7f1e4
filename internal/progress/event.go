// Package progress defines the event structures emitted by revalidation
// cycles and fans them out to pluggable sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCycleStart Stage = "CYCLE_START"
	StageCycleDone  Stage = "CYCLE_DONE"
	StageCycleAbort Stage = "CYCLE_ABORT"
	StagePathDone   Stage = "PATH_DONE"
	StagePathError  Stage = "PATH_ERROR"
)

// Event captures a single milestone of a revalidation cycle.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// Reason is the human-readable trigger reason for cycle events.
	Reason string `json:"reason,omitempty"`
	// Path is the rendered URL path for per-path events.
	Path string `json:"path,omitempty"`
	// Attempts counts renderer calls made for per-path events.
	Attempts int `json:"attempts,omitempty"`
	// URLTotal is the size of the cycle's URL set.
	URLTotal int `json:"url_total,omitempty"`
	// Failed counts paths that exhausted their retry budget.
	Failed int `json:"failed,omitempty"`
	// Dur captures cycle wall time for completion events.
	Dur time.Duration `json:"dur,omitempty"`
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone, StageCycleAbort:
	case StagePathDone, StagePathError:
		if e.Path == "" {
			return errors.New("path events require a path")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
