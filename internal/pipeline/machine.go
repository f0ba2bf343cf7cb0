package pipeline

import (
	"errors"
	"fmt"

	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/extract"
)

// State is a job's position in its lifecycle.
type State int

const (
	StateRetrieved State = iota
	StateExtracting
	StateExtracted
	StateExtractFailed
	StateUploading
	StateUploaded
	StateUploadFailed
	// StateUploadAbandoned ends a job whose descriptor had no URL. The job
	// keeps the last status it reported.
	StateUploadAbandoned
)

var stateNames = map[State]string{
	StateRetrieved:       "retrieved",
	StateExtracting:      "extracting",
	StateExtracted:       "extracted",
	StateExtractFailed:   "extract_failed",
	StateUploading:       "uploading",
	StateUploaded:        "uploaded",
	StateUploadFailed:    "upload_failed",
	StateUploadAbandoned: "upload_abandoned",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateExtractFailed, StateUploaded, StateUploadFailed, StateUploadAbandoned:
		return true
	}
	return false
}

// OutcomeKind names what just happened to a job.
type OutcomeKind int

const (
	OutcomeAccepted     OutcomeKind = iota // descriptor valid, about to connect
	OutcomeRejected                        // descriptor invalid or source unsupported
	OutcomeExtracted                       // query finished and spooled
	OutcomeExtractError                    // database or spool failure
	OutcomeTargetReady                     // upload descriptor received
	OutcomeTargetError                     // upload descriptor request failed
	OutcomeNoTarget                        // descriptor lacked sas_url
	OutcomeUploaded                        // PUT accepted
	OutcomeUploadError                     // PUT attempts exhausted
)

// Outcome is the input to a transition.
type Outcome struct {
	Kind   OutcomeKind
	Rows   int64
	Status int
	Err    error
}

// ErrInvalidTransition is returned for an outcome the current state cannot accept.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Retrieve enters the initial state and returns the retrieval event.
func Retrieve(settings core.Settings, job core.JobDescriptor) (State, []core.StatusEvent) {
	return StateRetrieved, []core.StatusEvent{{
		Type:          core.EventInfo,
		Source:        settings.Sources.JobDispatchQueue,
		EventID:       settings.Events.Retrieved,
		Message:       "Sync Agent successfully retrieved job.",
		JobInstanceID: job.InstanceID,
	}}
}

// Transition computes the next state and the events to report. It has no
// side effects.
func Transition(settings core.Settings, job core.JobDescriptor, state State, out Outcome) (State, []core.StatusEvent, error) {
	ev := func(t core.EventType, source string, id int, status core.JobStatus, msg string) core.StatusEvent {
		return core.StatusEvent{
			Type:          t,
			Source:        source,
			EventID:       id,
			JobStatus:     status,
			Message:       msg,
			JobInstanceID: job.InstanceID,
		}
	}
	sql := settings.Sources.SQLSyncService
	mgr := settings.Sources.JobManager
	ids := settings.Events

	switch {
	case state == StateRetrieved && out.Kind == OutcomeAccepted:
		msg := fmt.Sprintf("Connecting to %s and beginning data extraction.", job.DisplaySource())
		return StateExtracting, []core.StatusEvent{ev(core.EventInfo, sql, ids.Connecting, core.StatusExtracting, msg)}, nil

	case state == StateRetrieved && out.Kind == OutcomeRejected,
		state == StateExtracting && out.Kind == OutcomeExtractError:
		e := ev(core.EventError, sql, ids.ExtractFailed, core.StatusFailed, extractionMessage(out.Err))
		e.Metadata = extract.Diagnostic(out.Err)
		return StateExtractFailed, []core.StatusEvent{e}, nil

	case state == StateExtracting && out.Kind == OutcomeExtracted:
		e := ev(core.EventInfo, sql, ids.Extracted, core.StatusNone, "Successfully executed SQL and saved output.")
		e.Metadata = map[string]any{"rows": out.Rows}
		return StateExtracted, []core.StatusEvent{e}, nil

	case state == StateExtracted && out.Kind == OutcomeTargetReady:
		return StateUploading, []core.StatusEvent{ev(core.EventInfo, mgr, ids.UploadStarted, core.StatusUploading, "Retrieved upload URI. Commencing upload.")}, nil

	case state == StateExtracted && out.Kind == OutcomeTargetError:
		return StateUploadFailed, []core.StatusEvent{ev(core.EventError, mgr, ids.UploadBase+out.Status, core.StatusFailed, "Sync agent encountered an error while retrieving upload URI.")}, nil

	case state == StateExtracted && out.Kind == OutcomeNoTarget:
		return StateUploadAbandoned, []core.StatusEvent{ev(core.EventError, mgr, ids.UploadBase, core.StatusNone, "Upload URI response did not include a storage URL.")}, nil

	case state == StateUploading && out.Kind == OutcomeUploaded:
		return StateUploaded, []core.StatusEvent{ev(core.EventInfo, mgr, ids.Uploaded, core.StatusPendingIngestion, "Upload complete. Data is pending ingestion.")}, nil

	case state == StateUploading && out.Kind == OutcomeUploadError:
		msg := "Sync agent was unable to upload extracted data."
		if out.Err != nil {
			msg += " " + out.Err.Error()
		}
		return StateUploadFailed, []core.StatusEvent{ev(core.EventError, mgr, ids.UploadFailed, core.StatusFailed, msg)}, nil
	}

	return state, nil, fmt.Errorf("%w: %s on outcome %d", ErrInvalidTransition, state, out.Kind)
}

func extractionMessage(err error) string {
	msg := "An error was encountered while extracting data:"
	if err != nil {
		msg += "\n" + err.Error()
	}
	return msg
}
