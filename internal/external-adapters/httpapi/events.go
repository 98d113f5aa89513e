package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/repositories"
)

// eventBuffer holds events for a slow client. Output events only take
// the lower half so state changes always fit.
const eventBuffer = 64

type outputEvent struct {
	RunID string        `json:"runId"`
	Step  entities.Step `json:"step"`
	Bytes int           `json:"bytes"`
}

type event struct {
	name string
	data any
}

// runObserver forwards one run's notifications without blocking the pipeline
type runObserver struct {
	runID  string
	events chan event
	logger interfaces.Logger
}

func (o *runObserver) OnStateChange(change entities.StateChange) {
	if change.RunID != o.runID {
		return
	}
	o.send(event{name: "state", data: newChangeView(change)})
}

func (o *runObserver) OnOutput(runID string, step entities.Step, chunk []byte) {
	if runID != o.runID {
		return
	}
	if len(o.events) >= eventBuffer/2 {
		return
	}
	o.send(event{name: "output", data: outputEvent{RunID: runID, Step: step, Bytes: len(chunk)}})
}

func (o *runObserver) send(e event) {
	select {
	case o.events <- e:
	default:
		o.logger.Debug("dropping event for slow client", interfaces.F("run_id", o.runID), interfaces.F("event", e.name))
	}
}

// handleEvents streams a run's state changes as server-sent events. A
// finished run replays its stored transitions.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	id := r.PathValue("id")

	observer := &runObserver{runID: id, events: make(chan event, eventBuffer), logger: s.logger}
	unsubscribe := s.pipeline.Subscribe(observer)
	defer unsubscribe()

	// Runs are stored before their terminal state is published, so a run
	// missing here is either in flight or unknown.
	record, err := s.runs.Get(r.Context(), id)
	if err != nil && !errors.Is(err, repositories.ErrRunNotFound) {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if record == nil {
		if state, current := s.pipeline.State(); current != id || !state.IsActive() {
			// The run may have finished since the lookup
			record, err = s.runs.Get(r.Context(), id)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, repositories.ErrRunNotFound) {
					status = http.StatusNotFound
				}
				writeJSONError(w, status, err)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if record != nil {
		for _, change := range record.Transitions {
			if err := writeEvent(w, event{name: "state", data: newChangeView(change)}); err != nil {
				return
			}
		}
		flusher.Flush()
		return
	}

	state, _ := s.pipeline.State()
	if err := writeEvent(w, event{name: "current", data: map[string]any{"runId": id, "state": state}}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-observer.events:
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
			if view, ok := e.data.(changeView); ok && view.To.IsTerminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, e event) error {
	data, err := json.Marshal(e.data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, data)
	return err
}
