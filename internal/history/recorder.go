// Package history records every load attempt of a viewer session in the
// load history database.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/Mr-Dark-debug/radview/internal/database"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/session"
)

// Options configures a Recorder.
type Options struct {
	ContainerID string
	Logger      *logging.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Recorder turns session changes into load history rows. It runs on the
// controller's goroutine as a watcher.
type Recorder struct {
	store database.Store
	opts  Options
	log   *logging.Logger

	active  *activeLoad
	lastErr error
}

type activeLoad struct {
	id  string
	gen int64
}

// NewRecorder returns a recorder writing to store.
func NewRecorder(store database.Store, opts Options) *Recorder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}
	return &Recorder{store: store, opts: opts, log: log.WithComponent("history")}
}

// Attach starts recording c and returns the func that stops it.
func (r *Recorder) Attach(c *session.Controller) func() {
	return c.Watch(r.Observe)
}

// ActiveLoadID is the id of the load being recorded, if any.
func (r *Recorder) ActiveLoadID() (string, bool) {
	if r.active == nil {
		return "", false
	}
	return r.active.id, true
}

// LastError is the most recent store failure.
func (r *Recorder) LastError() error { return r.lastErr }

// Observe folds one change into the history.
func (r *Recorder) Observe(ch session.Change) {
	s := ch.Session
	switch ch.Reason {
	case session.ReasonLoad:
		r.cancelActive()
		r.begin(ch)
	case session.ReasonLoaded:
		if r.matches(s.Generation) {
			r.saveDatasets(s)
			r.finish(database.LoadResult{State: database.StateLoaded, DatasetCount: len(s.DataIDs)})
		}
	case session.ReasonFailed:
		if r.matches(s.Generation) {
			res := database.LoadResult{State: database.StateError}
			if s.ErrorInfo != nil {
				res.ErrorCode = s.ErrorInfo.Code
				res.ErrorMessage = s.ErrorInfo.Message
			}
			r.finish(res)
		}
	case session.ReasonReset, session.ReasonClosed:
		r.cancelActive()
	}
}

func (r *Recorder) matches(gen int64) bool {
	return r.active != nil && r.active.gen == gen
}

func (r *Recorder) begin(ch session.Change) {
	var total int64
	for _, f := range ch.Files {
		total += f.Size
	}
	load := &database.LoadRecord{
		LoadID:      uuid.NewString(),
		Generation:  ch.Session.Generation,
		ContainerID: r.opts.ContainerID,
		FileCount:   len(ch.Files),
		TotalBytes:  total,
		State:       database.StateLoading,
		StartTime:   r.opts.Now().UnixNano(),
	}
	if err := r.store.InsertLoad(load); err != nil {
		r.record(err, "recording load start failed")
		return
	}
	r.active = &activeLoad{id: load.LoadID, gen: load.Generation}
	r.log.WithGeneration(load.Generation).Debug("load recorded", "load_id", load.LoadID, "files", load.FileCount)
}

func (r *Recorder) saveDatasets(s session.Session) {
	datasets := make([]*database.Dataset, 0, len(s.DataIDs))
	for i, id := range s.DataIDs {
		meta := s.Metadata[id]
		datasets = append(datasets, &database.Dataset{
			DataID:    id,
			Position:  i,
			Modality:  meta["Modality"],
			SeriesUID: meta["SeriesInstanceUID"],
			Metadata:  meta,
		})
	}
	if len(datasets) == 0 {
		return
	}
	if err := r.store.InsertDatasets(r.active.id, datasets); err != nil {
		r.record(err, "recording datasets failed")
	}
}

func (r *Recorder) finish(res database.LoadResult) {
	res.EndTime = r.opts.Now().UnixNano()
	if err := r.store.FinishLoad(r.active.id, res); err != nil {
		r.record(err, "recording load result failed")
	}
	r.active = nil
}

// cancelActive closes a load that never reached a terminal event.
func (r *Recorder) cancelActive() {
	if r.active == nil {
		return
	}
	r.finish(database.LoadResult{State: database.StateCancelled})
}

func (r *Recorder) record(err error, msg string) {
	r.lastErr = err
	r.log.Warn(msg, "error", err)
}
