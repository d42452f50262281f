package storage

import (
	"context"
	"errors"
	"time"

	"sheetmail/internal/dispatch"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the app and the control surfaces.
type Store interface {
	RecordRun(ctx context.Context, r RunRecord) error
	// ListRuns returns matching runs, most recently finished first.
	ListRuns(ctx context.Context, f Filter) ([]RunRecord, error)
	Close() error
}

// RunRecord is the persisted form of a finished run. Keep it schema-stable.
type RunRecord struct {
	RunID      string             `json:"run_id"`
	GroupID    string             `json:"group_id"`
	Template   string             `json:"template"`
	State      string             `json:"state"`
	Reason     string             `json:"reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	Total      int                `json:"total"`
	Processed  int                `json:"processed"`
	Sent       int                `json:"sent"`
	Rejected   int                `json:"rejected"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Outcomes   []dispatch.Outcome `json:"outcomes,omitempty"`
	Fatal      *dispatch.Outcome  `json:"fatal,omitempty"`
}

// FromStatus converts a terminal dispatch status into a record.
func FromStatus(st dispatch.Status) RunRecord {
	return RunRecord{
		RunID:      st.RunID,
		GroupID:    st.GroupID,
		Template:   st.Template,
		State:      string(st.State),
		Reason:     string(st.Reason),
		Error:      st.Error(),
		Total:      st.Progress.Total,
		Processed:  st.Progress.Processed,
		Sent:       st.Progress.Sent,
		Rejected:   st.Progress.Rejected,
		StartedAt:  st.StartedAt,
		FinishedAt: st.FinishedAt,
		Outcomes:   st.Outcomes,
		Fatal:      st.Fatal,
	}
}

type Filter struct {
	GroupID string
	Since   time.Time
	// Limit caps the result; 0 means DefaultListLimit.
	Limit int
	// WithOutcomes includes per-recipient outcomes (they can be large).
	WithOutcomes bool
}

const DefaultListLimit = 50

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f Filter) match(r RunRecord) bool {
	if f.GroupID != "" && r.GroupID != f.GroupID {
		return false
	}
	if !f.Since.IsZero() && r.FinishedAt.Before(f.Since) {
		return false
	}
	return true
}
