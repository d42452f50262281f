package dispatch

import (
	"time"

	"sheetmail/internal/delivery"
)

// Recipient is one row of group input data.
type Recipient struct {
	Address   string            `json:"address"`
	SourceURL string            `json:"source_url"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Group is one independent unit of dispatch work (one sheet of the workbook).
type Group struct {
	ID          string      `json:"id"`
	Credential  string      `json:"-"`
	DisplayName string      `json:"display_name"`
	FromAddress string      `json:"from_address"`
	Recipients  []Recipient `json:"recipients"`
}

// snapshot copies the recipient slice so caller-side mutation cannot reach a running run.
func (g Group) snapshot() Group {
	cp := g
	cp.Recipients = append([]Recipient(nil), g.Recipients...)
	return cp
}

// Template is a named subject+body document; the subject is everything before the first line break.
type Template struct {
	Name    string `json:"name"`
	RawText string `json:"raw_text"`
}

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

type OutcomeKind string

const (
	OutcomeSent        OutcomeKind = "sent"
	OutcomeRejected    OutcomeKind = "rejected"
	OutcomeAuthFailure OutcomeKind = "auth_failure"
)

// Cause qualifies a rejected outcome.
type Cause string

const (
	CauseNone            Cause = ""
	CausePersonalization Cause = "personalization"
	CauseInvalidAddress  Cause = "invalid_address"
	CauseTransient       Cause = "transient"
	CausePermanent       Cause = "permanent"
)

// Outcome is the terminal per-recipient result.
type Outcome struct {
	Index   int         `json:"index"`
	Batch   int         `json:"batch"`
	Address string      `json:"address"`
	Kind    OutcomeKind `json:"kind"`
	Cause   Cause       `json:"cause,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	// AttemptedAt is the paced start of the relay attempt; zero when the relay was never contacted.
	AttemptedAt time.Time `json:"attempted_at,omitempty"`
}

// Reason explains a Failed run.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonAuth      Reason = "auth"
	ReasonCancelled Reason = "cancelled"
	ReasonPanic     Reason = "panic"
)

type Progress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Rejected  int `json:"rejected"`
	Batch     int `json:"batch"`
	Batches   int `json:"batches"`
}

// Status is a point-in-time view of a group's dispatch state.
type Status struct {
	GroupID  string    `json:"group_id"`
	RunID    string    `json:"run_id,omitempty"`
	Template string    `json:"template,omitempty"`
	State    State     `json:"state"`
	Progress Progress  `json:"progress"`
	Outcomes []Outcome `json:"outcomes,omitempty"`

	Reason Reason `json:"reason,omitempty"`
	// Fatal is the recipient whose delivery aborted the run (auth failure); it is not part of Outcomes.
	Fatal *Outcome `json:"fatal,omitempty"`
	Err   error    `json:"-"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Error returns the failure message of a Failed status ("" otherwise).
func (s Status) Error() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Options are the relay, pacing and rendering knobs captured by a run at start.
type Options struct {
	Relay       delivery.Relay
	Interval    time.Duration
	BatchSize   int
	ContentType string
}

const (
	DefaultInterval  = 60 * time.Second
	DefaultBatchSize = 50
)

func (o Options) normalized() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ContentType == "" {
		o.ContentType = "html"
	}
	if o.Relay.Host == "" {
		o.Relay = delivery.DefaultRelay()
	}
	return o
}
