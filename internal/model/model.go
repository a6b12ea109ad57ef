package model

import (
	"time"

	"legalagenda/internal/dates"
)

// Kind is the entity family an agenda item comes from.
type Kind string

const (
	KindTask    Kind = "task"
	KindHearing Kind = "hearing"
	KindEvent   Kind = "event"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindHearing, KindEvent:
		return true
	}
	return false
}

// Subtype refines a Kind. Tasks may be "fixed" (immutable schedule); events
// may be procedural deadlines.
type Subtype string

const (
	SubtypeNone               Subtype = ""
	SubtypeProceduralDeadline Subtype = "procedural_deadline"
	SubtypeFixed              Subtype = "fixed"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"

	// Hearing and event statuses.
	StatusScheduled Status = "scheduled"
	StatusHeld      Status = "held"
	StatusCancelled Status = "cancelled"
)

// Done reports whether the status is terminal for urgency purposes.
func (s Status) Done() bool {
	switch s {
	case StatusCompleted, StatusHeld, StatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Scope is supplied by the presentation layer with every query and command.
type Scope struct {
	OfficeID string `json:"office_id"`
	UserID   string `json:"user_id"`
}

// Task is a row of the tasks table.
type Task struct {
	ID       string
	OfficeID string

	Title        string
	Subtype      Subtype
	Status       Status
	Priority     Priority
	AssigneeName string
	CaseNumber   string
	Location     string

	// Start is data_inicio; FixedDeadline is prazo_data_limite (day granularity).
	Start         time.Time
	FixedDeadline *dates.Date
	CompletedAt   *time.Time

	// Billable links (processo_id / consultivo_id).
	CaseID         string
	ConsultationID string

	RecurrenceID string
	SourceDate   *dates.Date
	DeletedAt    *time.Time
}

// HasBillableLink reports whether completing the task requires a time-entry step.
func (t Task) HasBillableLink() bool {
	return t.CaseID != "" || t.ConsultationID != ""
}

func (t Task) IsFixed() bool { return t.Subtype == SubtypeFixed }

// Event is a row of the events table. Procedural deadlines are events with
// Subtype == SubtypeProceduralDeadline.
type Event struct {
	ID       string
	OfficeID string

	Title        string
	Subtype      Subtype
	Status       Status
	Priority     Priority
	AssigneeName string
	CaseNumber   string
	Location     string
	AllDay       bool

	Start time.Time
	End   *time.Time

	CaseID string

	RecurrenceID string
	SourceDate   *dates.Date
	DeletedAt    *time.Time
}

// Hearing is a row of the hearings table. ExternalUID is set for hearings
// imported from a court calendar feed.
type Hearing struct {
	ID       string
	OfficeID string

	Title        string
	Status       Status
	AssigneeName string
	CaseNumber   string
	Location     string
	At           time.Time

	CaseID      string
	ExternalUID string
	FeedID      string
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// RecurrenceRule generates occurrences of its template entity. Rules are
// never hard-deleted; deactivation is terminal.
type RecurrenceRule struct {
	ID         string
	OfficeID   string
	EntityKind Kind
	TemplateID string

	Frequency Frequency
	Interval  int
	Anchor    dates.Date
	Until     *dates.Date

	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

type TimerStatus string

const (
	TimerRunning   TimerStatus = "running"
	TimerPaused    TimerStatus = "paused"
	TimerFinalized TimerStatus = "finalized"
	TimerDiscarded TimerStatus = "discarded"
)

// Ended reports whether the timer reached one of its terminal states.
func (s TimerStatus) Ended() bool {
	return s == TimerFinalized || s == TimerDiscarded
}

type Timer struct {
	ID             string `json:"id"`
	OfficeID       string `json:"office_id"`
	UserID         string `json:"user_id"`
	TaskID         string `json:"task_id"`
	CaseID         string `json:"case_id,omitempty"`
	ConsultationID string `json:"consultation_id,omitempty"`

	Status    TimerStatus `json:"status"`
	StartedAt time.Time   `json:"started_at"`
	// ResumedAt is when the current running segment began; nil while paused.
	ResumedAt   *time.Time    `json:"resumed_at,omitempty"`
	Accumulated time.Duration `json:"accumulated_ns"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
}

// Elapsed returns the total tracked time as of now.
func (t Timer) Elapsed(now time.Time) time.Duration {
	total := t.Accumulated
	if t.Status == TimerRunning && t.ResumedAt != nil && now.After(*t.ResumedAt) {
		total += now.Sub(*t.ResumedAt)
	}
	return total
}

// TimesheetEntry is immutable once written.
type TimesheetEntry struct {
	ID             string `json:"id"`
	OfficeID       string `json:"office_id"`
	UserID         string `json:"user_id"`
	TaskID         string `json:"task_id"`
	CaseID         string `json:"case_id,omitempty"`
	ConsultationID string `json:"consultation_id,omitempty"`
	TimerID        string `json:"timer_id,omitempty"`

	WorkDate    dates.Date `json:"work_date"`
	Minutes     int        `json:"minutes"`
	Billable    bool       `json:"billable"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
