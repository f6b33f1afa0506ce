package onboarding

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by a Repository when no record exists for the pair
	ErrNotFound = errors.New("onboarding record not found")
	// ErrUnknownStep is returned for steps outside the registry
	ErrUnknownStep = errors.New("unknown onboarding step")
	// ErrInvalidPayload is returned when step data does not match the step's schema
	ErrInvalidPayload = errors.New("invalid step data")
	// ErrAlreadyCompleted is returned when a transition would leave the terminal step
	ErrAlreadyCompleted = errors.New("onboarding already completed")
	// ErrTransitionInProgress is returned by orchestrator actions while another one runs
	ErrTransitionInProgress = errors.New("onboarding transition already in progress")
	// ErrDuplicateTrigger is returned when a trigger id was already handled within the dedup window
	ErrDuplicateTrigger = errors.New("duplicate onboarding trigger")
)

// DefaultSkipReason is recorded when a step is skipped without a reason
const DefaultSkipReason = "user_skipped"

const resetKeyPrefix = "_reset:"

// Payload is free-form business data attached to a step
type Payload map[string]any

func (p Payload) clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// StepEntry is the value stored under a step_data key
type StepEntry struct {
	Data        Payload    `json:"data,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Skipped     bool       `json:"skipped,omitempty"`
	SkipReason  string     `json:"skip_reason,omitempty"`
	SkippedAt   *time.Time `json:"skipped_at,omitempty"`
	Reset       bool       `json:"reset,omitempty"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
}

// Decode unmarshals the entry's data into v, typically one of the step schema structs
func (e StepEntry) Decode(v any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// StepData maps step names, and synthetic reset keys, to their entries
type StepData map[string]StepEntry

// ResetKey returns the synthetic step_data key for a reset performed at t
func ResetKey(t time.Time) string {
	return resetKeyPrefix + t.UTC().Format(time.RFC3339Nano)
}

// IsResetKey reports whether key is a reset marker key
func IsResetKey(key string) bool {
	return strings.HasPrefix(key, resetKeyPrefix)
}

// Entry returns the entry for step, or an empty entry
func (d StepData) Entry(step Step) StepEntry {
	return d[string(step)]
}

func (d StepData) clone() StepData {
	if d == nil {
		return StepData{}
	}
	out := make(StepData, len(d))
	for k, v := range d {
		v.Data = v.Data.clone()
		out[k] = v
	}
	return out
}

// Value implements driver.Valuer
func (d StepData) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner
func (d *StepData) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*d = StepData{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported step_data type %T", value)
	}
	out := StepData{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to unmarshal step_data: %w", err)
	}
	*d = out
	return nil
}

// Record is the durable onboarding state of one (company, user) pair
type Record struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	CompanyID      uuid.UUID  `json:"company_id" db:"company_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	CurrentStep    Step       `json:"current_step" db:"current_step"`
	StepsCompleted StepList   `json:"steps_completed" db:"steps_completed"`
	StepData       StepData   `json:"step_data" db:"step_data"`
	LastActivityAt time.Time  `json:"last_activity_at" db:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.StepsCompleted = append(StepList(nil), r.StepsCompleted...)
	out.StepData = r.StepData.clone()
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// RecordUpdate is a partial update applied by a Repository with merge semantics:
// AddSteps is unioned into steps_completed (after clearing when ClearSteps is set),
// StepData is shallow-merged into step_data, and CompletedAt is only written when the
// stored value is empty. While the stored record is completed, CurrentStep is ignored
// unless ClearCompletedAt is set.
type RecordUpdate struct {
	CurrentStep      Step
	AddSteps         []Step
	ClearSteps       bool
	StepData         StepData
	LastActivityAt   time.Time
	CompletedAt      *time.Time
	ClearCompletedAt bool
}

// Status is the caller-facing projection of a Record
type Status struct {
	CompanyID       uuid.UUID  `json:"company_id"`
	UserID          uuid.UUID  `json:"user_id"`
	CurrentStep     Step       `json:"current_step"`
	NextStep        Step       `json:"next_step"`
	StepsCompleted  StepList   `json:"steps_completed"`
	Progress        int        `json:"progress"`
	IsCompleted     bool       `json:"is_completed"`
	NeedsOnboarding bool       `json:"needs_onboarding"`
	StepData        StepData   `json:"step_data"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
}

// NewStatus projects rec through the registry
func NewStatus(registry Registry, rec *Record) *Status {
	current := rec.CurrentStep
	if !registry.Contains(current) {
		current = registry.First()
	}
	completed := registry.Ordered(rec.StepsCompleted)
	isCompleted := registry.IsTerminal(current)
	return &Status{
		CompanyID:       rec.CompanyID,
		UserID:          rec.UserID,
		CurrentStep:     current,
		NextStep:        registry.NextStep(current, completed),
		StepsCompleted:  completed,
		Progress:        registry.ProgressPercent(completed),
		IsCompleted:     isCompleted,
		NeedsOnboarding: !isCompleted,
		StepData:        rec.StepData.clone(),
		CompletedAt:     rec.CompletedAt,
		LastActivityAt:  rec.LastActivityAt,
	}
}

// StepInfo describes one step for progress indicators
type StepInfo struct {
	Step       Step      `json:"step"`
	Index      int       `json:"index"`
	Route      string    `json:"route"`
	IsActive   bool      `json:"is_active"`
	IsComplete bool      `json:"is_complete"`
	IsPending  bool      `json:"is_pending"`
	Data       StepEntry `json:"data"`
}
