package onboarding

import (
	"database/sql/driver"
	"fmt"

	"github.com/lib/pq"
)

// Step is one stage of the onboarding sequence
type Step string

const (
	StepRegistration      Step = "registration"
	StepEmailVerification Step = "email_verification"
	StepCompanySetup      Step = "company_setup"
	StepIndustrySelection Step = "industry_selection"
	StepPlanSelection     Step = "plan_selection"
	StepTeamInvitation    Step = "team_invitation"
	StepFirstProducts     Step = "first_products"
	StepWelcomeTour       Step = "welcome_tour"
	StepCompleted         Step = "completed"
)

// DefaultRegistry is the canonical onboarding sequence
var DefaultRegistry = MustNewRegistry(
	StepRegistration,
	StepEmailVerification,
	StepCompanySetup,
	StepIndustrySelection,
	StepPlanSelection,
	StepTeamInvitation,
	StepFirstProducts,
	StepWelcomeTour,
	StepCompleted,
)

// Registry is a totally ordered list of steps. The last step is terminal.
type Registry struct {
	steps []Step
	index map[Step]int
}

// NewRegistry builds a registry from the ordered steps. At least one non-terminal
// step is required and steps must be unique.
func NewRegistry(steps ...Step) (Registry, error) {
	if len(steps) < 2 {
		return Registry{}, fmt.Errorf("registry needs at least two steps, got %d", len(steps))
	}
	index := make(map[Step]int, len(steps))
	for i, step := range steps {
		if step == "" {
			return Registry{}, fmt.Errorf("registry step %d is empty", i)
		}
		if _, dup := index[step]; dup {
			return Registry{}, fmt.Errorf("duplicate registry step %q", step)
		}
		index[step] = i
	}
	return Registry{
		steps: append([]Step(nil), steps...),
		index: index,
	}, nil
}

// MustNewRegistry is like NewRegistry but panics on an invalid step list
func MustNewRegistry(steps ...Step) Registry {
	r, err := NewRegistry(steps...)
	if err != nil {
		panic(err)
	}
	return r
}

// Steps returns the ordered steps, terminal included
func (r Registry) Steps() []Step {
	return append([]Step(nil), r.steps...)
}

// NonTerminal returns the ordered steps that count towards progress
func (r Registry) NonTerminal() []Step {
	return append([]Step(nil), r.steps[:len(r.steps)-1]...)
}

// IndexOf returns the registry position of step, or -1
func (r Registry) IndexOf(step Step) int {
	if i, ok := r.index[step]; ok {
		return i
	}
	return -1
}

func (r Registry) Contains(step Step) bool {
	_, ok := r.index[step]
	return ok
}

func (r Registry) First() Step {
	return r.steps[0]
}

func (r Registry) Terminal() Step {
	return r.steps[len(r.steps)-1]
}

func (r Registry) IsTerminal(step Step) bool {
	return step == r.Terminal()
}

// StepList is a set of steps persisted as a postgres text[]
type StepList []Step

// Contains reports whether step is in the list
func (l StepList) Contains(step Step) bool {
	for _, s := range l {
		if s == step {
			return true
		}
	}
	return false
}

// Union returns l with the missing steps of other appended
func (l StepList) Union(other ...Step) StepList {
	out := append(StepList(nil), l...)
	for _, step := range other {
		if !out.Contains(step) {
			out = append(out, step)
		}
	}
	return out
}

// Value implements driver.Valuer
func (l StepList) Value() (driver.Value, error) {
	arr := make(pq.StringArray, len(l))
	for i, s := range l {
		arr[i] = string(s)
	}
	return arr.Value()
}

// Scan implements sql.Scanner
func (l *StepList) Scan(value interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(value); err != nil {
		return fmt.Errorf("failed to scan steps: %w", err)
	}
	out := make(StepList, len(arr))
	for i, s := range arr {
		out[i] = Step(s)
	}
	*l = out
	return nil
}
