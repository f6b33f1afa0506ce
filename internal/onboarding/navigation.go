package onboarding

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// DefaultRoute is used for steps without a mapped route
const DefaultRoute = "/dashboard"

// StepRoutes maps each default step to its application route
var StepRoutes = map[Step]string{
	StepRegistration:      "/signup",
	StepEmailVerification: "/verify-email",
	StepCompanySetup:      "/company-setup",
	StepIndustrySelection: "/industry-selection",
	StepPlanSelection:     "/plan-selection",
	StepTeamInvitation:    "/team-invitation",
	StepFirstProducts:     "/first-products",
	StepWelcomeTour:       "/welcome-tour",
	StepCompleted:         "/dashboard",
}

// Navigator moves the client UI to a route
type Navigator interface {
	NavigateTo(ctx context.Context, route string) error
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(ctx context.Context, route string) error

func (f NavigatorFunc) NavigateTo(ctx context.Context, route string) error {
	return f(ctx, route)
}

// Navigators sends every navigation to each of its members
type Navigators []Navigator

func (n Navigators) NavigateTo(ctx context.Context, route string) error {
	var errs []error
	for _, nav := range n {
		if err := nav.NavigateTo(ctx, route); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Target is the (company, user) pair a navigation is meant for
type Target struct {
	CompanyID uuid.UUID
	UserID    uuid.UUID
}

type targetKey struct{}

func withTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, targetKey{}, t)
}

// TargetFrom returns the pair attached to a navigation context by the orchestrator
func TargetFrom(ctx context.Context) (Target, bool) {
	t, ok := ctx.Value(targetKey{}).(Target)
	return t, ok
}

// Redirect collects the route a request should send its client to
type Redirect struct {
	mu    sync.Mutex
	route string
}

// Route returns the last route navigated to, or ""
func (r *Redirect) Route() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.route
}

type redirectKey struct{}

// WithRedirect attaches a Redirect to ctx for RedirectNavigator to fill in
func WithRedirect(ctx context.Context) (context.Context, *Redirect) {
	r := &Redirect{}
	return context.WithValue(ctx, redirectKey{}, r), r
}

// RedirectNavigator records navigation into the Redirect attached to the context.
// HTTP handlers use it to return the target route to the client.
type RedirectNavigator struct{}

func (RedirectNavigator) NavigateTo(ctx context.Context, route string) error {
	if r, ok := ctx.Value(redirectKey{}).(*Redirect); ok {
		r.mu.Lock()
		r.route = route
		r.mu.Unlock()
	}
	return nil
}
