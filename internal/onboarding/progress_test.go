package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stepA Step = "a"
	stepB Step = "b"
	stepC Step = "c"
	stepD Step = "completed"
)

var testRegistry = MustNewRegistry(stepA, stepB, stepC, stepD)

func TestNextStep(t *testing.T) {
	tests := []struct {
		name      string
		current   Step
		completed StepList
		want      Step
	}{
		{"first step fresh", stepA, StepList{stepA}, stepB},
		{"skips completed later steps", stepA, StepList{stepA, stepB}, stepC},
		{"nothing left returns terminal", stepB, StepList{stepA, stepB, stepC}, stepD},
		{"terminal returns terminal", stepD, StepList{stepA, stepB, stepC, stepD}, stepD},
		{"earlier gaps are not revisited", stepC, StepList{stepC}, stepD},
		{"unknown current scans from start", Step("nope"), StepList{stepA}, stepB},
		{"empty completed", stepA, nil, stepB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testRegistry.NextStep(tt.current, tt.completed))
		})
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name      string
		completed StepList
		want      int
	}{
		{"none", nil, 0},
		{"one of three", StepList{stepA}, 33},
		{"two of three rounds up", StepList{stepA, stepB}, 67},
		{"all non-terminal", StepList{stepA, stepB, stepC}, 100},
		{"terminal excluded", StepList{stepA, stepB, stepC, stepD}, 100},
		{"terminal alone", StepList{stepD}, 0},
		{"out of order", StepList{stepC, stepA}, 67},
		{"duplicates counted once", StepList{stepA, stepA, stepA}, 33},
		{"unknown ignored", StepList{"x", "y", stepB}, 33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testRegistry.ProgressPercent(tt.completed))
		})
	}
}

func TestProgressPercent_DefaultRegistry(t *testing.T) {
	assert.Equal(t, 13, DefaultRegistry.ProgressPercent(StepList{StepRegistration}))
	assert.Equal(t, 50, DefaultRegistry.ProgressPercent(StepList{
		StepRegistration, StepEmailVerification, StepCompanySetup, StepIndustrySelection,
	}))
	assert.Equal(t, 100, DefaultRegistry.ProgressPercent(StepList(DefaultRegistry.Steps())))
}

func TestProgressPercent_Deterministic(t *testing.T) {
	completed := StepList{stepB, stepA}
	first := testRegistry.ProgressPercent(completed)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, testRegistry.ProgressPercent(completed))
	}
}

func TestOrdered(t *testing.T) {
	got := testRegistry.Ordered(StepList{stepC, "x", stepA, stepD})
	assert.Equal(t, StepList{stepA, stepC, stepD}, got)
}

func TestNewRegistry(t *testing.T) {
	_, err := NewRegistry(stepA)
	assert.Error(t, err)

	_, err = NewRegistry(stepA, stepA, stepD)
	assert.Error(t, err)

	_, err = NewRegistry(stepA, "", stepD)
	assert.Error(t, err)

	r, err := NewRegistry(stepA, stepD)
	require.NoError(t, err)
	assert.Equal(t, stepA, r.First())
	assert.Equal(t, stepD, r.Terminal())
	assert.True(t, r.IsTerminal(stepD))
	assert.Equal(t, []Step{stepA}, r.NonTerminal())
	assert.Equal(t, -1, r.IndexOf(stepB))

	assert.Panics(t, func() { MustNewRegistry() })
}

func TestRegistry_StepsIsACopy(t *testing.T) {
	steps := testRegistry.Steps()
	steps[0] = "mutated"
	assert.Equal(t, stepA, testRegistry.First())
}

func TestStepList_ValueScan(t *testing.T) {
	in := StepList{stepA, stepB}
	v, err := in.Value()
	require.NoError(t, err)

	var out StepList
	require.NoError(t, out.Scan([]byte(v.(string))))
	assert.Equal(t, in, out)
}

func TestStepList_Union(t *testing.T) {
	l := StepList{stepA}
	got := l.Union(stepB, stepA, stepB)
	assert.Equal(t, StepList{stepA, stepB}, got)
	assert.Equal(t, StepList{stepA}, l)
}
