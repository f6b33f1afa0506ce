package onboarding

import "math"

// NextStep returns the first step after current, in registry order, that is not in
// completed. When none remain it returns the terminal step. An unknown current step
// scans from the start of the registry.
func (r Registry) NextStep(current Step, completed StepList) Step {
	for i := r.IndexOf(current) + 1; i < len(r.steps); i++ {
		if !completed.Contains(r.steps[i]) {
			return r.steps[i]
		}
	}
	return r.Terminal()
}

// ProgressPercent returns the share of non-terminal steps present in completed,
// rounded half-up to an integer between 0 and 100.
func (r Registry) ProgressPercent(completed StepList) int {
	nonTerminal := len(r.steps) - 1
	seen := make(map[Step]struct{}, len(completed))
	count := 0
	for _, step := range completed {
		if !r.Contains(step) || r.IsTerminal(step) {
			continue
		}
		if _, dup := seen[step]; dup {
			continue
		}
		seen[step] = struct{}{}
		count++
	}
	return int(math.Round(100 * float64(count) / float64(nonTerminal)))
}

// Ordered returns the registry steps present in completed, in registry order.
// Unknown steps are dropped.
func (r Registry) Ordered(completed StepList) StepList {
	out := make(StepList, 0, len(completed))
	for _, step := range r.steps {
		if completed.Contains(step) {
			out = append(out, step)
		}
	}
	return out
}
