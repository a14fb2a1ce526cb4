package funnel

import "leadfunnel/models"

// CanAccessStep reports whether a visitor may enter step requested of the
// funnel given the steps already completed. Step 1 is always reachable; step
// N needs every step 1..N-1. Steps outside the funnel are never reachable.
func CanAccessStep(funnelType models.FunnelType, requested int, completed models.CompletedSteps) bool {
	def, ok := models.Lookup(funnelType)
	if !ok || requested < 1 || requested > def.TotalSteps() {
		return false
	}
	for n := 1; n < requested; n++ {
		if !completed.Has(n) {
			return false
		}
	}
	return true
}

// FirstLockedStep returns the lowest step that is not yet reachable, or 0 when
// every step is reachable.
func FirstLockedStep(funnelType models.FunnelType, completed models.CompletedSteps) int {
	def, ok := models.Lookup(funnelType)
	if !ok {
		return 0
	}
	for n := 1; n <= def.TotalSteps(); n++ {
		if !CanAccessStep(funnelType, n, completed) {
			return n
		}
	}
	return 0
}

// ResumeStep is the furthest step the visitor may land on: one past the
// contiguous run of completed steps, capped at the last step.
func ResumeStep(funnelType models.FunnelType, completed models.CompletedSteps) int {
	def, ok := models.Lookup(funnelType)
	if !ok {
		return 1
	}
	step := 1
	for step < def.TotalSteps() && completed.Has(step) {
		step++
	}
	return step
}
