// Package phase drives a feature through research, design, task breakdown
// and done, refusing the design gate while the plan is incomplete or breaks
// a blocking constitution rule.
package phase

import (
	"fmt"
	"strings"
)

// Phase is a step of a feature's planning lifecycle.
type Phase string

const (
	// Research gathers the spec and constitution. Nothing is gated yet.
	Research Phase = "research"
	// Design drafts the plan checked by the design gate.
	Design Phase = "design"
	// TaskBreakdown turns an accepted plan into tasks.
	TaskBreakdown Phase = "task_breakdown"
	// Done is terminal.
	Done Phase = "done"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsValid returns true if the phase is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case Research, Design, TaskBreakdown, Done:
		return true
	default:
		return false
	}
}

// ParsePhase converts a user-supplied string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid phase %q: must be one of: research, design, task_breakdown, done", s)
	}
	return p, nil
}

// Trigger names what moves a feature out of a phase.
type Trigger string

const (
	// TriggerOpen creates a feature in Research. It is not a move between
	// phases and has no row in the table.
	TriggerOpen Trigger = "open"
	// TriggerAdvance is a caller request to move on, checked by the guard.
	TriggerAdvance Trigger = "advance"
	// TriggerComplete is external confirmation that tasks were generated.
	TriggerComplete Trigger = "complete"
)

// transition is one row of the lifecycle table.
type transition struct {
	from    Phase
	to      Phase
	trigger Trigger
	gated   bool
}

// transitions is the complete lifecycle. Any move not listed is refused.
var transitions = []transition{
	{from: Research, to: Design, trigger: TriggerAdvance},
	{from: Design, to: TaskBreakdown, trigger: TriggerAdvance, gated: true},
	{from: TaskBreakdown, to: Done, trigger: TriggerComplete},
}

// next returns the transition a trigger fires from p.
func next(p Phase, t Trigger) (transition, bool) {
	for _, tr := range transitions {
		if tr.from == p && tr.trigger == t {
			return tr, true
		}
	}
	return transition{}, false
}

// CanTransitionTo returns true if the lifecycle has a move from p to target.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, tr := range transitions {
		if tr.from == p && tr.to == target {
			return true
		}
	}
	return false
}

// Gated reports whether leaving p requires the design gate.
func (p Phase) Gated() bool {
	tr, ok := next(p, TriggerAdvance)
	return ok && tr.gated
}
