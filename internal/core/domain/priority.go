package domain

import "fmt"

// JobPriority orders jobs for dispatch. Lower value = dispatched earlier.
// Declaration order and numeric order agree on purpose: every code path that
// ranks priorities (queue scan, sorting, scoring) uses this single ordering.
type JobPriority int

const (
	// PriorityImmediate is reserved; no API produces it today.
	PriorityImmediate JobPriority = iota
	PriorityCritical
	PriorityUrgent
	PriorityHigh
	PriorityRegular
	PriorityLow
	PriorityDeferred
)

// DispatchOrder lists every priority tier from most to least urgent.
// The queue scans sub-queues in exactly this order.
func DispatchOrder() []JobPriority {
	return []JobPriority{
		PriorityImmediate,
		PriorityCritical,
		PriorityUrgent,
		PriorityHigh,
		PriorityRegular,
		PriorityLow,
		PriorityDeferred,
	}
}

func (p JobPriority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityCritical:
		return "critical"
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityRegular:
		return "regular"
	case PriorityLow:
		return "low"
	case PriorityDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ParsePriority converts the string form back to a JobPriority.
func ParsePriority(s string) (JobPriority, error) {
	for _, p := range DispatchOrder() {
		if p.String() == s {
			return p, nil
		}
	}
	return PriorityRegular, fmt.Errorf("unknown priority %q", s)
}

// SpeedFactor scales simulated execution delay: urgent work runs faster.
func (p JobPriority) SpeedFactor() float64 {
	switch p {
	case PriorityImmediate, PriorityCritical, PriorityUrgent:
		return 0.5
	case PriorityHigh:
		return 0.75
	case PriorityLow:
		return 1.5
	case PriorityDeferred:
		return 2.0
	default:
		return 1.0
	}
}
