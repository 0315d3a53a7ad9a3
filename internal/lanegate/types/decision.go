package types

// Outcome is the result of deciding one tag read.
type Outcome int

const (
	OutcomeGranted Outcome = iota + 1
	OutcomeDeniedCooldown
	OutcomeDeniedCrossLane
	OutcomeDeniedNotFound

	// OutcomeDuplicate marks a read dropped by the same-second dedup.
	// It is never persisted.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeDeniedCooldown:
		return "denied_cooldown"
	case OutcomeDeniedCrossLane:
		return "denied_cross_lane"
	case OutcomeDeniedNotFound:
		return "denied_not_found"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Granted reports whether the outcome opens the barrier.
func (o Outcome) Granted() bool { return o == OutcomeGranted }

// Decision reasons recorded in the audit log.
const (
	ReasonMember          = "member"
	ReasonActuationFailed = "actuation_failed"
	ReasonCooldown        = "cooldown"
	ReasonCrossLane       = "cross_lane_blocked"
	ReasonNotFound        = "not_found"
	ReasonLookupError     = "lookup_error"
	ReasonDuplicate       = "duplicate_read"
)

type AccessDecision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}
