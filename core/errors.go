package core

import "errors"

// Typed errors surfaced to callers. Lifecycle errors (operating on a missing
// entity) are never silently ignored; configuration errors mark a unit that
// gets skipped, not a fatal condition.
var (
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrIncidentNotFound = errors.New("incident not found")
	ErrThreatNotFound   = errors.New("threat not found")
	ErrPlanNotFound     = errors.New("response plan not found")

	ErrIncidentResolved = errors.New("incident already resolved")

	ErrUnknownRuleKind     = errors.New("unknown rule kind")
	ErrUnknownDetectorKind = errors.New("unknown detector kind")
	ErrUnknownActionType   = errors.New("unknown action type")
)
