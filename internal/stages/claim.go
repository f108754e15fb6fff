package stages

import "strings"

// ClaimPrefix marks a Story that a worker holds for the stage after the colon.
const ClaimPrefix = "Claimed:"

// ClaimMarker returns the transient stage value for a claimed Story.
func ClaimMarker(stage Stage) Stage {
	return Stage(ClaimPrefix + string(stage))
}

// ParseClaimMarker returns the underlying stage of a claim marker.
func ParseClaimMarker(value Stage) (Stage, bool) {
	rest, ok := strings.CutPrefix(string(value), ClaimPrefix)
	if !ok || rest == "" {
		return "", false
	}
	return Stage(rest), true
}

// BaseStage strips a claim marker if present.
func BaseStage(value Stage) Stage {
	if base, ok := ParseClaimMarker(value); ok {
		return base
	}
	return value
}
