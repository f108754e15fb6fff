package stage

import "storyforge/internal/stages"

// Health is a handler's answer to "could you process a Story right now".
type Health struct {
	Stage  stages.Stage `json:"stage"`
	Ready  bool         `json:"ready"`
	Detail string       `json:"detail,omitempty"`
}

func Healthy(stage stages.Stage, detail string) Health {
	return Health{Stage: stage, Ready: true, Detail: detail}
}

func Unhealthy(stage stages.Stage, detail string) Health {
	return Health{Stage: stage, Detail: detail}
}

func (h Health) String() string {
	state := "not ready"
	if h.Ready {
		state = "ready"
	}
	if h.Detail == "" {
		return string(h.Stage) + ": " + state
	}
	return string(h.Stage) + ": " + state + " (" + h.Detail + ")"
}
