package model

import "fmt"

// Action is a do-action command id. The numeric values are part of the wire format.
type Action int

const (
	ActionStartAlarm       Action = 100
	ActionStopAlarm        Action = 101
	ActionStartObservation Action = 102
	ActionStopObservation  Action = 103
)

var actionNames = map[Action]string{
	ActionStartAlarm:       "start_alarm",
	ActionStopAlarm:        "stop_alarm",
	ActionStartObservation: "start_observation",
	ActionStopObservation:  "stop_observation",
}

func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction accepts either the action name or its numeric id.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && Action(n).Valid() {
		return Action(n), nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// ActionParams is the payload of a do_action request.
type ActionParams struct {
	Action Action `json:"action"`
}

// ClickParams is the payload of a click request. N defaults to 1.
type ClickParams struct {
	N int64 `json:"n"`
}

// ServiceParams is the payload of a service request.
type ServiceParams struct {
	Running bool `json:"running"`
}

// SettingParams is the payload of a settings_set request.
type SettingParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
