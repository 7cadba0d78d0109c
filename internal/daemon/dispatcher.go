package daemon

import (
	"log/slog"

	"github.com/msageha/alarmd/internal/events"
	"github.com/msageha/alarmd/internal/model"
)

// AlarmControl is the part of the alarm scheduler the dispatcher drives.
// The scheduler keeps the alarm notification in step with its state.
type AlarmControl interface {
	Start()
	Stop()
}

// ObservationControl toggles content observation.
type ObservationControl interface {
	Register()
	Unregister()
}

// CommandRecorder counts dispatched commands. A nil recorder is allowed.
type CommandRecorder interface {
	IncCommand(action string)
}

// Dispatcher maps do-action commands onto the alarm and the observer. It
// holds no lock of its own; concurrent commands are serialized by the
// components they reach.
type Dispatcher struct {
	alarm    AlarmControl
	observer ObservationControl
	logger   *slog.Logger
	eventBus *events.Bus
	recorder CommandRecorder
}

func NewDispatcher(alarm AlarmControl, observer ObservationControl, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		alarm:    alarm,
		observer: observer,
		logger:   logger.With("component", "dispatcher"),
	}
}

// SetEventBus sets the bus command events are published to.
func (d *Dispatcher) SetEventBus(bus *events.Bus) {
	d.eventBus = bus
}

func (d *Dispatcher) SetRecorder(r CommandRecorder) {
	d.recorder = r
}

// Dispatch runs action. Unknown ids are logged and ignored.
func (d *Dispatcher) Dispatch(action model.Action) {
	switch action {
	case model.ActionStartAlarm:
		d.alarm.Start()
	case model.ActionStopAlarm:
		d.alarm.Stop()
	case model.ActionStartObservation:
		d.observer.Register()
		d.publish(events.EventObservation, map[string]any{"registered": true})
	case model.ActionStopObservation:
		d.observer.Unregister()
		d.publish(events.EventObservation, map[string]any{"registered": false})
	default:
		d.logger.Debug("unknown command ignored", "code", int(action))
		if d.recorder != nil {
			d.recorder.IncCommand("unknown")
		}
		return
	}

	d.logger.Info("command dispatched", "action", action.String(), "code", int(action))
	if d.recorder != nil {
		d.recorder.IncCommand(action.String())
	}
	d.publish(events.EventCommand, map[string]any{"action": action.String(), "code": int(action)})
}

func (d *Dispatcher) publish(t events.EventType, data map[string]any) {
	if d.eventBus != nil {
		d.eventBus.Publish(t, data)
	}
}
