// Package metrics exposes alarmd counters as Prometheus collectors.
package metrics

import (
	"strconv"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "alarmd"

// PrometheusRecorder implements the recorder interfaces of the store, status,
// rules and daemon packages. A nil *PrometheusRecorder records nothing.
type PrometheusRecorder struct {
	once             sync.Once
	commands         *prom.CounterVec
	alarmTransitions *prom.CounterVec
	alarmState       prom.Gauge
	messages         *prom.CounterVec
	statusRenders    prom.Counter
	storeWrites      *prom.CounterVec
	rulesRefresh     *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg
// together with the Go runtime and process collectors.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.commands = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched commands by action",
		}, []string{"action"})
		pr.alarmTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_transitions_total",
			Help:      "Alarm state transitions by target state",
		}, []string{"to"})
		pr.alarmState = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "alarm_state",
			Help:      "Current alarm state (0 idle, 1 pending, 2 sounding)",
		})
		pr.messages = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inspected messages by path and match result",
		}, []string{"path", "matched"})
		pr.statusRenders = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "status_renders_total",
			Help:      "Status texts emitted to the sink",
		})
		pr.storeWrites = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Background store writes by key and result",
		}, []string{"key", "result"})
		pr.rulesRefresh = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "rules_refresh_total",
			Help:      "Rule subscription refreshes by result",
		}, []string{"result"})
		reg.MustRegister(pr.commands, pr.alarmTransitions, pr.alarmState, pr.messages,
			pr.statusRenders, pr.storeWrites, pr.rulesRefresh)
		reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	})
	return pr
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (p *PrometheusRecorder) IncCommand(action string) {
	if p == nil || p.commands == nil {
		return
	}
	p.commands.WithLabelValues(action).Inc()
}

// ObserveAlarmTransition counts a transition into state to and sets the
// state gauge to its numeric value.
func (p *PrometheusRecorder) ObserveAlarmTransition(to string, value int) {
	if p == nil || p.alarmTransitions == nil {
		return
	}
	p.alarmTransitions.WithLabelValues(to).Inc()
	p.alarmState.Set(float64(value))
}

func (p *PrometheusRecorder) IncMessage(path string, matched bool) {
	if p == nil || p.messages == nil {
		return
	}
	p.messages.WithLabelValues(path, strconv.FormatBool(matched)).Inc()
}

func (p *PrometheusRecorder) IncStatusRender() {
	if p == nil || p.statusRenders == nil {
		return
	}
	p.statusRenders.Inc()
}

func (p *PrometheusRecorder) IncStoreWrite(key string, ok bool) {
	if p == nil || p.storeWrites == nil {
		return
	}
	p.storeWrites.WithLabelValues(key, result(ok)).Inc()
}

func (p *PrometheusRecorder) IncRulesRefresh(ok bool) {
	if p == nil || p.rulesRefresh == nil {
		return
	}
	p.rulesRefresh.WithLabelValues(result(ok)).Inc()
}
