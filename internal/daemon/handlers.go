package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/msageha/alarmd/internal/model"
	"github.com/msageha/alarmd/internal/status"
	"github.com/msageha/alarmd/internal/store"
	"github.com/msageha/alarmd/internal/uds"
)

const handlerTimeout = 5 * time.Second

// RulesReloadResult is the response of rules_reload. Warning is set when
// some rule files could not be read.
type RulesReloadResult struct {
	Rules   model.RuleSummary `json:"rules"`
	Warning string            `json:"warning,omitempty"`
}

// DeliverResult is the response of deliver.
type DeliverResult struct {
	Matched bool `json:"matched"`
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})
	d.server.Handle("status", d.handleStatus)
	d.server.Handle("do_action", d.handleDoAction)
	d.server.Handle("message", d.handleMessage)
	d.server.Handle("deliver", d.handleDeliver)
	d.server.Handle("click", d.handleClick)
	d.server.Handle("service", d.handleService)
	d.server.Handle("settings_get", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.settings.Get())
	})
	d.server.Handle("settings_set", d.handleSettingsSet)
	d.server.Handle("rules_reload", d.handleRulesReload)
	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.logger.Info("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func invalidParams(err error) *uds.Response {
	return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
}

// Report assembles the current daemon state.
func (d *Daemon) Report() status.Report {
	in := d.aggregator.Inputs()
	return status.Report{
		Daemon:         status.DaemonStatus{Running: true, PID: os.Getpid()},
		Alarm:          d.scheduler.Snapshot(),
		Observing:      d.observer.Registered(),
		Text:           d.aggregator.Text(),
		ServiceRunning: in.ServiceRunning,
		ClickCount:     d.records.Get().ClickCount,
		Rules:          in.Summary,
		Notifications:  d.center.Active(),
	}
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(d.Report())
}

func (d *Daemon) handleDoAction(req *uds.Request) *uds.Response {
	var params model.ActionParams
	if err := req.DecodeParams(&params); err != nil {
		return invalidParams(err)
	}
	if !params.Action.Valid() {
		d.Dispatch(params.Action)
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("unknown action %d", int(params.Action)))
	}
	d.Dispatch(params.Action)
	return uds.SuccessResponse(d.scheduler.Snapshot())
}

func (d *Daemon) handleMessage(req *uds.Request) *uds.Response {
	var params model.MessageParams
	if err := req.DecodeParams(&params); err != nil {
		return invalidParams(err)
	}
	if params.Body == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "body is required")
	}

	ctx, cancel := context.WithTimeout(d.ctx, handlerTimeout)
	defer cancel()
	msg, err := d.inbox.Insert(ctx, params.From, params.Body)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(msg)
}

func (d *Daemon) handleDeliver(req *uds.Request) *uds.Response {
	var delivery model.Delivery
	if err := req.DecodeParams(&delivery); err != nil {
		return invalidParams(err)
	}
	if len(delivery.Parts) == 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "delivery has no parts")
	}
	return uds.SuccessResponse(DeliverResult{Matched: d.receiver.Handle(delivery)})
}

func (d *Daemon) handleClick(req *uds.Request) *uds.Response {
	params := model.ClickParams{N: 1}
	if err := req.DecodeParams(&params); err != nil {
		return invalidParams(err)
	}
	if params.N <= 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "n must be positive")
	}

	records := store.IncreaseClickCount(d.records, params.N)
	if st := d.settings.Get(); st.ToastWhenClick && st.ClickToast != "" {
		d.center.Toast(st.ClickToast)
	}
	return uds.SuccessResponse(records)
}

func (d *Daemon) handleService(req *uds.Request) *uds.Response {
	var params model.ServiceParams
	if err := req.DecodeParams(&params); err != nil {
		return invalidParams(err)
	}
	d.aggregator.SetServiceRunning(params.Running)
	d.logger.Info("service flag changed", "running", params.Running)
	return uds.SuccessResponse(params)
}

func (d *Daemon) handleSettingsSet(req *uds.Request) *uds.Response {
	var params model.SettingParams
	if err := req.DecodeParams(&params); err != nil {
		return invalidParams(err)
	}

	var applyErr error
	next := d.settings.Update(func(s model.Settings) model.Settings {
		updated, err := model.ApplySetting(s, params.Key, params.Value)
		if err != nil {
			applyErr = err
			return s
		}
		return updated
	})
	if applyErr != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, applyErr.Error())
	}
	d.logger.Info("setting updated", "key", params.Key)
	return uds.SuccessResponse(next)
}

func (d *Daemon) handleRulesReload(req *uds.Request) *uds.Response {
	summary, err := d.refresher.Reload()
	result := RulesReloadResult{Rules: summary}
	if err != nil {
		result.Warning = err.Error()
	}
	return uds.SuccessResponse(result)
}
