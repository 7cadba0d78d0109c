package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/msageha/alarmd/internal/alarm"
	"github.com/msageha/alarmd/internal/daemon"
	"github.com/msageha/alarmd/internal/model"
	"github.com/msageha/alarmd/internal/notify"
	"github.com/msageha/alarmd/internal/rules"
	"github.com/msageha/alarmd/internal/setup"
	"github.com/msageha/alarmd/internal/status"
	"github.com/msageha/alarmd/internal/uds"
)

// call sends command to the daemon and decodes the response data into out
// when out is non-nil.
func (g *Globals) call(command string, params, out any) error {
	dir, err := g.dataDir()
	if err != nil {
		return err
	}
	return uds.ForDataDir(dir).Call(command, params, out)
}

func (g *Globals) printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = g.out.Write(data)
	return err
}

func printJSON(g *Globals, v any) error {
	enc := json.NewEncoder(g.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type SetupCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Directory to create .alarmd/ in" type:"path"`
}

func (c *SetupCmd) Run(g *Globals) error {
	base, err := setup.Run(c.Path)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	fmt.Fprintf(g.out, "Initialized %s\n", base)
	return nil
}

type DaemonCmd struct {
	LogLevel      string `help:"Log level (debug|info|warn|error)" env:"ALARMD_LOG_LEVEL"`
	NATSURL       string `name:"nats-url" help:"NATS server to connect to" env:"ALARMD_NATS_URL"`
	MetricsListen string `help:"Address to serve /metrics on" env:"ALARMD_METRICS_LISTEN"`
}

func (c *DaemonCmd) Run(g *Globals) error {
	dir, err := g.dataDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	if v := envOr(c.LogLevel, "ALARMD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := envOr(c.NATSURL, "ALARMD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := envOr(c.MetricsListen, "ALARMD_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}

	d, err := daemon.New(dir, cfg)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	return d.Run()
}

type StatusCmd struct {
	JSON bool `help:"Print the report as JSON"`
}

func (c *StatusCmd) Run(g *Globals) error {
	dir, err := g.dataDir()
	if err != nil {
		return err
	}
	return status.Run(dir, c.JSON, g.out)
}

type AlarmCmd struct {
	Op string `arg:"" enum:"start,stop" help:"start or stop"`
}

func (c *AlarmCmd) Run(g *Globals) error {
	action := model.ActionStartAlarm
	if c.Op == "stop" {
		action = model.ActionStopAlarm
	}
	var snap alarm.Snapshot
	if err := g.call("do_action", model.ActionParams{Action: action}, &snap); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "alarm %s\n", snap.State)
	return nil
}

type ObserveCmd struct {
	Op string `arg:"" enum:"start,stop" help:"start or stop"`
}

func (c *ObserveCmd) Run(g *Globals) error {
	action := model.ActionStartObservation
	if c.Op == "stop" {
		action = model.ActionStopObservation
	}
	if err := g.call("do_action", model.ActionParams{Action: action}, nil); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "observation %s\n", map[string]string{"start": "on", "stop": "off"}[c.Op])
	return nil
}

type ActionCmd struct {
	Action string `arg:"" help:"Action name or numeric id (100-103)"`
}

func (c *ActionCmd) Run(g *Globals) error {
	action, err := model.ParseAction(c.Action)
	if err != nil {
		return err
	}
	var snap alarm.Snapshot
	if err := g.call("do_action", model.ActionParams{Action: action}, &snap); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "%s sent, alarm %s\n", action, snap.State)
	return nil
}

type MessageCmd struct {
	From string `help:"Sender address"`
	Body string `arg:"" help:"Message text"`
}

func (c *MessageCmd) Run(g *Globals) error {
	var msg model.Message
	if err := g.call("message", model.MessageParams{From: c.From, Body: c.Body}, &msg); err != nil {
		return err
	}
	fmt.Fprintln(g.out, msg.ID)
	return nil
}

type DeliverCmd struct {
	From  string   `help:"Sender address of every part"`
	Parts []string `arg:"" help:"Message parts, in order"`
}

func (c *DeliverCmd) Run(g *Globals) error {
	d := model.Delivery{Format: "3gpp"}
	for _, p := range c.Parts {
		d.Parts = append(d.Parts, model.MessagePart{From: c.From, Body: p})
	}
	var res daemon.DeliverResult
	if err := g.call("deliver", d, &res); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "matched: %t\n", res.Matched)
	return nil
}

type ClickCmd struct {
	N int64 `short:"n" default:"1" help:"Amount to add"`
}

func (c *ClickCmd) Run(g *Globals) error {
	var rec model.Records
	if err := g.call("click", model.ClickParams{N: c.N}, &rec); err != nil {
		return err
	}
	fmt.Fprintf(g.out, "triggered: %d\n", rec.ClickCount)
	return nil
}

type ServiceCmd struct {
	State string `arg:"" enum:"on,off" help:"on or off"`
}

func (c *ServiceCmd) Run(g *Globals) error {
	return g.call("service", model.ServiceParams{Running: c.State == "on"}, nil)
}

type SettingsCmd struct {
	Get  SettingsGetCmd  `cmd:"" default:"1" help:"Print the current settings"`
	Set  SettingsSetCmd  `cmd:"" help:"Change one setting"`
	Keys SettingsKeysCmd `cmd:"" help:"List setting keys"`
}

type SettingsGetCmd struct {
	JSON bool `help:"Print as JSON"`
}

func (c *SettingsGetCmd) Run(g *Globals) error {
	var st model.Settings
	if err := g.call("settings_get", nil, &st); err != nil {
		return err
	}
	if c.JSON {
		return printJSON(g, st)
	}
	return g.printYAML(st)
}

type SettingsSetCmd struct {
	Key   string `arg:"" help:"Setting key"`
	Value string `arg:"" help:"New value"`
}

func (c *SettingsSetCmd) Run(g *Globals) error {
	var st model.Settings
	if err := g.call("settings_set", model.SettingParams{Key: c.Key, Value: c.Value}, &st); err != nil {
		return err
	}
	return g.printYAML(st)
}

type SettingsKeysCmd struct{}

func (c *SettingsKeysCmd) Run(g *Globals) error {
	for _, k := range model.SettingKeys() {
		fmt.Fprintln(g.out, k)
	}
	return nil
}

type RulesCmd struct {
	Reload  RulesReloadCmd  `cmd:"" help:"Ask the daemon to reload rule subscriptions"`
	Summary RulesSummaryCmd `cmd:"" default:"1" help:"Summarise rule files without the daemon"`
}

type RulesReloadCmd struct{}

func (c *RulesReloadCmd) Run(g *Globals) error {
	var res daemon.RulesReloadResult
	if err := g.call("rules_reload", nil, &res); err != nil {
		return err
	}
	printSummary(g, res.Rules)
	if res.Warning != "" {
		fmt.Fprintf(g.out, "warning: %s\n", res.Warning)
	}
	return nil
}

type RulesSummaryCmd struct{}

func (c *RulesSummaryCmd) Run(g *Globals) error {
	dir, err := g.dataDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	cfg.ApplyDefaults()
	summary, err := rules.LoadSummary(filepath.Join(dir, cfg.Rules.Dir))
	printSummary(g, summary)
	return err
}

func printSummary(g *Globals, s model.RuleSummary) {
	fmt.Fprintf(g.out, "%d global groups, %d apps, %d app groups\n", s.GlobalGroups, s.AppSize, s.AppGroupSize)
}

type NotifyCmd struct {
	Title   string `arg:"" help:"Notification title"`
	Message string `arg:"" help:"Notification text"`
}

func (c *NotifyCmd) Run(g *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), uds.DefaultClientTimeout)
	defer cancel()
	return notify.NewDesktopSender().Send(ctx, c.Title, c.Message)
}

type ShutdownCmd struct{}

func (c *ShutdownCmd) Run(g *Globals) error {
	if err := g.call("shutdown", nil, nil); err != nil {
		return err
	}
	fmt.Fprintln(g.out, "shutdown requested")
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.out, "alarmd %s\n", version)
	return nil
}
