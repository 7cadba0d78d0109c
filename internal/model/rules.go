package model

// RuleSummary is a count-only view of the loaded rule subscriptions.
type RuleSummary struct {
	GlobalGroups int `json:"global_groups"`
	AppSize      int `json:"app_size"`
	AppGroupSize int `json:"app_group_size"`
}

// Empty reports whether no global group and no app rules are loaded.
func (r RuleSummary) Empty() bool {
	return r.GlobalGroups+r.AppSize == 0
}

// Subscription is one rule subscription file.
type Subscription struct {
	ID           int64       `yaml:"id"`
	Name         string      `yaml:"name"`
	Version      int         `yaml:"version"`
	GlobalGroups []RuleGroup `yaml:"global_groups"`
	Apps         []AppRules  `yaml:"apps"`
}

type AppRules struct {
	ID     string      `yaml:"id"`
	Groups []RuleGroup `yaml:"groups"`
}

type RuleGroup struct {
	Key    int    `yaml:"key"`
	Name   string `yaml:"name"`
	Enable *bool  `yaml:"enable,omitempty"`
}

// Enabled treats a missing enable flag as enabled.
func (g RuleGroup) Enabled() bool {
	return g.Enable == nil || *g.Enable
}
