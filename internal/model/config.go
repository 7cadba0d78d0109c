// Package model defines the data structures for alarmd's configuration, persisted settings, commands and messages.
package model

type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Inbox   InboxConfig   `yaml:"inbox"`
	Rules   RulesConfig   `yaml:"rules"`
	Sound   SoundConfig   `yaml:"sound"`
	Notify  NotifyConfig  `yaml:"notify"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
	Audit   AuditConfig   `yaml:"audit"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
	// ObserveOnStart registers message observation when the daemon starts.
	ObserveOnStart bool `yaml:"observe_on_start"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // "file" or "sqlite"
	Dir     string `yaml:"dir"`     // relative to the data dir
}

type InboxConfig struct {
	DB      string `yaml:"db"`       // sqlite file, relative to the data dir
	DropDir string `yaml:"drop_dir"` // watched for *.yaml message files
}

type RulesConfig struct {
	Dir string `yaml:"dir"`
}

type SoundConfig struct {
	Player       string   `yaml:"player"`      // executable used to play a sound file once
	PlayerArgs   []string `yaml:"player_args"` // extra args placed before the file path
	Alarm        string   `yaml:"alarm"`
	Notification string   `yaml:"notification"`
	Ringtone     string   `yaml:"ringtone"`
}

type NotifyConfig struct {
	Desktop bool   `yaml:"desktop"`
	Title   string `yaml:"title"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	EmbeddedPort  int    `yaml:"embedded_port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type AuditConfig struct {
	Enabled   bool  `yaml:"enabled"`
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.Dir == "" {
		c.Store.Dir = "settings"
	}
	if c.Inbox.DB == "" {
		c.Inbox.DB = "inbox.db"
	}
	if c.Inbox.DropDir == "" {
		c.Inbox.DropDir = "inbox"
	}
	if c.Rules.Dir == "" {
		c.Rules.Dir = "rules"
	}
	if c.Notify.Title == "" {
		c.Notify.Title = "alarmd"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "alarmd"
	}
	if c.Audit.MaxSizeMB <= 0 {
		c.Audit.MaxSizeMB = 100
	}
}
