package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/msageha/alarmd/internal/model"
	"github.com/msageha/alarmd/internal/setup"
)

const version = "1.0.0"

// Globals is shared by every command.
type Globals struct {
	Dir string `short:"d" help:"Data directory (default: nearest .alarmd/ at or above the working directory)" type:"path"`

	out io.Writer
}

// CLI is the command tree.
type CLI struct {
	Globals

	Setup    SetupCmd    `cmd:"" help:"Initialize .alarmd/ in a directory"`
	Daemon   DaemonCmd   `cmd:"" help:"Run the daemon in the foreground"`
	Status   StatusCmd   `cmd:"" help:"Show daemon status"`
	Alarm    AlarmCmd    `cmd:"" help:"Start or stop the alarm"`
	Observe  ObserveCmd  `cmd:"" help:"Start or stop message observation"`
	Action   ActionCmd   `cmd:"" help:"Send a raw do-action command"`
	Message  MessageCmd  `cmd:"" help:"Insert a message into the inbox"`
	Deliver  DeliverCmd  `cmd:"" help:"Hand a multi-part delivery to the receiver"`
	Click    ClickCmd    `cmd:"" help:"Increase the trigger counter"`
	Service  ServiceCmd  `cmd:"" help:"Set the service-running flag"`
	Settings SettingsCmd `cmd:"" help:"Show or change settings"`
	Rules    RulesCmd    `cmd:"" help:"Manage rule subscriptions"`
	Notify   NotifyCmd   `cmd:"" help:"Send a desktop notification"`
	Shutdown ShutdownCmd `cmd:"" help:"Stop the running daemon"`
	Version  VersionCmd  `cmd:"" help:"Print the version"`
}

func main() {
	var cli CLI
	cli.out = os.Stdout
	ctx := kong.Parse(&cli,
		kong.Name("alarmd"),
		kong.Description("Keyword-triggered alarm daemon."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "alarmd: %v\n", err)
		os.Exit(1)
	}
}

var errNoDataDir = errors.New(".alarmd/ directory not found; run 'alarmd setup <dir>' first")

// dataDir resolves the data directory and loads its .env file, if any.
// Variables already set in the environment win over .env values.
func (g *Globals) dataDir() (string, error) {
	dir := g.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = findDataDir(wd)
		if dir == "" {
			return "", errNoDataDir
		}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("data directory %s: %w", dir, errNoDataDir)
	}

	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return "", fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	return dir, nil
}

// findDataDir searches for .alarmd/ in start and its ancestors.
func findDataDir(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, setup.DataDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(dataDir string) (model.Config, error) {
	var cfg model.Config
	data, err := os.ReadFile(filepath.Join(dataDir, "config.yaml"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("config.yaml not found, using defaults", "dir", dataDir)
	case err != nil:
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return cfg, nil
}

// envOr returns flag when set, else the environment variable key. It
// covers values that only appear in the environment after .env is loaded.
func envOr(flag, key string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(key)
}
