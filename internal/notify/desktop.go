// Package notify tracks the daemon's notifications and mirrors them to the
// desktop.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Sender delivers a notification to the user's desktop.
type Sender interface {
	Send(ctx context.Context, title, message string) error
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DesktopSender uses osascript on macOS and notify-send elsewhere.
type DesktopSender struct {
	goos string
	run  runFunc
}

func NewDesktopSender() *DesktopSender {
	return &DesktopSender{goos: runtime.GOOS, run: execRun}
}

func (d *DesktopSender) Send(ctx context.Context, title, message string) error {
	name, args := d.command(title, message)
	if out, err := d.run(ctx, name, args...); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *DesktopSender) command(title, message string) (string, []string) {
	if d.goos == "darwin" {
		script := fmt.Sprintf(
			`display notification "%s" with title "%s" sound name "default"`,
			escapeAppleScript(message), escapeAppleScript(title),
		)
		return "osascript", []string{"-e", script}
	}
	return "notify-send", []string{"--app-name=alarmd", title, message}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
