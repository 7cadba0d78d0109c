package status

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/msageha/alarmd/internal/alarm"
	"github.com/msageha/alarmd/internal/lock"
	"github.com/msageha/alarmd/internal/model"
	"github.com/msageha/alarmd/internal/notify"
	"github.com/msageha/alarmd/internal/uds"
)

// Report is the daemon state returned by the "status" command.
type Report struct {
	Daemon         DaemonStatus          `json:"daemon"`
	Alarm          alarm.Snapshot        `json:"alarm"`
	Observing      bool                  `json:"observing"`
	Text           string                `json:"text"`
	ServiceRunning bool                  `json:"service_running"`
	ClickCount     int64                 `json:"click_count"`
	Rules          model.RuleSummary     `json:"rules"`
	Notifications  []notify.Notification `json:"notifications,omitempty"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

// Run queries the daemon in dataDir and prints its status to w.
func Run(dataDir string, jsonOutput bool, w io.Writer) error {
	report := Query(dataDir)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(w, report)
	return nil
}

// Query returns the daemon's report, or a stopped report when the daemon
// does not answer.
func Query(dataDir string) Report {
	client := uds.ForDataDir(dataDir)
	client.SetTimeout(5 * time.Second)

	var report Report
	if err := client.Call("status", nil, &report); err != nil {
		return Report{Daemon: DaemonStatus{Running: false}}
	}
	report.Daemon.Running = true
	if report.Daemon.PID == 0 {
		report.Daemon.PID = lock.ReadPID(filepath.Join(dataDir, lock.DaemonLockFile))
	}
	return report
}

func printReport(w io.Writer, r Report) {
	if !r.Daemon.Running {
		fmt.Fprintln(w, "Daemon: stopped")
		return
	}
	fmt.Fprintf(w, "Daemon: running (pid %d)\n", r.Daemon.PID)
	fmt.Fprintf(w, "Status: %s\n", r.Text)

	alarmLine := r.Alarm.State.String()
	if r.Alarm.State == alarm.Pending && !r.Alarm.FireAt.IsZero() {
		alarmLine += " (fires " + r.Alarm.FireAt.Local().Format("15:04:05") + ")"
	}
	if !r.Alarm.SoundAvailable {
		alarmLine += " [no sound]"
	}
	fmt.Fprintf(w, "Alarm: %s\n", alarmLine)
	fmt.Fprintf(w, "Observation: %s\n", onOff(r.Observing))
	fmt.Fprintf(w, "Service: %s\n", onOff(r.ServiceRunning))
	fmt.Fprintf(w, "Rules: %d global, %d apps, %d app groups\n", r.Rules.GlobalGroups, r.Rules.AppSize, r.Rules.AppGroupSize)
	fmt.Fprintf(w, "Triggered: %d\n", r.ClickCount)

	if len(r.Notifications) > 0 {
		fmt.Fprintln(w, "\nNotifications:")
		for _, n := range r.Notifications {
			fmt.Fprintf(w, "  %-4d  %s\n", n.ID, n.Text)
		}
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
