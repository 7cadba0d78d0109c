package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/msageha/alarmd/internal/model"
)

// Notification ids. A later Show with the same id replaces the earlier one.
const (
	StatusID = 100
	AlarmID  = 101
	ToastID  = 102
)

const (
	AlarmPendingText  = "alarm in 5 seconds, tap to cancel"
	AlarmSoundingText = "alarm sounding, tap to stop"
)

type Notification struct {
	ID      int          `json:"id"`
	Title   string       `json:"title"`
	Text    string       `json:"text"`
	Ongoing bool         `json:"ongoing"`
	Tap     model.Action `json:"tap_action,omitempty"`
	ShownAt time.Time    `json:"shown_at"`
}

// Center keeps the set of active notifications. Desktop delivery is best
// effort and happens off the caller's goroutine.
type Center struct {
	sender  Sender
	title   string
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration

	mu     sync.Mutex
	active map[int]Notification
	wg     sync.WaitGroup
}

// NewCenter returns a Center. A nil sender keeps notifications in memory only.
func NewCenter(sender Sender, title string, logger *slog.Logger) *Center {
	if logger == nil {
		logger = slog.Default()
	}
	if title == "" {
		title = "alarmd"
	}
	return &Center{
		sender:  sender,
		title:   title,
		logger:  logger.With("component", "notify"),
		now:     time.Now,
		timeout: 10 * time.Second,
		active:  make(map[int]Notification),
	}
}

// Show posts n, replacing any active notification with the same id.
// Re-posting identical content is not delivered again.
func (c *Center) Show(n Notification) {
	if n.Title == "" {
		n.Title = c.title
	}
	c.mu.Lock()
	prev, ok := c.active[n.ID]
	if ok && prev.Text == n.Text && prev.Title == n.Title && prev.Ongoing == n.Ongoing && prev.Tap == n.Tap {
		c.mu.Unlock()
		return
	}
	n.ShownAt = c.now()
	c.active[n.ID] = n
	c.mu.Unlock()

	c.logger.Debug("notification shown", "id", n.ID, "text", n.Text, "ongoing", n.Ongoing)
	c.deliver(n)
}

// ShowForeground shows the ongoing status notification.
func (c *Center) ShowForeground(text string) {
	c.Show(Notification{ID: StatusID, Text: text, Ongoing: true})
}

// ShowAlarmPending shows the alarm notification; tapping it stops the alarm.
func (c *Center) ShowAlarmPending() {
	c.Show(Notification{ID: AlarmID, Text: AlarmPendingText, Ongoing: true, Tap: model.ActionStopAlarm})
}

func (c *Center) ShowAlarmSounding() {
	c.Show(Notification{ID: AlarmID, Text: AlarmSoundingText, Ongoing: true, Tap: model.ActionStopAlarm})
}

// Toast delivers a transient message. Toasts never enter the active set,
// so repeating one delivers it again.
func (c *Center) Toast(text string) {
	c.logger.Debug("toast", "text", text)
	c.deliver(Notification{ID: ToastID, Title: c.title, Text: text, ShownAt: c.now()})
}

// Cancel removes the notification with id. Unknown ids are ignored.
func (c *Center) Cancel(id int) {
	c.mu.Lock()
	_, ok := c.active[id]
	delete(c.active, id)
	c.mu.Unlock()
	if ok {
		c.logger.Debug("notification cancelled", "id", id)
	}
}

func (c *Center) Get(id int) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.active[id]
	return n, ok
}

// Active returns the active notifications ordered by id.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	out := make([]Notification, 0, len(c.active))
	for _, n := range c.active {
		out = append(out, n)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Center) deliver(n Notification) {
	if c.sender == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.sender.Send(ctx, n.Title, n.Text); err != nil {
			c.logger.Warn("desktop notification failed", "id", n.ID, "error", err)
		}
	}()
}

// Close waits for in-flight desktop deliveries.
func (c *Center) Close() {
	c.wg.Wait()
}
