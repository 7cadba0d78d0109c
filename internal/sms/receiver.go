package sms

import (
	"log/slog"

	"github.com/msageha/alarmd/internal/model"
)

// Receiver handles batch deliveries pushed to the daemon.
type Receiver struct {
	matcher    *Matcher
	dispatcher Dispatcher
	listener   Listener
	logger     *slog.Logger
}

func NewReceiver(matcher *Matcher, dispatcher Dispatcher, listener Listener, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		matcher:    matcher,
		dispatcher: dispatcher,
		listener:   listener,
		logger:     logger.With("component", "receiver"),
	}
}

// Handle joins the delivery's parts into one text and raises the alarm
// when it matches. It reports whether it matched.
func (r *Receiver) Handle(d model.Delivery) bool {
	text, from := d.Text(), d.Sender()
	matched := r.matcher.Match(text)
	r.logger.Info("delivery received", "from", from, "parts", len(d.Parts), "matched", matched)
	if r.listener != nil {
		r.listener(PathReceiver, from, matched)
	}
	if matched {
		r.dispatcher.Dispatch(model.ActionStartAlarm)
	}
	return matched
}
