package sms

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/msageha/alarmd/internal/model"
)

// Feed is a message source with a change feed. *inbox.Store satisfies it.
type Feed interface {
	Watch(fn func()) (cancel func())
	Latest(ctx context.Context, limit int) ([]model.Message, error)
}

// Observer watches the inbox while registered. On every change it checks
// only the most recent message.
type Observer struct {
	feed       Feed
	matcher    *Matcher
	dispatcher Dispatcher
	listener   Listener
	logger     *slog.Logger
	timeout    time.Duration

	mu     sync.Mutex
	cancel func()
}

type ObserverOption func(*Observer)

func WithObserverLogger(l *slog.Logger) ObserverOption {
	return func(o *Observer) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserverListener(fn Listener) ObserverOption {
	return func(o *Observer) { o.listener = fn }
}

func NewObserver(feed Feed, matcher *Matcher, dispatcher Dispatcher, opts ...ObserverOption) *Observer {
	o := &Observer{
		feed:       feed,
		matcher:    matcher,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		timeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "observer")
	return o
}

// Register starts observing. An existing registration is replaced, so at
// most one is ever active.
func (o *Observer) Register() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.cancel = o.feed.Watch(o.onChange)
	o.logger.Info("observation registered")
}

// Unregister stops observing. Safe to call when not registered.
func (o *Observer) Unregister() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return
	}
	o.cancel()
	o.cancel = nil
	o.logger.Info("observation unregistered")
}

func (o *Observer) Registered() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

func (o *Observer) onChange() {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	msgs, err := o.feed.Latest(ctx, 1)
	if err != nil {
		o.logger.Error("read latest message failed", "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	msg := msgs[0]
	matched := o.matcher.Match(msg.Body)
	o.logger.Debug("message checked", "id", msg.ID, "from", msg.From, "matched", matched)
	if o.listener != nil {
		o.listener(PathObserver, msg.From, matched)
	}
	if matched {
		o.dispatcher.Dispatch(model.ActionStartAlarm)
	}
}
