// Package bus carries deliveries and commands over NATS, either to an
// external server or to one embedded in the daemon.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/msageha/alarmd/internal/model"
)

const readyTimeout = 10 * time.Second

// DeliveryHandler consumes a batch delivery.
type DeliveryHandler interface {
	Handle(d model.Delivery) bool
}

// Dispatcher consumes a command.
type Dispatcher interface {
	Dispatch(a model.Action)
}

// Subjects derives the subject names from a prefix.
type Subjects struct {
	Deliver  string
	DoAction string
}

func SubjectsFor(prefix string) Subjects {
	if prefix == "" {
		prefix = "alarmd"
	}
	return Subjects{
		Deliver:  prefix + ".sms.deliver",
		DoAction: prefix + ".do_action",
	}
}

// Bridge owns the NATS connection and, when embedded, the server.
type Bridge struct {
	conn     *nats.Conn
	embedded *server.Server
	subjects Subjects
	subs     []*nats.Subscription
	logger   *slog.Logger
}

// Connect dials cfg.URL, or starts an embedded server when cfg.Embedded is
// set. With neither configured it returns (nil, nil).
func Connect(cfg model.NATSConfig, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	url := cfg.URL
	var ns *server.Server
	if url == "" {
		if !cfg.Embedded {
			return nil, nil
		}
		var err error
		ns, err = startEmbedded(cfg.EmbeddedPort)
		if err != nil {
			return nil, err
		}
		url = ns.ClientURL()
		logger.Info("embedded nats server ready", "url", url)
	}

	conn, err := nats.Connect(url,
		nats.Name("alarmd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		if ns != nil {
			ns.Shutdown()
		}
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	return &Bridge{
		conn:     conn,
		embedded: ns,
		subjects: SubjectsFor(cfg.SubjectPrefix),
		logger:   logger,
	}, nil
}

func startEmbedded(port int) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "alarmd",
		Host:       "127.0.0.1",
		Port:       port,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded nats server not ready")
	}
	return ns, nil
}

// URL is the server the bridge is connected to.
func (b *Bridge) URL() string { return b.conn.ConnectedUrl() }

func (b *Bridge) Subjects() Subjects { return b.subjects }

// Subscribe routes deliveries to h and commands to d. Malformed payloads
// are logged and dropped.
func (b *Bridge) Subscribe(h DeliveryHandler, d Dispatcher) error {
	sub, err := b.conn.Subscribe(b.subjects.Deliver, func(msg *nats.Msg) {
		var delivery model.Delivery
		if err := json.Unmarshal(msg.Data, &delivery); err != nil {
			b.logger.Warn("drop malformed delivery", "subject", msg.Subject, "error", err)
			return
		}
		h.Handle(delivery)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subjects.Deliver, err)
	}
	b.subs = append(b.subs, sub)

	sub, err = b.conn.Subscribe(b.subjects.DoAction, func(msg *nats.Msg) {
		var p model.ActionParams
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			b.logger.Warn("drop malformed command", "subject", msg.Subject, "error", err)
			return
		}
		d.Dispatch(p.Action)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subjects.DoAction, err)
	}
	b.subs = append(b.subs, sub)

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	b.logger.Info("nats subscriptions active", "deliver", b.subjects.Deliver, "do_action", b.subjects.DoAction)
	return nil
}

// PublishDelivery sends a delivery to the deliver subject.
func (b *Bridge) PublishDelivery(ctx context.Context, d model.Delivery) error {
	return b.publish(ctx, b.subjects.Deliver, d)
}

// PublishAction sends a command to the do_action subject.
func (b *Bridge) PublishAction(ctx context.Context, a model.Action) error {
	return b.publish(ctx, b.subjects.DoAction, model.ActionParams{Action: a})
}

func (b *Bridge) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions, closes the connection and stops any
// embedded server.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.conn.Close()
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}
