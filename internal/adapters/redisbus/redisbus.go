// Package redisbus carries events between the control plane and the sync
// engine over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/events"
	"github.com/csmith/mydnshost-api/internal/core/ports"
	"github.com/csmith/mydnshost-api/internal/infrastructure/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DomainChannel = "zonesync:domains"
	ZoneChannel   = "zonesync:zones"
)

// DomainMessage announces a change made by the persistence layer.
type DomainMessage struct {
	ID       string `json:"id"`
	Event    string `json:"event"`
	DomainID int64  `json:"domain_id"`
	Name     string `json:"name,omitempty"`
	OldName  string `json:"old_name,omitempty"`
}

// ZoneMessage announces a zone lifecycle change made by the engine.
type ZoneMessage struct {
	ID     string    `json:"id"`
	Event  string    `json:"event"`
	Zone   string    `json:"zone"`
	File   string    `json:"file"`
	Serial uint32    `json:"serial,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// NewClient connects to Redis.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// PublishDomainEvent queues a store event for the listening engines.
func PublishDomainEvent(ctx context.Context, client *redis.Client, kind events.Kind, d *domain.Domain, oldName string) (string, error) {
	msg := DomainMessage{
		ID:       uuid.NewString(),
		Event:    kind.String(),
		DomainID: d.ID,
		Name:     d.Name,
		OldName:  oldName,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := client.Publish(ctx, DomainChannel, payload).Err(); err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", msg.Event, err)
	}
	return msg.ID, nil
}

// Listener turns domain messages into bus events.
type Listener struct {
	client *redis.Client
	repo   ports.DomainRepository
	bus    *events.Bus
	logger *slog.Logger
}

func NewListener(client *redis.Client, repo ports.DomainRepository, bus *events.Bus, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{client: client, repo: repo, bus: bus, logger: logger}
}

// Run consumes DomainChannel until ctx is cancelled. Failures of individual
// messages are logged and do not stop the listener.
func (l *Listener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, DomainChannel)
	defer func() {
		if errClose := pubsub.Close(); errClose != nil {
			l.logger.Warn("failed to close subscription", "error", errClose)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", DomainChannel, err)
	}
	l.logger.Info("listening for domain events", "channel", DomainChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			if err := l.Handle(ctx, []byte(msg.Payload)); err != nil {
				l.logger.Error("failed to handle domain event", "payload", msg.Payload, "error", err)
			}
		}
	}
}

// Handle decodes one message and publishes the matching bus event.
func (l *Listener) Handle(ctx context.Context, payload []byte) (err error) {
	var msg DomainMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		metrics.EventsTotal.WithLabelValues("invalid", "error").Inc()
		return fmt.Errorf("invalid message: %w", err)
	}

	kind, err := events.ParseKind(msg.Event)
	if err != nil {
		metrics.EventsTotal.WithLabelValues("invalid", "error").Inc()
		return err
	}

	d, err := l.domainFor(ctx, kind, msg)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(kind.String(), "error").Inc()
		return err
	}

	l.logger.Debug("domain event received", "id", msg.ID, "event", msg.Event, "domain", d.Name)
	return l.bus.Publish(ctx, events.Event{Kind: kind, Domain: d, OldName: msg.OldName})
}

func (l *Listener) domainFor(ctx context.Context, kind events.Kind, msg DomainMessage) (*domain.Domain, error) {
	if kind == events.DeleteDomain {
		if msg.Name == "" {
			return nil, fmt.Errorf("%s message %s without name", msg.Event, msg.ID)
		}
		return &domain.Domain{ID: msg.DomainID, Name: msg.Name}, nil
	}

	var (
		d   *domain.Domain
		err error
	)
	if msg.DomainID != 0 {
		d, err = l.repo.GetDomain(ctx, msg.DomainID)
	} else if msg.Name != "" {
		d, err = l.repo.GetDomainByName(ctx, msg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load domain for %s: %w", msg.ID, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: id=%d name=%q", domain.ErrDomainNotFound, msg.DomainID, msg.Name)
	}
	return d, nil
}

// Notifier forwards zone lifecycle events to ZoneChannel.
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

func NewNotifier(client *redis.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, logger: logger}
}

// Register subscribes the notifier to the zone lifecycle kinds.
func (n *Notifier) Register(bus *events.Bus) error {
	for _, kind := range events.ZoneKinds {
		if err := bus.Subscribe(kind, n.notify); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) notify(ctx context.Context, ev events.Event) error {
	msg := ZoneMessage{
		ID:     uuid.NewString(),
		Event:  ev.Kind.String(),
		Zone:   ev.ZoneName,
		File:   ev.ZoneFile,
		SentAt: time.Now().UTC(),
	}
	if ev.Zone != nil {
		if soa, _, ok := ev.Zone.SOA(); ok {
			msg.Serial = soa.Serial
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, ZoneChannel, payload).Err(); err != nil {
		// Peers only use this to refresh caches; the zone itself is written.
		n.logger.Warn("failed to publish zone event", "zone", msg.Zone, "event", msg.Event, "error", err)
	}
	return nil
}
