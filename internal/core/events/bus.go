// Package events implements the typed publish/subscribe bus that connects
// the persistence layer, the zone writer, the catalog and nameserver commands.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/dns/master"
)

// Kind identifies an event type.
type Kind int

const (
	AddDomain Kind = iota + 1
	UpdateDomain
	DeleteDomain
	RecordsChanged
	ZoneAdded
	ZoneChanged
	ZoneRemoved
)

var kindNames = map[Kind]string{
	AddDomain:      "add_domain",
	UpdateDomain:   "update_domain",
	DeleteDomain:   "delete_domain",
	RecordsChanged: "records_changed",
	ZoneAdded:      "zone_added",
	ZoneChanged:    "zone_changed",
	ZoneRemoved:    "zone_removed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps an event name such as "records_changed" to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUndeclaredKind, name)
}

// DomainKinds are published by the persistence layer.
var DomainKinds = []Kind{AddDomain, UpdateDomain, DeleteDomain, RecordsChanged}

// ZoneKinds are published by the zone writer.
var ZoneKinds = []Kind{ZoneAdded, ZoneChanged, ZoneRemoved}

// ErrUndeclaredKind is returned when publishing or subscribing to a kind the
// bus was not constructed with.
var ErrUndeclaredKind = errors.New("undeclared event kind")

// Event is the payload handed to subscribers.
type Event struct {
	Kind   Kind
	Domain *domain.Domain
	// OldName is the previous name for UpdateDomain.
	OldName string
	// ZoneName is the zone a lifecycle event refers to. It differs from
	// Domain.Name when the zone under an old name is removed after a rename.
	ZoneName string
	ZoneFile string
	Zone     *master.Zone
	// Replay marks lifecycle events caused by re-adding every zone. The
	// catalog already lists those zones and must not change.
	Replay bool
}

// Handler reacts to an event.
type Handler func(ctx context.Context, ev Event) error

// Bus dispatches events synchronously, in registration order. A failing or
// panicking handler does not stop the remaining handlers; all failures are
// joined and returned from Publish.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   *slog.Logger
}

// NewBus declares kinds and returns a bus that only accepts those.
func NewBus(logger *slog.Logger, kinds ...Kind) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[Kind][]Handler, len(kinds)),
		logger:   logger,
	}
	for _, k := range kinds {
		b.handlers[k] = nil
	}
	return b
}

// Subscribe registers h for kind.
func (b *Bus) Subscribe(kind Kind, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list, ok := b.handlers[kind]
	if !ok {
		return fmt.Errorf("%w: subscribe %s", ErrUndeclaredKind, kind)
	}
	b.handlers[kind] = append(list, h)
	return nil
}

// Publish invokes every handler registered for ev.Kind.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	list, ok := b.handlers[ev.Kind]
	handlers := append([]Handler(nil), list...)
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: publish %s", ErrUndeclaredKind, ev.Kind)
	}

	var errs []error
	for i, h := range handlers {
		if err := b.invoke(ctx, h, ev); err != nil {
			b.logger.Warn("event handler failed", "event", ev.Kind.String(), "handler", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", ev.Kind, r)
		}
	}()
	return h(ctx, ev)
}
