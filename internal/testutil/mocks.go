package testutil

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/csmith/mydnshost-api/internal/core/ports"
)

// CommandCall records one call made to a RecordingCommander.
type CommandCall struct {
	Op            string
	Zone          string
	File          string
	AllowTransfer []string
}

// RecordingCommander implements ports.ZoneCommander and remembers every call.
type RecordingCommander struct {
	mu    sync.Mutex
	Calls []CommandCall
	Fail  bool
}

func (c *RecordingCommander) record(call CommandCall) ports.CommandResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, call)
	if c.Fail {
		return ports.CommandResult{Command: call.Op, ExitCode: 1}
	}
	return ports.CommandResult{Command: call.Op}
}

func (c *RecordingCommander) AddZone(_ context.Context, zone, file string, allowTransfer []string) ports.CommandResult {
	return c.record(CommandCall{Op: "add", Zone: zone, File: file, AllowTransfer: allowTransfer})
}

func (c *RecordingCommander) ReloadZone(_ context.Context, zone, file string) ports.CommandResult {
	return c.record(CommandCall{Op: "reload", Zone: zone, File: file})
}

func (c *RecordingCommander) DeleteZone(_ context.Context, zone, file string) ports.CommandResult {
	return c.record(CommandCall{Op: "delete", Zone: zone, File: file})
}

// Ops returns "op:zone" strings for every recorded call.
func (c *RecordingCommander) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.Calls))
	for _, call := range c.Calls {
		out = append(out, call.Op+":"+call.Zone)
	}
	return out
}

// StaticHosts implements ports.HostResolver from a fixed map and counts lookups.
type StaticHosts struct {
	mu      sync.Mutex
	Hosts   map[string][]string
	Lookups map[string]int
}

func (s *StaticHosts) LookupHost(_ context.Context, host string) ([]net.IP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Lookups == nil {
		s.Lookups = make(map[string]int)
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	s.Lookups[host]++

	var ips []net.IP
	for _, a := range s.Hosts[host] {
		ips = append(ips, net.ParseIP(a))
	}
	return ips, nil
}

// NoopLocker implements ports.CatalogLocker without any locking.
type NoopLocker struct {
	Err   error
	Held  bool
	Locks int
}

func (l *NoopLocker) Lock(context.Context) (func() error, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.Held = true
	l.Locks++
	return func() error {
		l.Held = false
		return nil
	}, nil
}
