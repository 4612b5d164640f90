package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/csmith/mydnshost-api/internal/adapters/redisbus"
	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/events"
)

const usage = "expected 'sync <domain>', 'notify <domain>', 'rebuild-catalog' or 'readd-zones' subcommands"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("zonesyncctl: %v", err)
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%s", usage)
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	addr := fs.String("addr", envOr("ZONESYNC_ADDR", "http://localhost:8080"), "Address of zonesyncd")
	token := fs.String("token", os.Getenv("ZONESYNC_API_TOKEN"), "Bearer token for maintenance routes")
	timeout := fs.Duration("timeout", 5*time.Minute, "Request timeout")
	redisAddr := fs.String("redis", os.Getenv("ZONESYNC_REDIS_ADDR"), "Redis address for notify")
	redisPassword := fs.String("redis-password", os.Getenv("ZONESYNC_REDIS_PASSWORD"), "Redis password for notify")
	event := fs.String("event", events.RecordsChanged.String(), "Domain event to publish with notify")
	domainID := fs.Int64("id", 0, "Domain ID to publish with notify")
	oldName := fs.String("old-name", "", "Previous domain name for update_domain")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("failed to parse %s flags: %w", args[0], err)
	}

	c := &client{
		base:  strings.TrimSuffix(*addr, "/"),
		token: *token,
		http:  &http.Client{Timeout: *timeout},
	}
	ctx := context.Background()

	switch args[0] {
	case "sync":
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: sync [flags] <domain>")
		}
		return c.post(ctx, "/domains/"+url.PathEscape(fs.Arg(0))+"/sync", out)
	case "notify":
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: notify [flags] <domain>")
		}
		if *redisAddr == "" {
			return fmt.Errorf("notify needs -redis or ZONESYNC_REDIS_ADDR")
		}
		kind, err := events.ParseKind(*event)
		if err != nil {
			return err
		}
		if !slices.Contains(events.DomainKinds, kind) {
			return fmt.Errorf("%s is not a domain event", kind)
		}
		return notify(ctx, *redisAddr, *redisPassword, kind, &domain.Domain{ID: *domainID, Name: fs.Arg(0)}, *oldName, out)
	case "rebuild-catalog":
		return c.post(ctx, "/catalog/rebuild", out)
	case "readd-zones":
		return c.post(ctx, "/zones/readd", out)
	default:
		return fmt.Errorf("%s", usage)
	}
}

func (c *client) post(ctx context.Context, path string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Printf("failed to close response body: %v", errClose)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var result struct {
		Operation string `json:"operation"`
		Duration  string `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s completed in %s\n", result.Operation, result.Duration)
	return err
}

// notify publishes a domain event the way the control plane does, for
// engines that listen on Redis instead of exposing HTTP.
func notify(ctx context.Context, addr, password string, kind events.Kind, d *domain.Domain, oldName string, out io.Writer) error {
	client := redisbus.NewClient(addr, password, 0)
	defer func() {
		if errClose := client.Close(); errClose != nil {
			log.Printf("failed to close redis client: %v", errClose)
		}
	}()

	id, err := redisbus.PublishDomainEvent(ctx, client, kind, d, oldName)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s %s published as %s\n", kind, d.Name, id)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
