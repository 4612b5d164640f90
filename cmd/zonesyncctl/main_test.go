package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/csmith/mydnshost-api/internal/adapters/redisbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	auth   string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, recorded{method: r.Method, path: r.URL.EscapedPath(), auth: r.Header.Get("Authorization")})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRun_Subcommands(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"operation":"sync","status":"done","duration":"12ms"}`)

	cases := []struct {
		args []string
		path string
	}{
		{[]string{"sync", "-addr", srv.URL, "-token", "s3cret", "example.com"}, "/domains/example.com/sync"},
		{[]string{"rebuild-catalog", "-addr", srv.URL, "-token", "s3cret"}, "/catalog/rebuild"},
		{[]string{"readd-zones", "-addr", srv.URL + "/", "-token", "s3cret"}, "/zones/readd"},
	}

	for i, tc := range cases {
		out := &bytes.Buffer{}
		require.NoError(t, run(tc.args, out))
		assert.Contains(t, out.String(), "completed in 12ms")

		require.Len(t, *calls, i+1)
		call := (*calls)[i]
		assert.Equal(t, http.MethodPost, call.method)
		assert.Equal(t, tc.path, call.path)
		assert.Equal(t, "Bearer s3cret", call.auth)
	}
}

func TestRun_ServerError(t *testing.T) {
	srv, _ := newServer(t, http.StatusNotFound, "domain not found: missing.example\n")

	err := run([]string{"sync", "-addr", srv.URL, "missing.example"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "domain not found")
}

func TestRun_Usage(t *testing.T) {
	assert.Error(t, run(nil, &bytes.Buffer{}))
	assert.Error(t, run([]string{"explode"}, &bytes.Buffer{}))
	assert.Error(t, run([]string{"sync"}, &bytes.Buffer{}))
	assert.Error(t, run([]string{"sync", "a.example", "b.example"}, &bytes.Buffer{}))
}

func TestRun_NoToken(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"operation":"readd_zones","duration":"1s"}`)
	t.Setenv("ZONESYNC_API_TOKEN", "")

	require.NoError(t, run([]string{"readd-zones", "-addr", srv.URL}, &bytes.Buffer{}))
	assert.Empty(t, (*calls)[0].auth)
}

func TestRun_Notify(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisbus.NewClient(mr.Addr(), "", 0)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub := client.Subscribe(ctx, redisbus.DomainChannel)
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, run([]string{"notify", "-redis", mr.Addr(), "-event", "update_domain", "-id", "7", "-old-name", "old.example", "new.example"}, out))
	assert.Contains(t, out.String(), "update_domain new.example published as ")

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got redisbus.DomainMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "update_domain", got.Event)
	assert.Equal(t, int64(7), got.DomainID)
	assert.Equal(t, "new.example", got.Name)
	assert.Equal(t, "old.example", got.OldName)
	assert.NotEmpty(t, got.ID)
}

func TestRun_NotifyRejectsBadInput(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("ZONESYNC_REDIS_ADDR", "")

	assert.Error(t, run([]string{"notify", "example.com"}, &bytes.Buffer{}))
	assert.Error(t, run([]string{"notify", "-redis", mr.Addr()}, &bytes.Buffer{}))
	assert.Error(t, run([]string{"notify", "-redis", mr.Addr(), "-event", "zone_added", "example.com"}, &bytes.Buffer{}))
	assert.Error(t, run([]string{"notify", "-redis", mr.Addr(), "-event", "explode", "example.com"}, &bytes.Buffer{}))
}
