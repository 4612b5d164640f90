package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"all verbs", "rndc addzone %[1]s '{ file \"%[2]s\"; allow-transfer { %[3]s; }; }'",
			"rndc addzone example.com '{ file \"/zones/example.com.db\"; allow-transfer { 192.0.2.1;2001:db8::1; }; }'"},
		{"zone only", "rndc reload %[1]s", "rndc reload example.com"},
		{"no verbs", "rndc reconfig", "rndc reconfig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.template, "example.com", "/zones/example.com.db", []string{"192.0.2.1", "2001:db8::1"})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunner_Success(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	r := NewRunner(Templates{
		Add: "echo %[1]s %[2]s %[3]s > " + out,
	}, 0, nil)

	res := r.AddZone(context.Background(), "example.com", "/zones/example.com.db", []string{"192.0.2.1", "192.0.2.2"})
	require.True(t, res.OK(), "%+v", res)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Skipped)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "example.com /zones/example.com.db 192.0.2.1;192.0.2.2\n", string(data))
}

func TestRunner_Failure(t *testing.T) {
	r := NewRunner(Templates{Reload: "echo broken %[1]s >&2; exit 3"}, 0, nil)

	res := r.ReloadZone(context.Background(), "example.com", "/zones/example.com.db")
	assert.False(t, res.OK())
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "broken example.com", res.Output)
	assert.NoError(t, res.Err)
}

func TestRunner_EmptyTemplateSkips(t *testing.T) {
	r := NewRunner(Templates{}, 0, nil)

	res := r.DeleteZone(context.Background(), "example.com", "/zones/example.com.db")
	assert.True(t, res.Skipped)
	assert.True(t, res.OK())
	assert.Empty(t, res.Command)
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(Templates{Reload: "sleep 5"}, 50*time.Millisecond, nil)

	start := time.Now()
	res := r.ReloadZone(context.Background(), "example.com", "")
	assert.False(t, res.OK())
	assert.Error(t, res.Err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunner_MissingShell(t *testing.T) {
	r := NewRunner(Templates{Reload: "true"}, 0, nil)
	r.shell = filepath.Join(t.TempDir(), "no-such-shell")

	res := r.ReloadZone(context.Background(), "example.com", "")
	assert.False(t, res.OK())
	assert.Equal(t, -1, res.ExitCode)
	assert.Error(t, res.Err)
}
