package log

import (
	"bytes"
	"encoding/json"
	"errors"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) []entry {
	t.Helper()
	var buf bytes.Buffer
	oldW, oldFlags := stdlog.Writer(), stdlog.Flags()
	stdlog.SetOutput(&buf)
	stdlog.SetFlags(0)
	defer func() {
		stdlog.SetOutput(oldW)
		stdlog.SetFlags(oldFlags)
	}()
	fn()
	var out []entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func TestLevelsWithoutRequest(t *testing.T) {
	got := capture(t, func() {
		Audit(nil, "product.create", map[string]any{"id": 7})
		Warn(nil, "product.image.cleanup", errors.New("gone"), nil)
	})
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %d", len(got))
	}
	if got[0].Level != "audit" || got[0].Action != "product.create" || got[0].Path != "" {
		t.Fatalf("unexpected audit entry: %+v", got[0])
	}
	if got[1].Level != "warn" || got[1].Err != "gone" {
		t.Fatalf("unexpected warn entry: %+v", got[1])
	}
}

func TestDebugIsGated(t *testing.T) {
	defer SetDebug(false)
	got := capture(t, func() {
		Debug("cache.fetch.retry", nil)
		SetDebug(true)
		Debug("cache.sweep", nil)
	})
	if len(got) != 1 || got[0].Action != "cache.sweep" {
		t.Fatalf("debug gating failed: %+v", got)
	}
}

func TestSetupWritesFile(t *testing.T) {
	oldW := stdlog.Writer()
	defer stdlog.SetOutput(oldW)

	path := filepath.Join(t.TempDir(), "sonar.log")
	c, err := Setup(path)
	if err != nil {
		t.Fatal(err)
	}
	Info(nil, "server.start", nil)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"action":"server.start"`) {
		t.Fatalf("log file missing entry: %s", b)
	}
}
