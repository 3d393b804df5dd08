package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codewiresh/httpllm/internal/store"
)

func TestTerminalSafe(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hello world", "hello world"},
		{"crlf", "GET / HTTP/1.1\r\nHost: x\r\n", "GET / HTTP/1.1\nHost: x\n"},
		{"csi color", "\x1b[31mred\x1b[0m", "red"},
		{"osc title bel", "\x1b]0;pwned\x07after", "after"},
		{"osc title st", "\x1b]2;pwned\x1b\\after", "after"},
		{"unterminated osc", "a\x1b]0;never ends", "a"},
		{"two byte escape", "a\x1bcb", "ab"},
		{"trailing esc", "abc\x1b", "abc"},
		{"bell and nul", "a\x07b\x00c", `a\x07b\x00c`},
		{"lone cr", "a\rb", `a\x0db`},
		{"tab kept", "a\tb", "a\tb"},
		{"utf8 kept", "héllo ✓", "héllo ✓"},
		{"c1 control", "a\u009bb", `a\u009bb`},
		{"invalid utf8", "a\xffb", `a\xffb`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := terminalSafe(tt.in); got != tt.want {
				t.Fatalf("terminalSafe(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "t.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestShowConnection(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	opened := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := st.ConnectionOpen(ctx, "c1", "127.0.0.1:5555", opened); err != nil {
		t.Fatal(err)
	}
	if err := st.TurnAppend(ctx, store.Turn{ConnID: "c1", Seq: 1, Role: store.RoleRequest, Content: "GET / HTTP/1.1\r\n\r\n", CreatedAt: opened}); err != nil {
		t.Fatal(err)
	}
	if err := st.TurnAppend(ctx, store.Turn{ConnID: "c1", Seq: 1, Role: store.RoleResponse, Content: "HTTP/1.1 200 OK\r\n\r\n\x1b[2Jhi", CreatedAt: opened}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := showConnection(ctx, &out, st, "c1"); err != nil {
		t.Fatalf("showConnection: %v", err)
	}
	got := out.String()
	if strings.Contains(got, "\x1b") {
		t.Fatalf("escape sequence leaked: %q", got)
	}
	for _, want := range []string{"# c1 from 127.0.0.1:5555", "#1 user", "#1 assistant", "GET / HTTP/1.1", "hi"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	if err := showConnection(ctx, &out, st, "missing"); err == nil {
		t.Fatal("expected error for unknown connection")
	}
}

func TestPrintConnections(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	closed := now.Add(-time.Hour + 1500*time.Millisecond)
	conns := []store.Connection{
		{ID: "a", Peer: "10.0.0.1:1", OpenedAt: now.Add(-time.Hour), ClosedAt: &closed, Requests: 3},
		{ID: "b", Peer: "10.0.0.2:2", OpenedAt: now.Add(-2 * time.Minute)},
	}
	var out bytes.Buffer
	printConnections(&out, conns, now)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "1 hour ago") || !strings.Contains(lines[1], "1.5s") || !strings.HasSuffix(lines[1], "3") {
		t.Fatalf("row a = %q", lines[1])
	}
	if !strings.Contains(lines[2], "2 minutes ago") || !strings.Contains(lines[2], "open") {
		t.Fatalf("row b = %q", lines[2])
	}

	out.Reset()
	printConnections(&out, nil, now)
	if !strings.Contains(out.String(), "No connections") {
		t.Fatalf("empty list output = %q", out.String())
	}
}
