package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/park285/checkmate-server/internal/config"
)

func TestOriginHosts(t *testing.T) {
	got := originHosts([]string{"https://chess.example.com", "localhost:5173", "*.example.org"})
	want := []string{"chess.example.com", "localhost:5173", "*.example.org"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("got %q", out.String())
	}
}

type closeCount struct{ n int }

func (c *closeCount) Close() error { c.n++; return nil }

func TestBackendCloseReleasesEventClient(t *testing.T) {
	events := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	st := &closeCount{}
	be := &backend{events: events, closers: []io.Closer{st, events}}
	if err := be.Close(); err != nil {
		t.Fatal(err)
	}
	if st.n != 1 {
		t.Fatalf("store closed %d times", st.n)
	}
	if err := events.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("event client still open: %v", err)
	}
	if err := be.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenBackendRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appcfg.AppConfig{StoreDriver: appcfg.DriverRedis, RedisURL: "redis://" + mr.Addr() + "/0"}
	be, err := openBackend(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if be.store == nil || be.events == nil {
		t.Fatalf("backend = %+v", be)
	}
	if err := be.Close(); err != nil {
		t.Fatal(err)
	}
	if err := be.events.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("event client still open: %v", err)
	}
}
