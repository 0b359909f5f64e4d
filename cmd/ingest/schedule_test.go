package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/promtior/sitechat/pkg/config"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := newScheduler(context.Background(), quietLogger())
	if err := s.add(job{name: "ingest", run: func(context.Context) error { return nil }}, "every tuesday"); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	if err := s.add(job{name: "ingest", run: func(context.Context) error { return nil }}, "0 3 * * *"); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := s.add(job{name: "ingest", run: func(context.Context) error { return nil }}, "@daily"); err != nil {
		t.Fatalf("descriptor rejected: %v", err)
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})

	s := newScheduler(context.Background(), quietLogger())
	fire := s.wrap(job{name: "ingest", run: func(context.Context) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	}})

	done := make(chan struct{})
	go func() { fire(); close(done) }()
	<-entered
	fire() // still running: skipped
	close(release)
	<-done

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 run, got %d", n)
	}
}

func TestScheduleFlagNamesConfigKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SITECHAT_CONFIG", "")
	t.Setenv(scheduleEnv, "@daily")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Crawl.Schedule != "@daily" {
		t.Fatalf("%s not read by config: schedule = %q", scheduleEnv, cfg.Crawl.Schedule)
	}
	if !strings.Contains(scheduleUsage, scheduleEnv) {
		t.Fatalf("usage %q does not name %s", scheduleUsage, scheduleEnv)
	}
}
