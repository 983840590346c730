package core_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JonMunkholm/pemtool/internal/core"
)

func TestMetrics_CountUploadsAndEdits(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := core.NewMetrics(reg)
	svc := newService(t, core.Options{Metrics: m})
	core.RegisterLimiter(reg, svc.Limiter())

	rec := upload(t, svc)
	if _, err := svc.Upload(context.Background(), "bad.pem", strings.NewReader("hello")); err == nil {
		t.Fatal("Upload() expected error")
	}
	if _, err := svc.Apply(context.Background(), rec.ID, core.EditRequest{Average: true}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := svc.Apply(context.Background(), rec.ID, core.EditRequest{Average: true}); err == nil {
		t.Fatal("second Apply() expected error")
	}

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"uploads ok", m.Uploads.WithLabelValues("ok"), 1},
		{"uploads error", m.Uploads.WithLabelValues("error"), 1},
		{"average ok", m.Edits.WithLabelValues("average", "ok"), 1},
		{"average error", m.Edits.WithLabelValues("average", "error"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("counter = %v, want %v", got, tt.want)
			}
		})
	}

	expected := `
# HELP pem_active_uploads Uploads and edits currently holding a slot.
# TYPE pem_active_uploads gauge
pem_active_uploads 0
`
	if err := testutil.GatherAndCompare(reg, bytes.NewBufferString(expected), "pem_active_uploads"); err != nil {
		t.Error(err)
	}
}

func TestPruneScheduler(t *testing.T) {
	m := core.NewMetrics(nil)
	svc := newService(t, core.Options{Metrics: m})
	rec := upload(t, svc)
	for _, shift := range []int{10, 20, 30} {
		if _, err := svc.Apply(context.Background(), rec.ID, core.EditRequest{Shift: shift}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	t.Run("disabled returns at once", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			svc.StartPruneScheduler(context.Background(), core.PruneConfig{})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("StartPruneScheduler() did not return with pruning disabled")
		}
	})

	t.Run("runs once before the first tick", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			svc.StartPruneScheduler(ctx, core.PruneConfig{KeepRevisions: 1, CheckInterval: time.Hour})
			close(done)
		}()

		deadline := time.Now().Add(5 * time.Second)
		for testutil.ToFloat64(m.Pruned) < 3 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
		<-done

		if got := testutil.ToFloat64(m.Pruned); got != 3 {
			t.Errorf("pruned = %v, want 3", got)
		}
		revs, err := svc.Revisions(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("Revisions() error = %v", err)
		}
		if len(revs) != 1 || revs[0].Number != 3 {
			t.Errorf("revisions = %+v, want only revision 3", revs)
		}
	})
}
