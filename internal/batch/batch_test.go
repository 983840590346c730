package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/pem"
)

func fixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "pem", "testdata", "line200e.pem"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func writeFiles(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{
		"b.PEM":     nil,
		"a.pem":     nil,
		"notes.txt": nil,
	})
	if err := os.Mkdir(filepath.Join(dir, "nested.pem"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := Collect([]string{dir, filepath.Join(dir, "a.pem")})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.PEM")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Collect() = %v, want %v", got, want)
	}

	if _, err := Collect([]string{filepath.Join(dir, "missing.pem")}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Collect() missing path error = %v", err)
	}
}

func TestDestination(t *testing.T) {
	tests := []struct {
		outDir string
		src    string
		want   string
	}{
		{"", filepath.Join("surveys", "L200E.PEM"), filepath.Join("surveys", "L200E_edited.PEM")},
		{"out", filepath.Join("surveys", "L200E.PEM"), filepath.Join("out", "L200E.PEM")},
	}
	for _, tt := range tests {
		r := &Runner{OutDir: tt.outDir}
		if got := r.Destination(tt.src); got != tt.want {
			t.Errorf("Destination(%q) with out %q = %q, want %q", tt.src, tt.outDir, got, tt.want)
		}
	}
}

func TestRun(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "edited")
	data := fixture(t)
	writeFiles(t, src, map[string][]byte{
		"one.pem":    data,
		"two.PEM":    data,
		"broken.pem": []byte("<FMT> 210\n"),
	})
	paths, err := Collect([]string{src})
	if err != nil {
		t.Fatal(err)
	}

	var recorded atomic.Int32
	r := &Runner{
		Request: core.EditRequest{Average: true, Shift: 100},
		Workers: 2,
		OutDir:  out,
		Record: func(_ context.Context, res Result) error {
			recorded.Add(1)
			return nil
		},
	}
	results, err := r.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s := Summarize(results); s.Files != 3 || s.Failed != 1 {
		t.Errorf("Summarize() = %+v, want 3 files with 1 failure", s)
	}
	if recorded.Load() != 2 {
		t.Errorf("recorded %d files, want 2", recorded.Load())
	}

	for _, res := range results {
		name := filepath.Base(res.Src)
		if name == "broken.pem" {
			if !pem.IsFormatError(res.Err) {
				t.Errorf("broken.pem error = %v, want format error", res.Err)
			}
			if _, err := os.Stat(res.Dst); !os.IsNotExist(err) {
				t.Errorf("broken.pem left output behind: %v", err)
			}
			continue
		}
		if res.Err != nil {
			t.Errorf("%s error = %v", name, res.Err)
			continue
		}
		written, err := pem.ParseFile(res.Dst)
		if err != nil {
			t.Fatalf("re-parse %s: %v", res.Dst, err)
		}
		if len(written.Readings) != 3 || res.Readings != 3 {
			t.Errorf("%s readings = %d, want 3", name, len(written.Readings))
		}
		if got := strings.Join(written.Stations(), ","); got != "100N,150N" {
			t.Errorf("%s stations = %s, want 100N,150N", name, got)
		}
	}
}

func TestRun_NoEditsReformats(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{"line.pem": fixture(t)})

	r := &Runner{}
	results, err := r.Run(context.Background(), []string{filepath.Join(dir, "line.pem")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("result error = %v", results[0].Err)
	}
	if want := filepath.Join(dir, "line_edited.pem"); results[0].Dst != want {
		t.Errorf("Dst = %q, want %q", results[0].Dst, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "line.pem")); err != nil {
		t.Errorf("source missing after run: %v", err)
	}
}

func TestRun_RecordFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	writeFiles(t, dir, map[string][]byte{"line.pem": fixture(t)})

	errRecord := errors.New("store unavailable")
	r := &Runner{
		OutDir: out,
		Record: func(context.Context, Result) error { return errRecord },
	}
	results, err := r.Run(context.Background(), []string{filepath.Join(dir, "line.pem")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !errors.Is(results[0].Err, errRecord) {
		t.Errorf("result error = %v, want %v", results[0].Err, errRecord)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("output dir holds %v after a failed record, want nothing", names)
	}
}

func TestRun_DuplicateDestination(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	data := fixture(t)
	writeFiles(t, a, map[string][]byte{"line.pem": data})
	writeFiles(t, b, map[string][]byte{"line.pem": data})

	r := &Runner{OutDir: t.TempDir()}
	results, err := r.Run(context.Background(), []string{filepath.Join(a, "line.pem"), filepath.Join(b, "line.pem")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if results[0].Err != nil || results[1].Err == nil {
		t.Errorf("errors = %v, %v; want only the second to fail", results[0].Err, results[1].Err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{"line.pem": fixture(t)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{Workers: 1}
	if _, err := r.Run(ctx, []string{filepath.Join(dir, "line.pem")}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
