package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/pemtool/internal/store"
)

const fixture = "../../internal/pem/testdata/line200e.pem"

// surveyDir copies the fixture into a temp dir under the given names.
func surveyDir(t *testing.T, names ...string) string {
	t.Helper()
	data, err := os.ReadFile(fixture)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLI_Usage(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no files", nil, "usage: pemtool"},
		{"unknown flag", []string{"-bogus", "x.pem"}, "bogus"},
		{"bad component", []string{"-reverse", "x,w", "x.pem"}, `unknown component "W"`},
		{"negative current", []string{"-current", "-5", "x.pem"}, "must be positive"},
		{"missing path", []string{filepath.Join(t.TempDir(), "nope.pem")}, "nope.pem"},
		{"empty dir", []string{t.TempDir()}, "no .pem files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != exitUsage {
				t.Errorf("exit code = %d, want %d", code, exitUsage)
			}
			if !strings.Contains(stderr, tt.wantErr) {
				t.Errorf("stderr = %q, want mention of %q", stderr, tt.wantErr)
			}
		})
	}
}

func TestCLI_EditsDirectory(t *testing.T) {
	dir := surveyDir(t, "a.pem", "b.PEM")
	out := filepath.Join(t.TempDir(), "out")

	code, stdout, stderr := runCLI(t, "-average", "-shift", "100", "-out", out, dir)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr)
	}
	if got := strings.Count(stdout, "(3 readings)"); got != 2 {
		t.Errorf("stdout = %q, want two files with 3 readings", stdout)
	}

	data, err := os.ReadFile(filepath.Join(out, "a.pem"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "150N XR1") {
		t.Errorf("output missing shifted station:\n%s", data)
	}
}

func TestCLI_DefaultDestination(t *testing.T) {
	dir := surveyDir(t, "line.pem")

	code, _, stderr := runCLI(t, "-reverse", "z", filepath.Join(dir, "line.pem"))
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "line_edited.pem")); err != nil {
		t.Errorf("edited file not written: %v", err)
	}
}

func TestCLI_PartialFailure(t *testing.T) {
	dir := surveyDir(t, "good.pem")
	if err := os.WriteFile(filepath.Join(dir, "broken.pem"), []byte("<FMT> 210\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, dir)
	if code != exitFailed {
		t.Errorf("exit code = %d, want %d", code, exitFailed)
	}
	if !strings.Contains(stdout, "good.pem") {
		t.Errorf("stdout = %q, want the good file reported", stdout)
	}
	if !strings.Contains(stderr, "broken.pem") || !strings.Contains(stderr, "1 of 2 files failed") {
		t.Errorf("stderr = %q", stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "broken_edited.pem")); !os.IsNotExist(err) {
		t.Errorf("broken file produced output, stat err = %v", err)
	}
}

func TestCLI_RecordsToDatabase(t *testing.T) {
	dir := surveyDir(t, "a.pem", "b.pem")
	db := filepath.Join(t.TempDir(), "pem.db")

	code, _, stderr := runCLI(t, "-split", "-db", db, dir)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr)
	}

	st, err := store.OpenSQLite(context.Background(), db)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer st.Close()

	files, err := st.ListFiles(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d stored files, want 2", len(files))
	}
	names := []string{files[0].Name, files[1].Name}
	for _, want := range []string{"a_edited.pem", "b_edited.pem"} {
		if names[0] != want && names[1] != want {
			t.Errorf("stored names %v missing %s", names, want)
		}
	}
}

func TestParseComponents(t *testing.T) {
	got, err := parseComponents(" x, Z ,")
	if err != nil {
		t.Fatalf("parseComponents() error = %v", err)
	}
	if len(got) != 2 || got[0] != "X" || got[1] != "Z" {
		t.Errorf("parseComponents() = %v, want [X Z]", got)
	}
}
