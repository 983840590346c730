// Package batch applies one edit request to many PEM files in parallel.
//
// Each file is one unit of work: it is read, parsed, edited, serialized and
// recorded before its output is renamed into place, so a failed file leaves
// no output behind.
// Files share no state, so workers need no coordination beyond the limit.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/logging"
	"github.com/JonMunkholm/pemtool/internal/pem"
)

// EditedSuffix is inserted before the extension when no output directory
// is set, so sources are never overwritten.
const EditedSuffix = "_edited"

// Runner holds the settings shared by every file of a batch.
type Runner struct {
	Request core.EditRequest
	Format  pem.Format
	Workers int    // 0 means one per CPU
	OutDir  string // empty writes next to each source

	// Record, when set, is called for every written file. The CLI uses it
	// to store results in the revision store.
	Record func(ctx context.Context, res Result) error
}

// Result is the outcome for one file.
type Result struct {
	Src      string
	Dst      string
	Readings int
	Ops      []string
	Content  []byte
	Duration time.Duration
	Err      error
}

// Summary counts the results of a batch.
type Summary struct {
	Files  int
	Failed int
}

// Collect expands args into PEM file paths. Directories are searched one
// level deep for *.pem in any letter case. The result is sorted and has
// no duplicates.
func Collect(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(filepath.Clean(arg))
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && IsPEM(e.Name()) {
				add(filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// IsPEM reports whether name has a .pem extension in any letter case.
func IsPEM(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pem")
}

// Destination returns the output path for src.
func (r *Runner) Destination(src string) string {
	if r.OutDir != "" {
		return filepath.Join(r.OutDir, filepath.Base(src))
	}
	ext := filepath.Ext(src)
	return strings.TrimSuffix(src, ext) + EditedSuffix + ext
}

// Run processes paths with at most Workers files in flight. Per-file
// failures are reported in the results, which keep the order of paths.
// The returned error is non-nil only when ctx ends the batch early.
func (r *Runner) Run(ctx context.Context, paths []string) ([]Result, error) {
	if r.OutDir != "" {
		if err := os.MkdirAll(r.OutDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	format := r.Format
	if format.ValuesPerLine <= 0 {
		format = pem.DefaultFormat
	}
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(paths))
	var mu sync.Mutex
	dsts := make(map[string]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range paths {
		dst := r.Destination(src)
		if prev, ok := dsts[dst]; ok {
			results[i] = Result{Src: src, Dst: dst, Err: fmt.Errorf("output %s already written for %s", dst, prev)}
			continue
		}
		dsts[dst] = src

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := r.process(gctx, format, src, dst)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (r *Runner) process(ctx context.Context, format pem.Format, src, dst string) Result {
	start := time.Now()
	logger := logging.WithFields(ctx, "file", src)
	res := Result{Src: src, Dst: dst, Ops: r.Request.Ops()}

	res.Err = func() error {
		f, err := pem.ParseFile(src)
		if err != nil {
			return err
		}
		edited := f
		if !r.Request.Empty() {
			if edited, err = r.Request.ApplyTo(f); err != nil {
				return err
			}
		}
		res.Readings = len(edited.Readings)
		res.Content = []byte(format.Serialize(edited))
		tmp, err := writeTemp(dst, res.Content)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		if r.Record != nil {
			if err := r.Record(ctx, res); err != nil {
				return err
			}
		}
		return os.Rename(tmp, dst)
	}()
	res.Duration = time.Since(start)

	if res.Err != nil {
		logger.Warn("file failed", "error", res.Err)
	} else {
		logger.Info("file written", "dst", dst, "readings", res.Readings,
			"duration_ms", res.Duration.Milliseconds())
	}
	return res
}

// writeTemp stages data in a temp file next to path. The caller renames it
// into place once the file has been recorded, so a reader never sees a
// partial file and a failed file leaves nothing behind.
func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pem-*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// Summarize counts results.
func Summarize(results []Result) Summary {
	s := Summary{Files: len(results)}
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
		}
	}
	return s
}
