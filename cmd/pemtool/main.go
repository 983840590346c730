// Command pemtool applies edits to PEM survey files from the command line.
//
//	pemtool [flags] file.pem|dir ...
//
// Every named file, and every *.pem directly inside a named directory, gets
// the same edits. Output goes next to the source with an _edited suffix, or
// into -out when set. With -db each result is also stored as a new file in
// a SQLite revision store.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/pemtool/internal/batch"
	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/logging"
	"github.com/JonMunkholm/pemtool/internal/pem"
	"github.com/JonMunkholm/pemtool/internal/store"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

var exitFunc = os.Exit

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pemtool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: pemtool [flags] file.pem|dir ...")
		fs.PrintDefaults()
	}

	var (
		req      core.EditRequest
		reverse  string
		outDir   string
		dbPath   string
		workers  int
		width    int
		decimals int
		logLevel string
	)
	fs.BoolVar(&req.Average, "average", false, "average repeated readings per station and component")
	fs.BoolVar(&req.Split, "split", false, "remove on-time channels")
	fs.Float64Var(&req.Current, "current", 0, "rescale readings to this current (A)")
	fs.Float64Var(&req.CoilArea, "coil-area", 0, "rescale readings to this coil area (m²)")
	fs.IntVar(&req.Shift, "shift", 0, "add this offset to every station number")
	fs.StringVar(&reverse, "reverse", "", "comma-separated components to reverse (X, Y, Z)")
	fs.StringVar(&outDir, "out", "", "output directory (default: next to each source)")
	fs.StringVar(&dbPath, "db", "", "SQLite database to record results in")
	fs.IntVar(&workers, "workers", 0, "files processed in parallel (default: one per CPU)")
	fs.IntVar(&width, "width", pem.DefaultFormat.DecayWidth, "column width of decay values")
	fs.IntVar(&decimals, "decimals", pem.DefaultFormat.ChannelTimeDecimals, "decimals of channel times")
	fs.StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	comps, err := parseComponents(reverse)
	if err != nil {
		fmt.Fprintf(stderr, "pemtool: %v\n", err)
		return exitUsage
	}
	req.Reverse = comps
	if req.Current < 0 || req.CoilArea < 0 {
		fmt.Fprintln(stderr, "pemtool: -current and -coil-area must be positive")
		return exitUsage
	}

	logger := logging.New(stderr, logLevel, envOr("LOG_FORMAT", "text"))
	slog.SetDefault(logger)

	paths, err := batch.Collect(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "pemtool: %v\n", err)
		return exitUsage
	}
	if len(paths) == 0 {
		fmt.Fprintln(stderr, "pemtool: no .pem files found")
		return exitUsage
	}

	format := pem.DefaultFormat
	format.DecayWidth = width
	format.ChannelTimeDecimals = decimals

	runner := &batch.Runner{
		Request: req,
		Format:  format,
		Workers: workers,
		OutDir:  outDir,
	}

	if dbPath != "" {
		st, err := store.OpenSQLite(ctx, dbPath)
		if err != nil {
			fmt.Fprintf(stderr, "pemtool: open %s: %v\n", dbPath, err)
			return exitFailed
		}
		defer st.Close()
		svc := core.NewService(st, core.Options{Format: format})
		ctx = core.ContextWithActor(ctx, "pemtool")
		runner.Record = func(ctx context.Context, res batch.Result) error {
			rec, err := svc.Upload(ctx, filepath.Base(res.Dst), bytes.NewReader(res.Content))
			if err != nil {
				return fmt.Errorf("record: %w", err)
			}
			logger.Debug("result recorded", "file", res.Dst, "file_id", rec.ID)
			return nil
		}
	}

	results, err := runner.Run(ctx, paths)
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", res.Src, res.Err)
			continue
		}
		if res.Dst == "" {
			continue
		}
		fmt.Fprintf(stdout, "%s -> %s (%d readings)\n", res.Src, res.Dst, res.Readings)
	}
	if err != nil {
		fmt.Fprintf(stderr, "pemtool: %v\n", err)
		return exitFailed
	}

	sum := batch.Summarize(results)
	if sum.Failed > 0 {
		fmt.Fprintf(stderr, "%d of %d files failed\n", sum.Failed, sum.Files)
		return exitFailed
	}
	return exitOK
}

// parseComponents reads a list such as "x,Z".
func parseComponents(s string) ([]pem.Component, error) {
	var comps []pem.Component
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		c := pem.Component(p)
		if !c.Valid() {
			return nil, fmt.Errorf("-reverse: unknown component %q", p)
		}
		comps = append(comps, c)
	}
	return comps, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
