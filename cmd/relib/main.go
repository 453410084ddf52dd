// Package main is the relib command line tool.
//
// relib inspects, validates, copies, and watches table stores. Stores are
// addressed by backend URL (file://, git://, s3://, memory://) or by an
// alias defined in the YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/relibdb/relib"
	"github.com/relibdb/relib/fsbackend"
	_ "github.com/relibdb/relib/gitbackend"
	_ "github.com/relibdb/relib/s3backend"
	"github.com/relibdb/relib/schemaval"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "relib: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: relib [flags] <command> [args]

Commands:
  inspect <store>       Print tables, row counts, checksums, and the version
  copy <store> <store>  Load a store and save it to another backend
  check <store>         Load a store with schema validation and report problems
  watch <store>         Re-inspect a file:// store whenever it changes

A <store> is a backend URL (file://, git://, s3://, memory://) or an alias
from the config file.

Flags:
`)
	flag.PrintDefaults()
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	configPath := flag.String("config", "", "Config file with store aliases (default: <user config dir>/relib.yaml)")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Drop empty attributes.
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "inspect":
		if len(args) != 1 {
			return errors.New("usage: relib inspect <store>")
		}
		return runInspect(ctx, cfg.resolve(args[0]))
	case "copy":
		if len(args) != 2 {
			return errors.New("usage: relib copy <src store> <dst store>")
		}
		return runCopy(ctx, cfg.resolve(args[0]), cfg.resolve(args[1]))
	case "check":
		if len(args) != 1 {
			return errors.New("usage: relib check <store>")
		}
		return runCheck(ctx, cfg.resolve(args[0]))
	case "watch":
		if len(args) != 1 {
			return errors.New("usage: relib watch <store>")
		}
		return runWatch(ctx, cfg.resolve(args[0]))
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runInspect(ctx context.Context, storeURL string) error {
	s, err := relib.StoreFromURL(ctx, storeURL)
	if err != nil {
		return err
	}
	return printStore(os.Stdout, s)
}

func runCopy(ctx context.Context, srcURL, dstURL string) error {
	s, err := relib.StoreFromURL(ctx, srcURL)
	if err != nil {
		return err
	}
	dst, err := relib.CreateBackend(dstURL)
	if err != nil {
		return err
	}
	if err := s.SaveToBackend(ctx, dst); err != nil {
		return err
	}
	slog.Info("copied store", "from", s.Origin(), "to", dst.String())
	return nil
}

// runCheck loads with schema validation installed; every row passes
// through constraint checks and the validator on load, so a clean load
// means a clean store.
func runCheck(ctx context.Context, storeURL string) error {
	b, err := relib.CreateBackend(storeURL)
	if err != nil {
		return err
	}
	s, err := relib.NewTableStore()
	if err != nil {
		return err
	}
	s.SetValidator(schemaval.New())
	if err := s.LoadFromBackend(ctx, b); err != nil {
		return err
	}
	rows := 0
	for _, t := range s.Tables() {
		rows += t.Len()
	}
	fmt.Printf("ok: %d tables, %d rows\n", len(s.Tables()), rows)
	return nil
}

func runWatch(ctx context.Context, storeURL string) error {
	b, err := relib.CreateBackend(storeURL)
	if err != nil {
		return err
	}
	fb, ok := b.(*fsbackend.Backend)
	if !ok {
		return fmt.Errorf("watch requires a file:// store, got %s", b)
	}

	var mu sync.Mutex
	var timer *time.Timer
	reload := func() {
		s, err := relib.NewTableStore()
		if err == nil {
			err = s.LoadFromBackend(ctx, fb)
		}
		if err != nil {
			slog.Error("failed to reload store", "err", err)
			return
		}
		_ = printStore(os.Stdout, s)
	}
	reload()
	return fb.Watch(ctx, func(name string) {
		slog.Debug("document changed", "name", name)
		mu.Lock()
		defer mu.Unlock()
		// A save touches many files; wait for the burst to settle.
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(500*time.Millisecond, reload)
	})
}

func printStore(w io.Writer, s *relib.TableStore) error {
	version, _ := s.Meta().Field("version")
	fmt.Fprintf(w, "origin:  %s\n", s.Origin())
	fmt.Fprintf(w, "version: %v\n", version)
	tw := tabwriter.NewWriter(w, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS\tCHECKSUM\tMODIFIED")
	for _, t := range s.Tables() {
		tm := s.GetTableMetadata(t.Name())
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", t.Name(), t.Len(), shortChecksum(tm["md5"]), orDash(tm["last_modified"]))
	}
	return tw.Flush()
}

func shortChecksum(v any) string {
	cs, _ := v.(string)
	if len(cs) > 12 {
		return cs[:12]
	}
	return orDash(cs)
}

func orDash(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "-"
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("relib %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
