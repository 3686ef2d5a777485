// Package main implements the slotcache maintenance CLI.
//
// It operates on a vault directory at the store level: listing tokens and
// their timestamp ages, compacting store files, and clearing stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/electwix/slotcache/internal/config"
	"github.com/electwix/slotcache/internal/logging"
	"github.com/electwix/slotcache/internal/store"
)

const stampStoreFile = "slotcache-stamps.db"

func main() {
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

type options struct {
	ConfigPath   string
	Dir          string
	StrictConfig bool
	Verbose      bool
	Args         []string
}

func parse(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("slotcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (TOML or YAML)")
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (TOML or YAML)")
	fs.StringVar(&opts.Dir, "dir", "", "Vault directory; overrides the configuration file")
	fs.BoolVar(&opts.StrictConfig, "strict-config", false, "Treat configuration warnings as errors")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w\n\n%s", err, usage(fs))
	}

	opts.Args = fs.Args()
	return opts, nil
}

func usage(fs *flag.FlagSet) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Usage: %s [flags] <tokens|compact|clear> [store-file...]\n", fs.Name())
	out := fs.Output()
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(out)
	return buf.String()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	settings := config.Settings{Dir: opts.Dir, Verbose: opts.Verbose}
	if opts.ConfigPath != "" {
		res, err := config.Load(opts.ConfigPath, config.LoadOptions{Strict: opts.StrictConfig})
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
		for _, warning := range res.Warnings {
			_, _ = fmt.Fprintln(stderr, "warning:", warning)
		}
		settings = res.Settings
		if opts.Dir != "" {
			settings.Dir = opts.Dir
		}
		settings.Verbose = settings.Verbose || opts.Verbose
	}
	if settings.Dir == "" {
		_, _ = fmt.Fprintln(stderr, "a vault directory is required (-dir or a configuration file)")
		return 1
	}

	logger := logging.NewSlogAdapter(logging.New(logging.Options{
		Verbose: settings.Verbose,
		Writer:  stderr,
	}))

	if len(opts.Args) == 0 {
		_, _ = fmt.Fprintln(stderr, "a command is required: tokens, compact, or clear")
		return 1
	}

	command, rest := opts.Args[0], opts.Args[1:]
	switch command {
	case "tokens":
		err = listTokens(ctx, settings, stdout)
	case "compact":
		err = compactStores(ctx, settings, rest, logger)
	case "clear":
		if len(rest) == 0 {
			_, _ = fmt.Fprintln(stderr, "clear requires at least one store file name")
			return 1
		}
		err = clearStores(ctx, settings, rest, logger)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", command)
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

// storeFiles lists the .db files in the vault directory, stamp store last.
func storeFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(matches)
	var files []string
	for _, m := range matches {
		if filepath.Base(m) != stampStoreFile {
			files = append(files, m)
		}
	}
	return files, nil
}

func listTokens(ctx context.Context, settings config.Settings, stdout io.Writer) error {
	stamps, err := store.Open(ctx, filepath.Join(settings.Dir, stampStoreFile), store.Options{Key: settings.Key})
	if err != nil {
		return err
	}
	defer func() { _ = stamps.Close() }()

	files, err := storeFiles(settings.Dir)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, file := range files {
		st, err := store.Open(ctx, file, store.Options{Key: settings.Key})
		if err != nil {
			return err
		}
		keys, err := st.Keys(ctx)
		closeErr := st.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}

		_, _ = fmt.Fprintln(stdout, filepath.Base(file))
		for _, key := range keys {
			_, _ = fmt.Fprintf(stdout, "  %s%s\n", key, stampAge(ctx, stamps, key, now))
		}
	}
	return nil
}

func stampAge(ctx context.Context, stamps *store.Store, key string, now time.Time) string {
	raw, ok, err := stamps.Get(ctx, key)
	if err != nil || !ok {
		return ""
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("  age=%s", now.Sub(time.UnixMilli(ms)).Round(time.Second))
}

func compactStores(ctx context.Context, settings config.Settings, names []string, logger logging.Logger) error {
	files, err := selectFiles(settings.Dir, names)
	if err != nil {
		return err
	}
	for _, file := range files {
		st, err := store.Open(ctx, file, store.Options{Key: settings.Key})
		if err != nil {
			return err
		}
		err = st.Compact(ctx)
		closeErr := st.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		logger.Info("compacted store", "file", filepath.Base(file))
	}
	return nil
}

func clearStores(ctx context.Context, settings config.Settings, names []string, logger logging.Logger) error {
	stamps, err := store.Open(ctx, filepath.Join(settings.Dir, stampStoreFile), store.Options{Key: settings.Key})
	if err != nil {
		return err
	}
	defer func() { _ = stamps.Close() }()

	files, err := selectFiles(settings.Dir, names)
	if err != nil {
		return err
	}
	for _, file := range files {
		st, err := store.Open(ctx, file, store.Options{Key: settings.Key})
		if err != nil {
			return err
		}
		keys, err := st.Keys(ctx)
		if err == nil {
			err = st.Clear(ctx)
		}
		closeErr := st.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		// Timestamp records mirror the value records they stamp.
		for _, key := range keys {
			if err := stamps.Delete(ctx, key); err != nil {
				return err
			}
		}
		logger.Info("cleared store", "file", filepath.Base(file), "tokens", len(keys))
	}
	return nil
}

// selectFiles resolves store file names against the vault directory; with no
// names it selects every value store.
func selectFiles(dir string, names []string) ([]string, error) {
	if len(names) == 0 {
		return storeFiles(dir)
	}
	var files []string
	for _, name := range names {
		path := filepath.Join(dir, filepath.Base(name))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		files = append(files, path)
	}
	return files, nil
}
