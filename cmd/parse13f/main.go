package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/form13f/internal/app"
	"github.com/hyperifyio/form13f/internal/cache"
	"github.com/hyperifyio/form13f/internal/edgar"
	"github.com/hyperifyio/form13f/internal/store"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		configPath      string
		envFiles        string
		eventsPath      string
		userAgent       string
		archiveURL      string
		rps             int
		probeTimeout    time.Duration
		documentTimeout time.Duration
		maxBytes        int64
		dbPath          string
		knownNames      string
		cacheDir        string
		cacheMaxAge     time.Duration
		cacheClear      bool
		single          app.Event
		verbose         bool
		showVersion     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML or JSON config file")
	flag.StringVar(&envFiles, "env", ".env", "Comma-separated dotenv files to load before reading the environment")
	flag.StringVar(&eventsPath, "events", "-", "Path to filing events (JSON object, array or one per line); - reads stdin")
	flag.StringVar(&userAgent, "user-agent", "", "Identifying User-Agent for archive requests, e.g. 'Example Capital ops@example.com'")
	flag.StringVar(&archiveURL, "archive.url", "", "Archive base URL (default "+edgar.DefaultArchiveBaseURL+")")
	flag.IntVar(&rps, "rps", 0, "Maximum archive requests per second (1-10)")
	flag.DurationVar(&probeTimeout, "probe.timeout", 0, "Timeout for each candidate validation probe (default 5s)")
	flag.DurationVar(&documentTimeout, "document.timeout", 0, "Timeout for the holdings document download (default 30s)")
	flag.Int64Var(&maxBytes, "document.maxBytes", 0, "Reject archive responses larger than this many bytes (default 256 MiB)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (default form13f.db)")
	flag.StringVar(&knownNames, "locator.known", "", "Comma-separated holdings filenames to probe instead of the built-in list")
	flag.StringVar(&cacheDir, "cache.dir", "", "Directory for cached archive documents; empty disables caching")
	flag.DurationVar(&cacheMaxAge, "cache.maxAge", 0, "Purge cached documents older than this before running")
	flag.BoolVar(&cacheClear, "cache.clear", false, "Remove all cached documents before running")
	flag.Int64Var(&single.FundID, "fund-id", 0, "Process one filing: fund id (with -cik, -accession, -index.url)")
	flag.StringVar(&single.FilerID, "cik", "", "Process one filing: filer CIK")
	flag.StringVar(&single.AccessionID, "accession", "", "Process one filing: accession number, e.g. 0001234567-24-000001")
	flag.StringVar(&single.IndexURL, "index.url", "", "Process one filing: filing index page URL")
	flag.Int64Var(&single.FilingID, "filing-id", 0, "Process one filing: stored filing id (optional)")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(app.VersionString("parse13f"))
		return
	}
	if err := app.LoadEnvFiles(splitList(envFiles)...); err != nil {
		log.Fatal().Err(err).Msg("load env files")
	}
	cfg, err := app.ResolveConfig(app.Config{
		UserAgent:         userAgent,
		ArchiveBaseURL:    archiveURL,
		RequestsPerSecond: rps,
		ProbeTimeout:      probeTimeout,
		DocumentTimeout:   documentTimeout,
		MaxDocumentBytes:  maxBytes,
		DatabasePath:      dbPath,
		KnownFilenames:    splitList(knownNames),
		CacheDir:          cacheDir,
		CacheMaxAge:       cacheMaxAge,
		Verbose:           verbose,
	}, configPath)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := prepareCache(cfg, cacheClear); err != nil {
		log.Error().Err(err).Str("dir", cfg.CacheDir).Msg("prepare cache")
		os.Exit(2)
	}

	var in io.Reader
	if single.AccessionID != "" || single.FilerID != "" {
		b, err := json.Marshal(single)
		if err != nil {
			log.Fatal().Err(err).Msg("encode event")
		}
		in = bytes.NewReader(b)
	} else {
		r, closeIn, err := openEvents(eventsPath)
		if err != nil {
			log.Error().Err(err).Msg("open events")
			os.Exit(2)
		}
		defer closeIn()
		in = r
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed, err := run(ctx, cfg, in, os.Stdout)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(2)
	}
	if failed > 0 {
		log.Warn().Int("failed", failed).Msg("some filings were not parsed")
		os.Exit(1)
	}
}

// run processes every event read from in and writes one JSON result per line
// to out. It returns how many filings did not succeed.
func run(ctx context.Context, cfg app.Config, in io.Reader, out io.Writer) (int, error) {
	db, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	a, err := app.New(cfg, db)
	if err != nil {
		return 0, err
	}
	events, err := readEvents(in)
	if err != nil {
		return 0, err
	}

	// Undecodable events get their result in place; the rest go through
	// ProcessAll, which stops starting new filings once ctx is done.
	results := make([]app.Result, len(events))
	var valid []app.Event
	var slots []int
	for i, pe := range events {
		if pe.err != nil {
			results[i] = app.Result{Status: app.StatusBadInput, StatusCode: http.StatusBadRequest, Error: pe.err.Error()}
			continue
		}
		valid = append(valid, pe.event)
		slots = append(slots, i)
	}
	for j, res := range a.ProcessAll(ctx, valid) {
		results[slots[j]] = res
	}

	enc := json.NewEncoder(out)
	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
		if err := enc.Encode(res); err != nil {
			return failed, fmt.Errorf("write result: %w", err)
		}
	}
	log.Info().Int("filings", len(events)).Int("failed", failed).Msg("done")
	return failed, nil
}

// parsedEvent keeps undecodable events in the batch so each input still
// yields one result.
type parsedEvent struct {
	event app.Event
	err   error
}

// readEvents accepts a single event, a JSON array of events, or a stream of
// events separated by whitespace (one per line).
func readEvents(r io.Reader) ([]parsedEvent, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	b = bytes.TrimSpace(b)
	var raws []json.RawMessage
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &raws); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(b))
		for {
			var raw json.RawMessage
			err := dec.Decode(&raw)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode event stream: %w", err)
			}
			raws = append(raws, raw)
		}
	}
	out := make([]parsedEvent, 0, len(raws))
	for _, raw := range raws {
		ev, err := app.ParseEvent(raw)
		out = append(out, parsedEvent{event: ev, err: err})
	}
	return out, nil
}

// prepareCache applies the clear and max-age policies to the document cache.
func prepareCache(cfg app.Config, clear bool) error {
	if cfg.CacheDir == "" {
		return nil
	}
	if clear {
		return cache.ClearDir(cfg.CacheDir)
	}
	n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Debug().Int("removed", n).Msg("purged cached documents")
	}
	return nil
}

func openEvents(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
