package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/form13f/internal/cache"
	"github.com/hyperifyio/form13f/internal/edgar"
	"github.com/hyperifyio/form13f/internal/extract"
	"github.com/hyperifyio/form13f/internal/fetch"
	"github.com/hyperifyio/form13f/internal/locate"
	"github.com/hyperifyio/form13f/internal/store"
)

// failedUpdateTimeout bounds the FAILED status write, which runs even after
// the filing's own context was cancelled.
const failedUpdateTimeout = 10 * time.Second

// App processes filings: locate the holdings document, extract it, store the
// holdings and record the filing's final status.
type App struct {
	cfg       Config
	store     store.Store
	locator   *locate.Locator
	documents *fetch.Client
	extractor *extract.Extractor
	now       func() time.Time
}

// New builds an App from cfg. Probes and the holdings download share one
// limiter so the archive's request rate limit holds across both.
func New(cfg Config, st store.Store) (*App, error) {
	cfg = cfg.WithDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("app: store is required")
	}
	base := &fetch.Client{
		HTTPClient:   newArchiveHTTPClient(2 * cfg.DocumentTimeout),
		UserAgent:    cfg.UserAgent,
		Limiter:      edgar.NewLimiter(cfg.RequestsPerSecond),
		MaxBodyBytes: cfg.MaxDocumentBytes,
	}
	if cfg.CacheDir != "" {
		base.Cache = &cache.Documents{Dir: cfg.CacheDir, StrictPerms: true}
	}
	loc := locate.New(base.WithTimeout(cfg.ProbeTimeout), cfg.ArchiveBaseURL)
	if len(cfg.KnownFilenames) > 0 {
		loc.KnownFilenames = cfg.KnownFilenames
	}
	if len(cfg.ExcludedFilenames) > 0 {
		loc.Excluded = cfg.ExcludedFilenames
	}
	return &App{
		cfg:       cfg,
		store:     st,
		locator:   loc,
		documents: base.WithTimeout(cfg.DocumentTimeout),
		extractor: extract.New(),
		now:       time.Now,
	}, nil
}

// Locator exposes the configured locator for diagnostics.
func (a *App) Locator() *locate.Locator { return a.locator }

// run tracks how far one filing got, for failure reporting.
type run struct {
	ev       Event
	filingID int64
	stage    string
}

// ProcessFiling handles one trigger event end to end. It never panics and
// never returns with the filing left DISCOVERED once processing has started:
// any failure after input validation is recorded as FAILED.
func (a *App) ProcessFiling(ctx context.Context, ev Event) (res Result) {
	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).Str("accession", ev.AccessionID).Msg("rejected filing event")
		return Result{Status: StatusBadInput, StatusCode: http.StatusBadRequest, Accession: ev.AccessionID, Error: err.Error()}
	}

	// Filings that never started stay DISCOVERED so a later run picks them up.
	if err := ctx.Err(); err != nil {
		return notStarted(ev, err)
	}

	logger := log.With().
		Str("run_id", uuid.NewString()).
		Str("accession", ev.AccessionID).
		Str("cik", ev.FilerID).
		Int64("fund_id", ev.FundID).
		Logger()
	ctx = logger.WithContext(ctx)

	r := &run{ev: ev, filingID: ev.FilingID, stage: "start"}
	defer func() {
		if p := recover(); p != nil {
			res = a.fail(ctx, r, fmt.Errorf("panic: %v", p))
		}
	}()

	count, docURL, err := a.process(ctx, r)
	if err != nil {
		return a.fail(ctx, r, err)
	}
	logger.Info().Int64("filing_id", r.filingID).Int("holdings", count).Str("document", docURL).Msg("filing parsed")
	return Result{
		Status:        StatusOK,
		StatusCode:    http.StatusOK,
		Accession:     ev.AccessionID,
		FilingID:      r.filingID,
		HoldingsCount: &count,
		DocumentURL:   docURL,
	}
}

func (a *App) process(ctx context.Context, r *run) (int, string, error) {
	logger := zerolog.Ctx(ctx)
	ref := r.ev.Reference()

	if r.filingID == 0 {
		r.stage = "resolve-filing"
		f, err := a.store.FilingByAccession(ctx, r.ev.AccessionID)
		if err != nil {
			return 0, "", err
		}
		r.filingID = f.ID
	}

	r.stage = "locate"
	loc, err := a.locator.Locate(ctx, ref)
	if err != nil {
		return 0, "", err
	}
	logger.Debug().Str("url", loc.URL).Str("strategy", loc.Strategy).Int("probes", len(loc.Candidates)).Msg("located holdings document")

	r.stage = "download"
	body, _, err := a.documents.Get(ctx, loc.URL)
	if err != nil {
		return 0, "", fmt.Errorf("download %s: %w", loc.URL, err)
	}

	r.stage = "extract"
	doc, err := a.extractor.Extract(ctx, body)
	if err != nil {
		return 0, "", err
	}
	if doc.SkippedRows > 0 || doc.DegradedFields > 0 {
		logger.Warn().Int("skipped_rows", doc.SkippedRows).Int("degraded_fields", doc.DegradedFields).Msg("holdings extracted with anomalies")
	}

	r.stage = "store-holdings"
	for i, h := range doc.Holdings {
		err := a.store.UpsertHolding(ctx, store.Holding{
			FundID:      r.ev.FundID,
			FilingID:    r.filingID,
			Position:    i,
			CIK:         r.ev.FilerID,
			Ticker:      h.Ticker,
			Cusip:       h.Cusip,
			Shares:      h.Shares,
			MarketValue: h.Value,
			Type:        string(h.Kind),
		})
		if err != nil {
			return 0, "", err
		}
	}
	if err := a.store.PruneHoldings(ctx, r.filingID, len(doc.Holdings)); err != nil {
		return 0, "", err
	}

	r.stage = "report-period"
	var period *time.Time
	if t, err := a.locator.ReportPeriod(ctx, ref); err != nil {
		logger.Warn().Err(err).Msg("reporting period unavailable")
	} else {
		period = &t
	}

	r.stage = "mark-parsed"
	err = a.store.MarkParsed(ctx, r.filingID, store.ParsedUpdate{
		At:             a.now(),
		HoldingsCount:  len(doc.Holdings),
		PeriodOfReport: period,
		DocumentURL:    loc.URL,
	})
	if err != nil {
		return 0, "", err
	}
	return len(doc.Holdings), loc.URL, nil
}

// fail logs err, marks the filing FAILED and builds the failure result.
func (a *App) fail(ctx context.Context, r *run, err error) Result {
	zerolog.Ctx(ctx).Error().Err(err).Str("stage", r.stage).Int64("filing_id", r.filingID).Msg("filing processing failed")
	a.markFailed(ctx, r)
	return Result{
		Status:     StatusProcessingError,
		StatusCode: http.StatusInternalServerError,
		Accession:  r.ev.AccessionID,
		FilingID:   r.filingID,
		Error:      err.Error(),
	}
}

// markFailed attempts the FAILED update and swallows anything that goes wrong
// with it, panics included.
func (a *App) markFailed(ctx context.Context, r *run) {
	logger := zerolog.Ctx(ctx)
	defer func() {
		if p := recover(); p != nil {
			logger.Warn().Interface("panic", p).Msg("marking filing failed panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failedUpdateTimeout)
	defer cancel()
	u := store.FailedUpdate{FilingID: r.filingID, AccessionNumber: r.ev.AccessionID, At: a.now()}
	if err := a.store.MarkFailed(ctx, u); err != nil {
		logger.Warn().Err(err).Msg("could not mark filing failed")
	}
}

// ProcessAll handles events one after another and returns one result each.
// A failing filing never stops the batch.
func (a *App) ProcessAll(ctx context.Context, events []Event) []Result {
	results := make([]Result, 0, len(events))
	for _, ev := range events {
		results = append(results, a.ProcessFiling(ctx, ev))
	}
	return results
}

// notStarted reports a filing skipped because ctx ended before it began.
// The store is not touched.
func notStarted(ev Event, err error) Result {
	return Result{
		Status:     StatusProcessingError,
		StatusCode: http.StatusInternalServerError,
		Accession:  ev.AccessionID,
		FilingID:   ev.FilingID,
		Error:      "not started: " + err.Error(),
	}
}
