package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "form13f.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedFiling(t *testing.T, s *SQLite) (fundID, filingID int64) {
	t.Helper()
	ctx := context.Background()
	fundID, err := s.CreateFund(ctx, "Example Capital", "1234")
	if err != nil {
		t.Fatalf("create fund: %v", err)
	}
	filingID, err = s.CreateFiling(ctx, Filing{FundID: fundID, CIK: "0001234", AccessionNumber: "0001234567-24-000001"})
	if err != nil {
		t.Fatalf("create filing: %v", err)
	}
	return fundID, filingID
}

func TestOpenSQLite_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "form13f.db")
	for i := 0; i < 2; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		_ = s.Close()
	}
}

func TestFilingByAccession(t *testing.T) {
	s := openTest(t)
	_, filingID := seedFiling(t, s)
	f, err := s.FilingByAccession(context.Background(), "0001234567-24-000001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if f.ID != filingID || f.Status != StatusDiscovered || f.FormType != "13F-HR" {
		t.Fatalf("unexpected filing: %+v", f)
	}
	if _, err := s.FilingByAccession(context.Background(), "nope"); !errors.Is(err, ErrFilingNotFound) {
		t.Fatalf("expected ErrFilingNotFound, got %v", err)
	}
}

func TestUpsertAndPruneConverge(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	fundID, filingID := seedFiling(t, s)
	write := func(cusips ...string) {
		for i, c := range cusips {
			h := Holding{FundID: fundID, FilingID: filingID, Position: i, CIK: "0001234", Cusip: c, Shares: 10, MarketValue: 5, Type: "stock"}
			if err := s.UpsertHolding(ctx, h); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		if err := s.PruneHoldings(ctx, filingID, len(cusips)); err != nil {
			t.Fatalf("prune: %v", err)
		}
	}
	write("A", "B", "C")
	write("A", "B", "C")
	got, err := s.Holdings(ctx, filingID)
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("reprocessing duplicated rows: %d", len(got))
	}
	write("X", "Y")
	got, _ = s.Holdings(ctx, filingID)
	if len(got) != 2 || got[0].Cusip != "X" || got[1].Cusip != "Y" {
		t.Fatalf("unexpected rows after shorter run: %+v", got)
	}
}

func TestUpsertHolding_RejectsUnknownType(t *testing.T) {
	s := openTest(t)
	fundID, filingID := seedFiling(t, s)
	err := s.UpsertHolding(context.Background(), Holding{FundID: fundID, FilingID: filingID, CIK: "1", Type: "warrant"})
	if err == nil {
		t.Fatalf("expected constraint error")
	}
}

func TestMarkParsedAndFailed(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	_, filingID := seedFiling(t, s)

	period := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	at := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	err := s.MarkParsed(ctx, filingID, ParsedUpdate{At: at, HoldingsCount: 3, PeriodOfReport: &period, DocumentURL: "https://example.com/infotable.xml"})
	if err != nil {
		t.Fatalf("mark parsed: %v", err)
	}
	f, err := s.FilingByID(ctx, filingID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if f.Status != StatusParsed || f.HoldingsCount == nil || *f.HoldingsCount != 3 {
		t.Fatalf("unexpected filing: %+v", f)
	}
	if f.PeriodOfReport == nil || !f.PeriodOfReport.Equal(period) || !f.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected dates: period=%v updated=%v", f.PeriodOfReport, f.UpdatedAt)
	}
	if f.DocumentURL != "https://example.com/infotable.xml" {
		t.Fatalf("document url=%q", f.DocumentURL)
	}

	if err := s.MarkFailed(ctx, FailedUpdate{AccessionNumber: "0001234567-24-000001", At: at}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	f, _ = s.FilingByID(ctx, filingID)
	if f.Status != StatusFailed {
		t.Fatalf("status=%s", f.Status)
	}
	if err := s.MarkFailed(ctx, FailedUpdate{FilingID: 999}); !errors.Is(err, ErrFilingNotFound) {
		t.Fatalf("expected ErrFilingNotFound, got %v", err)
	}
}
