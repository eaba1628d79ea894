// Package store persists funds, their filings and the holdings extracted from
// them.
package store

import (
	"context"
	"errors"
	"time"
)

// Status is the processing state of a filing.
type Status string

const (
	StatusDiscovered Status = "DISCOVERED"
	StatusParsed     Status = "PARSED"
	StatusFailed     Status = "FAILED"
)

// ErrFilingNotFound is returned when no filing matches a lookup.
var ErrFilingNotFound = errors.New("filing not found")

// Filing is one row of fund_filings.
type Filing struct {
	ID              int64
	FundID          int64
	CIK             string
	AccessionNumber string
	FormType        string
	FilingURL       string
	Status          Status
	PeriodOfReport  *time.Time
	HoldingsCount   *int
	DocumentURL     string
	UpdatedAt       time.Time
}

// Holding is one row of fund_holdings. Position is the row's index within
// its document and, with FilingID, identifies the row across reprocessing.
type Holding struct {
	FundID      int64
	FilingID    int64
	Position    int
	CIK         string
	Ticker      string
	Cusip       string
	Shares      int64
	MarketValue int64
	Type        string
}

// ParsedUpdate carries the values recorded when a filing is marked PARSED.
type ParsedUpdate struct {
	At             time.Time
	HoldingsCount  int
	PeriodOfReport *time.Time
	DocumentURL    string
}

// FailedUpdate selects the filing to mark FAILED. FilingID is used when set,
// otherwise AccessionNumber.
type FailedUpdate struct {
	FilingID        int64
	AccessionNumber string
	At              time.Time
}

// Store is what filing processing needs from persistence. Each call is an
// independent write; there are no transactions spanning calls.
type Store interface {
	FilingByAccession(ctx context.Context, accession string) (Filing, error)
	UpsertHolding(ctx context.Context, h Holding) error
	// PruneHoldings deletes the filing's rows at or beyond keep positions.
	PruneHoldings(ctx context.Context, filingID int64, keep int) error
	MarkParsed(ctx context.Context, filingID int64, u ParsedUpdate) error
	MarkFailed(ctx context.Context, u FailedUpdate) error
}
