package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperifyio/form13f/internal/edgar"
)

// ErrBadInput marks a trigger event that cannot be processed as given.
var ErrBadInput = errors.New("bad input")

// ID is a numeric identifier that may arrive as a JSON number or string.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id %s: %w", b, err)
	}
	*id = ID(n)
	return nil
}

// Event is the trigger for processing one filing.
type Event struct {
	FundID      int64  `json:"fund_id"`
	FilerID     string `json:"cik"`
	AccessionID string `json:"accession_number"`
	IndexURL    string `json:"filing_url"`
	// FilingID is optional; when zero the filing is looked up by accession.
	FilingID int64 `json:"filing_id,omitempty"`
}

// wireEvent accepts the field spellings used by the different producers.
type wireEvent struct {
	FundID         ID     `json:"fund_id"`
	CIK            string `json:"cik"`
	FilerID        string `json:"filer_id"`
	Accession      string `json:"accession_number"`
	AccessionID    string `json:"accession_id"`
	FilingURL      string `json:"filing_url"`
	FilingIndexURL string `json:"filing_index_url"`
	FilingID       ID     `json:"filing_id"`
}

// ParseEvent decodes one event, unwrapping an {"detail": {...}} envelope.
func ParseEvent(b []byte) (Event, error) {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	if len(envelope.Detail) > 0 && !bytes.Equal(envelope.Detail, []byte("null")) {
		b = envelope.Detail
	}
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return Event{
		FundID:      int64(w.FundID),
		FilerID:     firstNonEmpty(w.CIK, w.FilerID),
		AccessionID: firstNonEmpty(w.Accession, w.AccessionID),
		IndexURL:    firstNonEmpty(w.FilingURL, w.FilingIndexURL),
		FilingID:    int64(w.FilingID),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Validate reports every missing required field at once.
func (ev Event) Validate() error {
	var missing []string
	if ev.FundID <= 0 {
		missing = append(missing, "fund_id")
	}
	if strings.TrimSpace(ev.FilerID) == "" {
		missing = append(missing, "cik")
	}
	if strings.TrimSpace(ev.AccessionID) == "" {
		missing = append(missing, "accession_number")
	}
	if strings.TrimSpace(ev.IndexURL) == "" {
		missing = append(missing, "filing_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrBadInput, strings.Join(missing, ", "))
	}
	if err := ev.Reference().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}
	return nil
}

// Reference returns the archive coordinates of the event's filing.
func (ev Event) Reference() edgar.Reference {
	return edgar.Reference{FilerID: ev.FilerID, AccessionID: ev.AccessionID, IndexURL: ev.IndexURL}
}

// ResultStatus separates caller mistakes from processing failures.
type ResultStatus string

const (
	StatusOK              ResultStatus = "ok"
	StatusBadInput        ResultStatus = "bad_input"
	StatusProcessingError ResultStatus = "processing_error"
)

// Result is the outcome of one filing.
type Result struct {
	Status        ResultStatus `json:"status"`
	StatusCode    int          `json:"statusCode"`
	Accession     string       `json:"accession_number,omitempty"`
	FilingID      int64        `json:"filing_id,omitempty"`
	HoldingsCount *int         `json:"holdings_count,omitempty"`
	DocumentURL   string       `json:"document_url,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// OK reports whether the filing was processed successfully.
func (r Result) OK() bool { return r.Status == StatusOK }
