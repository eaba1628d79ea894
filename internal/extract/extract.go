package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Kind classifies a holding as plain stock or an option position.
type Kind string

const (
	KindStock Kind = "stock"
	KindPut   Kind = "put"
	KindCall  Kind = "call"
)

// Holding is one normalized position line.
type Holding struct {
	Issuer string
	// Cusip is the 9-character security identifier when the filer reported one.
	Cusip  string
	Shares int64
	// Value is expressed in thousands of dollars after unit normalization.
	Value int64
	Kind  Kind
	// Ticker is an approximation derived from Issuer; see ApproximateTicker.
	Ticker string
}

// Row carries the raw text of one holding row exactly as found in the
// document. Both parsers produce Rows; normalization is shared.
type Row struct {
	Issuer     string
	Cusip      string
	ValueText  string
	SharesText string
	PutCall    string
}

// Document is the result of extracting one holdings document.
type Document struct {
	Format   Format
	Parser   string
	Holdings []Holding
	// SkippedRows counts rendered-table rows that could not be read as holdings.
	SkippedRows int
	// DegradedFields counts numeric fields that failed to parse and became zero.
	DegradedFields int
}

// ErrMalformed marks a parse failure that the lenient parser may recover from.
var ErrMalformed = errors.New("malformed holdings markup")

// Parser turns decoded document text into raw holding rows. A parser that
// cannot make sense of the markup returns an error wrapping ErrMalformed.
type Parser interface {
	Name() string
	Parse(text string) (Rows, error)
}

// Rows is a parser's output plus the number of rows it had to drop.
type Rows struct {
	Rows    []Row
	Skipped int
}

// Extractor selects a parser by document format and falls back from the
// strict parser to the lenient one on a classified parse error.
type Extractor struct {
	Strict  Parser
	Lenient Parser
}

// New returns an Extractor wired with the XML and tag-soup parsers.
func New() *Extractor {
	return &Extractor{Strict: XMLParser{}, Lenient: SoupParser{}}
}

// Extract decodes raw, classifies it and returns every holding it contains.
func (e *Extractor) Extract(ctx context.Context, raw []byte) (Document, error) {
	logger := zerolog.Ctx(ctx)
	text, decoder := Decode(raw)
	format := Classify(text)
	logger.Debug().Str("encoding", decoder).Str("format", format.String()).Int("bytes", len(raw)).Msg("classified holdings document")

	var parsed Rows
	var used Parser
	var err error
	switch format {
	case FormatHTML:
		used = e.Lenient
		parsed, err = used.Parse(text)
	default:
		used = e.Strict
		parsed, err = used.Parse(text)
		if err != nil && errors.Is(err, ErrMalformed) {
			logger.Debug().Err(err).Str("parser", e.Lenient.Name()).Msg("strict parse failed; using lenient parser")
			used = e.Lenient
			parsed, err = used.Parse(text)
		}
	}
	if err != nil {
		return Document{Format: format}, fmt.Errorf("parse holdings (%s): %w", used.Name(), err)
	}

	doc := Document{Format: format, Parser: used.Name(), SkippedRows: parsed.Skipped}
	doc.Holdings = make([]Holding, 0, len(parsed.Rows))
	for i, r := range parsed.Rows {
		h, degraded := Normalize(r)
		if degraded > 0 {
			logger.Warn().Int("row", i).Str("cusip", h.Cusip).Str("value", r.ValueText).Str("shares", r.SharesText).Msg("numeric field degraded to zero")
			doc.DegradedFields += degraded
		}
		doc.Holdings = append(doc.Holdings, h)
	}
	if parsed.Skipped > 0 {
		logger.Warn().Int("skipped", parsed.Skipped).Msg("rows skipped while reading holdings table")
	}
	return doc, nil
}
