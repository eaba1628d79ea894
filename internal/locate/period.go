package locate

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/hyperifyio/form13f/internal/edgar"
)

// CoverDocument is the filing's cover page, which carries the report period.
const CoverDocument = "primary_doc.xml"

var periodLayouts = []string{"01-02-2006", "2006-01-02", "01/02/2006"}

// ErrNoPeriod is returned when neither the cover document nor the index page
// states a reporting period.
var ErrNoPeriod = errors.New("reporting period not found")

// ReportPeriod looks up the filing's period of report: first in the cover
// document, then in the index page header.
func (l *Locator) ReportPeriod(ctx context.Context, ref edgar.Reference) (time.Time, error) {
	cover := ref.DocumentURL(l.ArchiveBase, CoverDocument)
	if body, _, err := l.Fetcher.Get(ctx, cover); err == nil {
		if t, ok := periodFromCover(body); ok {
			return t, nil
		}
	} else {
		zerolog.Ctx(ctx).Debug().Err(err).Str("url", cover).Msg("cover document unavailable")
	}
	body, _, err := l.Fetcher.Get(ctx, l.IndexURL(ref))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoPeriod, err)
	}
	if t, ok := periodFromIndex(body); ok {
		return t, nil
	}
	return time.Time{}, ErrNoPeriod
}

func parsePeriod(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// periodFromCover reads periodOfReport, or reportCalendarOrQuarter when that
// is absent, from the cover document.
func periodFromCover(body []byte) (time.Time, bool) {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.Strict = false
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	var current string
	found := map[string]string{}
	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = strings.ToLower(t.Name.Local)
		case xml.EndElement:
			current = ""
		case xml.CharData:
			if current == "periodofreport" || current == "reportcalendarorquarter" {
				found[current] += string(t)
			}
		}
	}
	for _, key := range []string{"periodofreport", "reportcalendarorquarter"} {
		if t, ok := parsePeriod(found[key]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// periodFromIndex reads the "Period of Report" header block of an index page.
func periodFromIndex(body []byte) (time.Time, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return time.Time{}, false
	}
	var out time.Time
	var ok bool
	doc.Find("div.infoHead").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.Text()), "Period of Report") {
			return true
		}
		out, ok = parsePeriod(s.NextFiltered("div.info").Text())
		return !ok
	})
	return out, ok
}
