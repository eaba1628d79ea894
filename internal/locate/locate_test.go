package locate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperifyio/form13f/internal/edgar"
	"github.com/hyperifyio/form13f/internal/fetch"
)

const (
	testCIK       = "0001234"
	testAccession = "0001234567-24-000001"
	filingDir     = "/Archives/edgar/data/1234/000123456724000001/"
)

const validTable = `<?xml version="1.0" encoding="UTF-8"?>
<informationTable xmlns="http://www.sec.gov/edgar/document/thirteenf/informationtable">
<infoTable><nameOfIssuer>Apple Inc</nameOfIssuer><cusip>037833100</cusip><value>10</value></infoTable>
</informationTable>`

const renderedTable = `<!DOCTYPE html><html><body><table><tr><td>CUSIP</td></tr><tr><td>037833100</td></tr></table>
<!-- informationTable --></body></html>`

const coverDoc = `<?xml version="1.0"?><edgarSubmission><headerData/><formData>
<coverPage><reportCalendarOrQuarter>03-31-2024</reportCalendarOrQuarter></coverPage></formData></edgarSubmission>`

// archive is a minimal filings archive: unknown paths are 404.
type archive struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newArchive(pages map[string]string) (*archive, *httptest.Server) {
	a := &archive{pages: pages, hits: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.hits[r.URL.Path]++
		body, ok := a.pages[r.URL.Path]
		a.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".xml") {
			w.Header().Set("Content-Type", "text/xml")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		_, _ = w.Write([]byte(body))
	}))
	return a, srv
}

func (a *archive) hitCount(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[path]
}

func newLocator(srv *httptest.Server) *Locator {
	c := &fetch.Client{HTTPClient: srv.Client(), UserAgent: "form13f-test test@example.com", PerRequestTimeout: 2 * time.Second}
	return New(c, srv.URL+"/Archives/edgar/data")
}

func testRef(srv *httptest.Server) edgar.Reference {
	return edgar.Reference{FilerID: testCIK, AccessionID: testAccession, IndexURL: srv.URL + filingDir + testAccession + "-index.htm"}
}

func TestLocate_DirectoryListingSingleValidLink(t *testing.T) {
	listing := `<html><body><table>
<tr><td><a href="` + filingDir + `primary_doc.xml">primary_doc.xml</a></td></tr>
<tr><td><a href="` + filingDir + `0001234567-24-000001.txt">0001234567-24-000001.txt</a></td></tr>
<tr><td><a href="q1_2024_positions_final.xml">q1_2024_positions_final.xml</a></td></tr>
</table></body></html>`
	a, srv := newArchive(map[string]string{
		filingDir:                                  listing,
		filingDir + "primary_doc.xml":              coverDoc,
		filingDir + "q1_2024_positions_final.xml": validTable,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(loc.URL, "/q1_2024_positions_final.xml") || loc.Strategy != "directory-listing" {
		t.Fatalf("got url=%q strategy=%q", loc.URL, loc.Strategy)
	}
	if n := a.hitCount(filingDir + "primary_doc.xml"); n != 0 {
		t.Fatalf("excluded cover document was fetched %d times", n)
	}
	if len(loc.Candidates) != 1 || loc.Candidates[0].Verdict != Valid {
		t.Fatalf("unexpected trace: %+v", loc.Candidates)
	}
}

func TestLocate_KnownFilename(t *testing.T) {
	_, srv := newArchive(map[string]string{
		filingDir + "informationtable.xml": validTable,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.URL != srv.URL+filingDir+"informationtable.xml" || loc.Strategy != "known-filename" {
		t.Fatalf("got url=%q strategy=%q", loc.URL, loc.Strategy)
	}
}

func TestLocate_IndexLinkMatchSkipsHTMLRendering(t *testing.T) {
	index := `<html><body>
<a href="/Archives/edgar/data/1234/000123456724000001/xslForm13F_X02/form13fInfoTable.xml">view</a>
<a href="/Archives/edgar/data/1234/000123456724000001/Q1form13fInfoTable.xml">raw</a>
</body></html>`
	_, srv := newArchive(map[string]string{
		filingDir + testAccession + "-index.htm":         index,
		filingDir + "xslForm13F_X02/form13fInfoTable.xml": renderedTable,
		filingDir + "Q1form13fInfoTable.xml":              validTable,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.URL != srv.URL+filingDir+"Q1form13fInfoTable.xml" || loc.Strategy != "index-link-match" {
		t.Fatalf("got url=%q strategy=%q", loc.URL, loc.Strategy)
	}
	var sawHTML bool
	for _, c := range loc.Candidates {
		if c.Verdict == HTMLFallback {
			sawHTML = true
		}
	}
	if !sawHTML {
		t.Fatalf("expected the rendered view to be probed and rejected: %+v", loc.Candidates)
	}
}

func TestLocate_IndexLinkMatchCorrectsFiler(t *testing.T) {
	wrongDir := "/Archives/edgar/data/9999/000123456724000001/"
	index := `<html><body><a href="` + wrongDir + `Q1form13fInfoTable.xml">raw</a></body></html>`
	a, srv := newArchive(map[string]string{
		filingDir + testAccession + "-index.htm": index,
		filingDir + "Q1form13fInfoTable.xml":     validTable,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.URL != srv.URL+filingDir+"Q1form13fInfoTable.xml" || loc.Strategy != "index-link-match" {
		t.Fatalf("got url=%q strategy=%q", loc.URL, loc.Strategy)
	}
	n := len(loc.Candidates)
	if n < 2 || loc.Candidates[n-2].URL != srv.URL+wrongDir+"Q1form13fInfoTable.xml" || loc.Candidates[n-2].Verdict != Unreachable {
		t.Fatalf("original link must be tried first: %+v", loc.Candidates)
	}
	if a.hitCount(wrongDir+"Q1form13fInfoTable.xml") != 1 || a.hitCount(filingDir+"Q1form13fInfoTable.xml") != 1 {
		t.Fatalf("each candidate must be fetched exactly once")
	}
}

func TestLocate_FilerCorrectionTriesOriginalFirst(t *testing.T) {
	wrongDir := "/Archives/edgar/data/9999/000123456724000001/"
	index := `<html><body><table class="tableFile" summary="Document Format Files">
<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>
<tr><td>1</td><td></td><td><a href="` + wrongDir + `primary_doc.xml">primary_doc.xml</a></td><td>13F-HR</td><td>2 KB</td></tr>
<tr><td>2</td><td></td><td><a href="` + wrongDir + `holdings.xml">holdings.xml</a></td><td>INFORMATION TABLE</td><td>9 KB</td></tr>
</table></body></html>`
	a, srv := newArchive(map[string]string{
		filingDir + testAccession + "-index.htm": index,
		wrongDir + "holdings.xml":                renderedTable,
		filingDir + "holdings.xml":               validTable,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.URL != srv.URL+filingDir+"holdings.xml" || loc.Strategy != "index-table-type" {
		t.Fatalf("got url=%q strategy=%q", loc.URL, loc.Strategy)
	}
	n := len(loc.Candidates)
	if n < 2 {
		t.Fatalf("expected at least two probes, got %+v", loc.Candidates)
	}
	if got := loc.Candidates[n-2].URL; got != srv.URL+wrongDir+"holdings.xml" {
		t.Fatalf("original link must be tried first, got %q", got)
	}
	if a.hitCount(wrongDir+"holdings.xml") != 1 || a.hitCount(filingDir+"holdings.xml") != 1 {
		t.Fatalf("each candidate must be fetched exactly once")
	}
}

func TestLocate_FilerCorrectionKeepsValidOriginal(t *testing.T) {
	otherDir := "/Archives/edgar/data/9999/000123456724000001/"
	index := `<html><body><table><tr><td><a href="` + otherDir + `holdings.xml">holdings.xml</a></td><td>INFORMATION TABLE</td></tr></table></body></html>`
	a, srv := newArchive(map[string]string{
		filingDir + testAccession + "-index.htm": index,
		otherDir + "holdings.xml":                validTable,
		filingDir + "holdings.xml":               validTable,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.URL != srv.URL+otherDir+"holdings.xml" {
		t.Fatalf("got %q", loc.URL)
	}
	if a.hitCount(filingDir+"holdings.xml") != 0 {
		t.Fatalf("corrected URL must not be tried when the original validates")
	}
}

func TestLocate_BruteForce(t *testing.T) {
	index := `<html><body><a href="primary_doc.xml">cover</a><a href="notes.xml">notes</a><a href="data_2024.xml">data</a></body></html>`
	_, srv := newArchive(map[string]string{
		filingDir + testAccession + "-index.htm": index,
		filingDir + "notes.xml":                  `<?xml version="1.0"?><notes>nothing here</notes>`,
		filingDir + "data_2024.xml":              validTable,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Strategy != "index-brute-force" || !strings.HasSuffix(loc.URL, "/data_2024.xml") {
		t.Fatalf("got url=%q strategy=%q", loc.URL, loc.Strategy)
	}
}

func TestLocate_AllStrategiesFail(t *testing.T) {
	_, srv := newArchive(map[string]string{
		filingDir + testAccession + "-index.htm": `<html><body><a href="primary_doc.xml">cover</a></body></html>`,
		filingDir + "primary_doc.xml":            coverDoc,
	})
	defer srv.Close()

	loc, err := newLocator(srv).Locate(context.Background(), testRef(srv))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if loc.URL != "" {
		t.Fatalf("unexpected url %q", loc.URL)
	}
	for _, c := range loc.Candidates {
		if c.Verdict == Valid {
			t.Fatalf("no candidate should validate: %+v", c)
		}
	}
}

func TestLocate_InvalidReference(t *testing.T) {
	l := New(nil, "")
	_, err := l.Locate(context.Background(), edgar.Reference{FilerID: "000", AccessionID: testAccession})
	if !errors.Is(err, edgar.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tt := []struct {
		name string
		body string
		want Verdict
	}{
		{"Declaration and root", validTable, Valid},
		{"Bare root tag", `<informationTable><infoTable/></informationTable>`, Valid},
		{"Prefixed root tag", `<ns1:informationTable xmlns:ns1="x"></ns1:informationTable>`, Valid},
		{"Leading whitespace", "\n\n  " + validTable, Valid},
		{"HTML rendering", renderedTable, HTMLFallback},
		{"XHTML with declaration", `<?xml version="1.0"?><!DOCTYPE html><html><body>infoTable</body></html>`, HTMLFallback},
		{"Cover document", coverDoc, Unrelated},
		{"Plain text", "informationTable", Unrelated},
		{"Empty", "", Unrelated},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if got := Validate([]byte(tc.body)); got != tc.want {
				t.Fatalf("Validate=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestReportPeriod(t *testing.T) {
	t.Run("Cover document", func(t *testing.T) {
		_, srv := newArchive(map[string]string{filingDir + "primary_doc.xml": coverDoc})
		defer srv.Close()
		got, err := newLocator(srv).ReportPeriod(context.Background(), testRef(srv))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("period=%v", got)
		}
	})
	t.Run("Index page", func(t *testing.T) {
		index := `<html><body><div class="formGrouping"><div class="infoHead">Filing Date</div><div class="info">2024-05-15</div>
<div class="infoHead">Period of Report</div><div class="info">2024-03-31</div></div></body></html>`
		_, srv := newArchive(map[string]string{filingDir + testAccession + "-index.htm": index})
		defer srv.Close()
		got, err := newLocator(srv).ReportPeriod(context.Background(), testRef(srv))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Format("2006-01-02") != "2024-03-31" {
			t.Fatalf("period=%v", got)
		}
	})
	t.Run("Missing", func(t *testing.T) {
		_, srv := newArchive(map[string]string{})
		defer srv.Close()
		if _, err := newLocator(srv).ReportPeriod(context.Background(), testRef(srv)); !errors.Is(err, ErrNoPeriod) {
			t.Fatalf("expected ErrNoPeriod, got %v", err)
		}
	})
}
