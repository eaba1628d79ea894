package locate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/hyperifyio/form13f/internal/edgar"
	"github.com/hyperifyio/form13f/internal/fetch"
)

// ErrNotFound is returned when no strategy produced a valid holdings document.
var ErrNotFound = errors.New("holdings document not found")

// DefaultKnownFilenames are names under which filers have published the
// information table.
var DefaultKnownFilenames = []string{
	"infotable.xml",
	"InfoTable.xml",
	"informationtable.xml",
	"InformationTable.xml",
	"form13fInfoTable.xml",
	"form13fInformationTable.xml",
	"information_table.xml",
	"info_table.xml",
	"13F_InfoTable.xml",
}

// DefaultExcludedFilenames are XML documents of a filing that never hold the
// information table.
var DefaultExcludedFilenames = []string{"primary_doc.xml", "FilingSummary.xml"}

// Fetcher retrieves one URL. *fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Verdict is the outcome of validating one candidate.
type Verdict int

const (
	Valid Verdict = iota
	HTMLFallback
	Unrelated
	Unreachable
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case HTMLFallback:
		return "html"
	case Unrelated:
		return "unrelated"
	default:
		return "unreachable"
	}
}

// CandidateDocument is one probed URL and what was found there.
type CandidateDocument struct {
	URL      string
	Strategy string
	Verdict  Verdict
	Err      string
}

// Location is the resolved holdings document together with the probe trace.
type Location struct {
	URL        string
	Strategy   string
	Candidates []CandidateDocument
}

// Locator finds the information table of a filing. Fetcher should be
// configured with a short per-request timeout since many probes may be made.
type Locator struct {
	Fetcher        Fetcher
	ArchiveBase    string
	KnownFilenames []string
	Excluded       []string
}

// New returns a Locator using the default filename lists.
func New(f Fetcher, archiveBase string) *Locator {
	return &Locator{
		Fetcher:        f,
		ArchiveBase:    archiveBase,
		KnownFilenames: DefaultKnownFilenames,
		Excluded:       DefaultExcludedFilenames,
	}
}

// strategy is one tier of the search. It reports the validated URL, if any.
type strategy struct {
	name string
	run  func(s *search, ctx context.Context) (string, bool)
}

// strategies run in this order; the first to validate a document wins.
var strategies = []strategy{
	{"directory-listing", (*search).directoryListing},
	{"known-filename", (*search).knownFilenames},
	{"index-link-match", (*search).indexLinkMatch},
	{"index-table-type", (*search).indexTableType},
	{"index-brute-force", (*search).indexBruteForce},
}

// Locate runs every strategy in priority order and returns the first URL whose
// content validates. It returns ErrNotFound when all strategies come up empty.
func (l *Locator) Locate(ctx context.Context, ref edgar.Reference) (Location, error) {
	if err := ref.Validate(); err != nil {
		return Location{}, err
	}
	logger := zerolog.Ctx(ctx)
	s := &search{l: l, ref: ref, probed: map[string]Verdict{}}
	for _, st := range strategies {
		if err := ctx.Err(); err != nil {
			return Location{Candidates: s.trace}, err
		}
		s.current = st.name
		u, ok := st.run(s, ctx)
		if ok {
			logger.Debug().Str("strategy", st.name).Str("url", u).Int("probes", len(s.trace)).Msg("holdings document located")
			return Location{URL: u, Strategy: st.name, Candidates: s.trace}, nil
		}
		logger.Debug().Str("strategy", st.name).Msg("strategy found nothing")
	}
	return Location{Candidates: s.trace}, fmt.Errorf("%w: %s after %d probes", ErrNotFound, ref.AccessionID, len(s.trace))
}

// search holds per-call state: the probe trace, a verdict cache so a URL is
// fetched at most once, and the lazily fetched index page.
type search struct {
	l       *Locator
	ref     edgar.Reference
	current string
	probed  map[string]Verdict
	trace   []CandidateDocument

	indexLoaded bool
	indexURL    string
	index       *goquery.Document
}

// probe fetches and validates u, remembering the verdict.
func (s *search) probe(ctx context.Context, u string) bool {
	if v, ok := s.probed[u]; ok {
		return v == Valid
	}
	c := CandidateDocument{URL: u, Strategy: s.current}
	body, _, err := s.l.Fetcher.Get(ctx, u)
	if err != nil {
		c.Verdict = Unreachable
		c.Err = err.Error()
	} else {
		c.Verdict = Validate(body)
	}
	s.probed[u] = c.Verdict
	s.trace = append(s.trace, c)
	zerolog.Ctx(ctx).Debug().Str("strategy", s.current).Str("url", u).Str("verdict", c.Verdict.String()).Str("error", c.Err).Msg("probed candidate")
	return c.Verdict == Valid
}

// probeCorrected tries u and, when its filer segment differs from the filing's
// filer, the corrected URL. The original is always tried first.
func (s *search) probeCorrected(ctx context.Context, u string) (string, bool) {
	if s.probe(ctx, u) {
		return u, true
	}
	cik, ok := edgar.FilerFromURL(u)
	if !ok || cik == s.ref.CIK() {
		return "", false
	}
	fixed := edgar.ReplaceFiler(u, s.ref.CIK())
	zerolog.Ctx(ctx).Debug().Str("url", u).Str("embedded_cik", cik).Str("corrected", fixed).Msg("link points at a different filer")
	if s.probe(ctx, fixed) {
		return fixed, true
	}
	return "", false
}

func (s *search) excluded(u string) bool {
	name := edgar.Filename(u)
	for _, ex := range s.l.Excluded {
		if strings.EqualFold(name, ex) {
			return true
		}
	}
	return false
}

func (s *search) directoryListing(ctx context.Context) (string, bool) {
	listing := s.ref.BaseDir(s.l.ArchiveBase)
	doc, err := s.page(ctx, listing)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("url", listing).Msg("directory listing unavailable")
		return "", false
	}
	for _, u := range xmlLinks(doc, listing) {
		if s.excluded(u) {
			continue
		}
		if s.probe(ctx, u) {
			return u, true
		}
	}
	return "", false
}

func (s *search) knownFilenames(ctx context.Context) (string, bool) {
	for _, name := range s.l.KnownFilenames {
		u := s.ref.DocumentURL(s.l.ArchiveBase, name)
		if s.excluded(u) {
			continue
		}
		if s.probe(ctx, u) {
			return u, true
		}
	}
	return "", false
}

func (s *search) indexLinkMatch(ctx context.Context) (string, bool) {
	doc, base, ok := s.indexPage(ctx)
	if !ok {
		return "", false
	}
	for _, u := range xmlLinks(doc, base) {
		if s.excluded(u) || !s.matchesKnownName(u) {
			continue
		}
		if found, ok := s.probeCorrected(ctx, u); ok {
			return found, true
		}
	}
	return "", false
}

var infoTableName = regexp.MustCompile(`(?i)info(rmation)?_?table`)

func (s *search) indexTableType(ctx context.Context) (string, bool) {
	doc, base, ok := s.indexPage(ctx)
	if !ok {
		return "", false
	}
	var links []string
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		rowText := strings.ToUpper(tr.Text())
		tr.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			u, ok := resolveXML(base, a.AttrOr("href", ""))
			if !ok {
				return
			}
			if strings.Contains(rowText, "INFORMATION TABLE") || infoTableName.MatchString(edgar.Filename(u)) {
				links = append(links, u)
			}
		})
	})
	for _, u := range links {
		if s.excluded(u) {
			continue
		}
		if found, ok := s.probeCorrected(ctx, u); ok {
			return found, true
		}
	}
	return "", false
}

func (s *search) indexBruteForce(ctx context.Context) (string, bool) {
	doc, base, ok := s.indexPage(ctx)
	if !ok {
		return "", false
	}
	for _, u := range xmlLinks(doc, base) {
		if s.excluded(u) {
			continue
		}
		if s.probe(ctx, u) {
			return u, true
		}
	}
	return "", false
}

func (s *search) matchesKnownName(u string) bool {
	name := strings.ToLower(edgar.Filename(u))
	for _, k := range s.l.KnownFilenames {
		if strings.Contains(name, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// IndexURL returns the filing's index page URL, deriving the conventional
// <accession>-index.htm location when the reference carries none.
func (l *Locator) IndexURL(ref edgar.Reference) string {
	if ref.IndexURL != "" {
		return ref.IndexURL
	}
	return ref.DocumentURL(l.ArchiveBase, strings.TrimSpace(ref.AccessionID)+"-index.htm")
}

// indexPage fetches the index page once per search.
func (s *search) indexPage(ctx context.Context) (*goquery.Document, string, bool) {
	if !s.indexLoaded {
		s.indexLoaded = true
		s.indexURL = s.l.IndexURL(s.ref)
		doc, err := s.page(ctx, s.indexURL)
		switch {
		case err == nil:
		case fetch.IsNotFound(err):
			zerolog.Ctx(ctx).Debug().Str("url", s.indexURL).Msg("filing has no index page")
		default:
			// The three index tiers are skipped, so this is worth seeing.
			zerolog.Ctx(ctx).Warn().Err(err).Str("url", s.indexURL).Msg("index page unavailable")
		}
		s.index = doc
	}
	return s.index, s.indexURL, s.index != nil
}

func (s *search) page(ctx context.Context, u string) (*goquery.Document, error) {
	body, _, err := s.l.Fetcher.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// xmlLinks returns the absolute URLs of every .xml link in doc, in document
// order and without duplicates.
func xmlLinks(doc *goquery.Document, base string) []string {
	seen := map[string]bool{}
	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		u, ok := resolveXML(base, a.AttrOr("href", ""))
		if !ok || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	})
	return out
}

func resolveXML(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := b.ResolveReference(ref)
	u.Fragment = ""
	if !strings.HasSuffix(strings.ToLower(u.Path), ".xml") {
		return "", false
	}
	return u.String(), true
}
