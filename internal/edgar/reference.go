package edgar

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultArchiveBaseURL is the root under which every filing directory lives:
// <base>/<cik>/<accession without dashes>/
const DefaultArchiveBaseURL = "https://www.sec.gov/Archives/edgar/data"

// ErrInvalidReference is returned when a Reference cannot be used to build
// archive URLs.
var ErrInvalidReference = errors.New("invalid filing reference")

// Reference identifies one filing in the archive.
type Reference struct {
	// FilerID is the CIK of the reporting entity. Leading zeros are allowed.
	FilerID string
	// AccessionID is dash-delimited, e.g. 0001234567-24-000001.
	AccessionID string
	// IndexURL points at the filing's index page.
	IndexURL string
}

// Validate checks that both URL-building values are non-empty once normalized.
func (r Reference) Validate() error {
	if r.CIK() == "" {
		return fmt.Errorf("%w: empty filer id %q", ErrInvalidReference, r.FilerID)
	}
	if r.AccessionNoDashes() == "" {
		return fmt.Errorf("%w: empty accession id %q", ErrInvalidReference, r.AccessionID)
	}
	return nil
}

// CIK returns the filer id with padding zeros removed.
func (r Reference) CIK() string {
	return NormalizeCIK(r.FilerID)
}

// AccessionNoDashes returns the accession id in its directory form.
func (r Reference) AccessionNoDashes() string {
	return strings.ReplaceAll(strings.TrimSpace(r.AccessionID), "-", "")
}

// BaseDir returns the filing's directory URL under archiveBase, always with a
// trailing slash so relative links resolve inside it.
func (r Reference) BaseDir(archiveBase string) string {
	if archiveBase == "" {
		archiveBase = DefaultArchiveBaseURL
	}
	return strings.TrimRight(archiveBase, "/") + "/" + r.CIK() + "/" + r.AccessionNoDashes() + "/"
}

// DocumentURL returns the URL of name inside the filing directory.
func (r Reference) DocumentURL(archiveBase, name string) string {
	return r.BaseDir(archiveBase) + strings.TrimLeft(name, "/")
}

// NormalizeCIK trims whitespace and leading zeros. An all-zero id yields "".
func NormalizeCIK(cik string) string {
	return strings.TrimLeft(strings.TrimSpace(cik), "0")
}

var filerSegment = regexp.MustCompile(`(?i)/Archives/edgar/data/(\d+)/`)

// FilerFromURL extracts the filer id segment of an archive URL, normalized.
// ok is false when the URL does not follow the archive layout.
func FilerFromURL(raw string) (cik string, ok bool) {
	m := filerSegment.FindStringSubmatchIndex(raw)
	if m == nil {
		return "", false
	}
	return NormalizeCIK(raw[m[2]:m[3]]), true
}

// ReplaceFiler rewrites the filer id segment of an archive URL to cik. The
// URL is returned unchanged when it has no such segment.
func ReplaceFiler(raw, cik string) string {
	m := filerSegment.FindStringSubmatchIndex(raw)
	if m == nil {
		return raw
	}
	return raw[:m[2]] + NormalizeCIK(cik) + raw[m[3]:]
}

var accessionPattern = regexp.MustCompile(`\d{10}-\d{2}-\d{6}`)

// AccessionFromURL finds a dash-delimited accession id inside a URL or text.
func AccessionFromURL(raw string) (string, bool) {
	m := accessionPattern.FindString(raw)
	return m, m != ""
}

// Filename returns the last path element of a URL, without query or fragment.
func Filename(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		raw = u.Path
	}
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		raw = raw[i+1:]
	}
	return raw
}
