package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// SoupParser is the lenient parser. It builds a forgiving HTML tree from any
// markup, then reads holdings either from infoTable elements (raw XML seen as
// tag soup) or from a rendered table inside a page shell.
type SoupParser struct{}

func (SoupParser) Name() string { return "soup" }

// Parse never fails on broken markup; it fails only when no holdings can be
// located at all.
func (p SoupParser) Parse(text string) (Rows, error) {
	return p.parse(text, true)
}

func (p SoupParser) parse(text string, unwrap bool) (Rows, error) {
	root, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return Rows{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var out Rows
	collectRows(root, &out.Rows)
	if len(out.Rows) > 0 {
		return out, nil
	}
	doc := goquery.NewDocumentFromNode(root)
	if rows, ok := renderedTable(doc); ok {
		return rows, nil
	}
	// Escaped markup shown inside a page, e.g. in a <pre> block.
	if inner := doc.Text(); unwrap && strings.Contains(strings.ToLower(inner), "<"+tagRow) {
		return p.parse(inner, false)
	}
	return Rows{}, fmt.Errorf("%w: no holdings table found", ErrMalformed)
}

// localName lower-cases a tag name and drops any namespace prefix.
func localName(n *html.Node) string {
	name := strings.ToLower(n.Data)
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func collectRows(n *html.Node, rows *[]Row) {
	if n.Type == html.ElementNode && localName(n) == tagRow {
		*rows = append(*rows, rowFromNode(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectRows(c, rows)
	}
}

func rowFromNode(n *html.Node) Row {
	r := Row{
		Issuer:    textOf(findFirst(n, tagIssuer)),
		Cusip:     textOf(findFirst(n, tagCusip)),
		ValueText: textOf(findFirst(n, tagValue)),
		PutCall:   textOf(findFirst(n, tagPutCall)),
	}
	if block := findFirst(n, tagShareBlock); block != nil {
		r.SharesText = textOf(findFirst(block, tagShares))
	}
	return r
}

// findFirst does a depth-first search below n for an element with the given
// local name. Nested rows are not entered.
func findFirst(n *html.Node, name string) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		ln := localName(c)
		if ln == name {
			return c
		}
		if ln == tagRow {
			continue
		}
		if found := findFirst(c, name); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// columns maps holding fields to cell positions in a rendered table.
type columns struct {
	issuer, cusip, value, shares, putCall int
}

func (c columns) usable() bool { return c.issuer >= 0 || c.cusip >= 0 }

// renderedTable picks the holdings table of a rendered page: a table whose
// class or summary names the information table, else one with a CUSIP
// header, else the first table with more than two rows.
func renderedTable(doc *goquery.Document) (Rows, bool) {
	var candidates []*goquery.Selection
	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		candidates = append(candidates, t)
	})
	pick := func(match func(*goquery.Selection) bool) *goquery.Selection {
		for _, t := range candidates {
			if match(t) {
				return t
			}
		}
		return nil
	}
	table := pick(hasTableHint)
	if table == nil {
		table = pick(func(t *goquery.Selection) bool { return headerIndex(ownRows(t)) >= 0 })
	}
	if table == nil {
		table = pick(func(t *goquery.Selection) bool { return len(ownRows(t)) > 2 })
	}
	if table == nil {
		return Rows{}, false
	}
	return readTable(ownRows(table))
}

func hasTableHint(t *goquery.Selection) bool {
	hint := strings.ToLower(t.AttrOr("class", "") + " " + t.AttrOr("summary", ""))
	hint = strings.ReplaceAll(hint, " ", "")
	return strings.Contains(hint, "infotable") || strings.Contains(hint, "informationtable")
}

// ownRows returns the rows of t, excluding rows of nested tables.
func ownRows(t *goquery.Selection) [][]string {
	var rows [][]string
	t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if !tr.Closest("table").IsSelection(t) {
			return
		}
		rows = append(rows, expandCells(tr))
	})
	return rows
}

// expandCells returns one entry per grid column, repeating spanned cells.
func expandCells(tr *goquery.Selection) []string {
	var cells []string
	tr.ChildrenFiltered("td, th").Each(func(_ int, td *goquery.Selection) {
		span, err := strconv.Atoi(strings.TrimSpace(td.AttrOr("colspan", "1")))
		if err != nil || span < 1 {
			span = 1
		}
		text := cleanText(td.Text())
		for i := 0; i < span; i++ {
			cells = append(cells, text)
		}
	})
	return cells
}

func headerIndex(rows [][]string) int {
	for i, r := range rows {
		for _, c := range r {
			if strings.Contains(strings.ToLower(c), "cusip") {
				return i
			}
		}
	}
	return -1
}

func mapColumns(header []string) columns {
	c := columns{issuer: -1, cusip: -1, value: -1, shares: -1, putCall: -1}
	set := func(dst *int, i int) {
		if *dst < 0 {
			*dst = i
		}
	}
	for i, h := range header {
		h = strings.ToLower(h)
		switch {
		case strings.Contains(h, "issuer"):
			set(&c.issuer, i)
		case strings.Contains(h, "cusip"):
			set(&c.cusip, i)
		case strings.HasPrefix(h, "value") || strings.Contains(h, "market value"):
			set(&c.value, i)
		case strings.Contains(h, "amt") || strings.Contains(h, "shares") && !strings.Contains(h, "shared"):
			set(&c.shares, i)
		case strings.Contains(h, "put"):
			set(&c.putCall, i)
		}
	}
	return c
}

func readTable(rows [][]string) (Rows, bool) {
	hi := headerIndex(rows)
	if hi < 0 {
		return Rows{}, false
	}
	cols := mapColumns(rows[hi])
	if !cols.usable() {
		return Rows{}, false
	}
	var out Rows
	for _, r := range rows[hi+1:] {
		cell := func(i int) string {
			if i < 0 || i >= len(r) {
				return ""
			}
			return r[i]
		}
		if strings.Join(r, "") == "" {
			continue
		}
		row := Row{
			Issuer:     cell(cols.issuer),
			Cusip:      cell(cols.cusip),
			ValueText:  cell(cols.value),
			SharesText: cell(cols.shares),
			PutCall:    cell(cols.putCall),
		}
		if row.Issuer == "" && row.Cusip == "" {
			out.Skipped++
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, true
}
