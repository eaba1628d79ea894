package extract

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Local names, lower-cased, of the holdings schema elements.
const (
	tagRow        = "infotable"
	tagIssuer     = "nameofissuer"
	tagCusip      = "cusip"
	tagValue      = "value"
	tagShareBlock = "shrsorprnamt"
	tagShares     = "sshprnamt"
	tagPutCall    = "putcall"
)

// XMLParser is the strict parser. It walks the token stream and matches
// element local names case-insensitively, so any namespace prefix works.
type XMLParser struct{}

func (XMLParser) Name() string { return "xml" }

// Parse returns one Row per infoTable element. Any tokenizer error is
// reported as ErrMalformed.
func (XMLParser) Parse(text string) (Rows, error) {
	d := xml.NewDecoder(strings.NewReader(text))
	// The text is already decoded; ignore whatever encoding the prolog declares.
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var (
		out     Rows
		row     *Row
		stack   []string
		sawRoot bool
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Rows{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			sawRoot = true
			if name == tagRow && row == nil {
				row = &Row{}
				stack = stack[:0]
				continue
			}
			if row != nil {
				stack = append(stack, name)
			}
		case xml.EndElement:
			if row == nil {
				continue
			}
			if len(stack) == 0 {
				if strings.ToLower(t.Name.Local) == tagRow {
					out.Rows = append(out.Rows, *row)
					row = nil
				}
				continue
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if row == nil || len(stack) == 0 {
				continue
			}
			appendField(row, stack, string(t))
		}
	}
	if !sawRoot {
		return Rows{}, fmt.Errorf("%w: no elements", ErrMalformed)
	}
	return out, nil
}

// appendField routes character data to the Row field named by the innermost
// element. The share count is only taken from inside its container.
func appendField(row *Row, stack []string, s string) {
	switch stack[len(stack)-1] {
	case tagIssuer:
		row.Issuer += s
	case tagCusip:
		row.Cusip += s
	case tagValue:
		row.ValueText += s
	case tagShares:
		if len(stack) >= 2 && stack[len(stack)-2] == tagShareBlock {
			row.SharesText += s
		}
	case tagPutCall:
		row.PutCall += s
	}
}
