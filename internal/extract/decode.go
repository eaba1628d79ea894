package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Format is the coarse shape of a holdings document.
type Format int

const (
	// FormatXML is raw structured markup: an XML declaration or a bare root tag.
	FormatXML Format = iota
	// FormatHTML is a rendered page shell around the holdings.
	FormatHTML
)

func (f Format) String() string {
	if f == FormatHTML {
		return "html"
	}
	return "xml"
}

// classifyWindow is how many leading bytes Classify inspects.
const classifyWindow = 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode returns raw as text along with the name of the decoding used. Valid
// UTF-8 is taken as-is; anything else is read as ISO-8859-1, which maps every
// byte and therefore cannot fail.
func Decode(raw []byte) (string, string) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// Unreachable for ISO-8859-1; keep the bytes rather than abort.
		return strings.ToValidUTF8(string(raw), "\uFFFD"), "utf-8-replace"
	}
	return string(out), "iso-8859-1"
}

// Classify looks for a doctype or html root marker in the leading bytes.
func Classify(text string) Format {
	head := text
	if len(head) > classifyWindow {
		head = head[:classifyWindow]
	}
	head = strings.ToLower(head)
	if strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html") {
		return FormatHTML
	}
	return FormatXML
}
