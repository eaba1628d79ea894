package locate

import (
	"bytes"
	"regexp"
)

// validateWindow bounds how much of the body the prolog checks look at.
const validateWindow = 1024

var (
	rootTag     = regexp.MustCompile(`^<([A-Za-z0-9_.-]+:)?(?i:informationtable|infotable)[\s>/]`)
	htmlMarker  = regexp.MustCompile(`(?i)<!doctype\s+html|<html[\s>]`)
	tableMarker = regexp.MustCompile(`(?i)informationtable|infotable`)
	utf8BOM     = []byte{0xEF, 0xBB, 0xBF}
)

// Validate decides whether body is a raw information table. It must start
// with an XML declaration or a bare root table tag, must not be an HTML page
// and must mention one of the root table names.
func Validate(body []byte) Verdict {
	b := bytes.TrimLeft(bytes.TrimPrefix(body, utf8BOM), " \t\r\n")
	head := b
	if len(head) > validateWindow {
		head = head[:validateWindow]
	}
	if htmlMarker.Match(head) {
		return HTMLFallback
	}
	if !bytes.HasPrefix(head, []byte("<?xml")) && !rootTag.Match(head) {
		return Unrelated
	}
	if !tableMarker.Match(b) {
		return Unrelated
	}
	return Valid
}
