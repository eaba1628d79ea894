package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hyperifyio/form13f/internal/edgar"
	"github.com/hyperifyio/form13f/internal/fetch"
	"github.com/hyperifyio/form13f/internal/locate"
)

// Usage: debuglocate <cik> <accession> [index-url]
//
//	or: debuglocate <index-url>
func main() {
	var ref edgar.Reference
	switch {
	case len(os.Args) == 2:
		// Filer and accession are read off the index URL itself.
		ref.IndexURL = os.Args[1]
		ref.FilerID, _ = edgar.FilerFromURL(ref.IndexURL)
		ref.AccessionID, _ = edgar.AccessionFromURL(ref.IndexURL)
	case len(os.Args) >= 3:
		ref = edgar.Reference{FilerID: os.Args[1], AccessionID: os.Args[2]}
		if len(os.Args) > 3 {
			ref.IndexURL = os.Args[3]
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: debuglocate <cik> <accession> [index-url] | debuglocate <index-url>")
		os.Exit(2)
	}
	base := os.Getenv("EDGAR_ARCHIVE_URL")
	if base == "" {
		base = edgar.DefaultArchiveBaseURL
	}
	ua := os.Getenv("USER_AGENT")
	if ua == "" {
		ua = "debuglocate ops@example.com"
	}

	client := &fetch.Client{HTTPClient: &http.Client{Timeout: 30 * time.Second}, UserAgent: ua, Limiter: edgar.NewLimiter(5)}
	loc := locate.New(client.WithTimeout(5*time.Second), base)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := loc.Locate(ctx, ref)
	fmt.Println("index:", loc.IndexURL(ref))
	fmt.Println("err:", err)
	for i, c := range res.Candidates {
		fmt.Printf("%d. [%s] %s %s %s\n", i+1, c.Strategy, c.Verdict, c.URL, c.Err)
	}
	if err == nil {
		fmt.Printf("found via %s: %s\n", res.Strategy, res.URL)
	}
	period, perr := loc.ReportPeriod(ctx, ref)
	if perr != nil {
		fmt.Println("period err:", perr)
		return
	}
	fmt.Println("period:", period.Format("2006-01-02"))
}
