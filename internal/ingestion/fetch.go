package ingestion

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/noemagraph/retrieval-core/internal/graph"
	"github.com/noemagraph/retrieval-core/internal/objectstore"
)

// FetchedArtifact is a web page reduced to the markdown text ingestion
// consumes, plus the raw HTML snapshot for archival.
type FetchedArtifact struct {
	URL       string
	Title     string
	Markdown  string
	RawHTML   string
	FetchedAt time.Time
}

// fetchTimeout bounds the headless-render step; a page that hasn't
// settled by then fails the fetch with an error rather than hanging a worker.
const fetchTimeout = 25 * time.Second

// FetchWebArtifact renders url with a headless browser (so JS-built pages
// resolve the same as a human visitor would see them), extracts the main
// article via Readability, and converts it to Markdown for chunking. The
// raw HTML is persisted to objectStore under artifacts/raw/<hash of the raw
// HTML> (not the Artifact's content_hash, which hashes the extracted text)
// so a later re-ingestion can diff against what was actually fetched
// without re-rendering the page.
func FetchWebArtifact(ctx context.Context, store objectstore.ObjectStore, rawURL string) (*FetchedArtifact, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ingestion: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ingestion: unsupported scheme %q", u.Scheme)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	renderCtx, cancelTimeout := context.WithTimeout(browserCtx, fetchTimeout)
	defer cancelTimeout()

	var html string
	if err := chromedp.Run(renderCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("ingestion: render %s: %w", rawURL, err)
	}

	art, err := readability.FromReader(strings.NewReader(html), u)
	articleHTML := html
	title := ""
	if err == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(u.Scheme+"://"+u.Host))
	if err != nil {
		return nil, fmt.Errorf("ingestion: html to markdown: %w", err)
	}
	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(md, "# ") {
		md = "# " + title + "\n\n" + md
	}

	fetched := &FetchedArtifact{
		URL:       rawURL,
		Title:     title,
		Markdown:  md,
		RawHTML:   html,
		FetchedAt: time.Now(),
	}

	if store != nil {
		key := "artifacts/raw/" + graph.ContentHash(html)
		if _, err := store.Put(ctx, key, strings.NewReader(html), objectstore.PutOptions{ContentType: "text/html"}); err != nil {
			return fetched, fmt.Errorf("ingestion: persist raw artifact: %w", err)
		}
	}
	return fetched, nil
}
