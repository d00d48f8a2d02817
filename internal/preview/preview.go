// Package preview fetches a job posting URL locally and extracts a title,
// a company hint and a short markdown excerpt. It is shown before a URL
// submission and never gates it: the backend does its own scraping.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	maxBody       = 5 << 20
	excerptLength = 600
	userAgent     = "jobcheck/1.0 (posting preview)"
)

// Selectors for the hiring company on common job boards, most specific
// first.
var companySelectors = []string{
	`[itemprop="hiringOrganization"] [itemprop="name"]`,
	`[data-testid="inlineHeader-companyName"]`,
	`.topcard__org-name-link`,
	`.company-name`,
	`.companyName`,
	`.company`,
	`[data-company]`,
}

// Selectors for the posting body, tried before falling back to <body>.
var bodySelectors = []string{
	`[itemprop="description"]`,
	`#jobDescriptionText`,
	`.description__text`,
	`.job-description`,
	`article`,
	`main`,
}

// Preview is what a local fetch could learn about a posting.
type Preview struct {
	URL      string
	Title    string
	Company  string
	Excerpt  string // markdown
	TextSize int    // characters of readable text
}

// Previewer fetches and extracts postings.
type Previewer struct {
	client *http.Client
	md     *converter.Converter
	log    *slog.Logger
}

// New creates a previewer with the given request timeout.
func New(timeout time.Duration, logger *slog.Logger) *Previewer {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Previewer{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		log: logger,
	}
}

// Fetch downloads rawURL and extracts a preview.
func (p *Previewer) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching posting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching posting: %s", http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading posting: %w", err)
	}
	return p.Extract(string(body), parsedURL)
}

// Extract builds a preview from an already downloaded page.
func (p *Previewer) Extract(html string, pageURL *url.URL) (*Preview, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing posting: %w", err)
	}

	out := &Preview{
		URL:     pageURL.String(),
		Title:   pageTitle(doc),
		Company: company(doc),
	}

	var text string
	if article, err := readability.FromReader(strings.NewReader(html), pageURL); err == nil {
		text = strings.TrimSpace(article.TextContent)
	} else {
		p.log.Debug("Readability extraction failed", "url", out.URL, "error", err)
	}
	if text == "" {
		text = strings.TrimSpace(doc.Find("body").Text())
	}
	out.TextSize = len([]rune(text))

	excerpt, err := p.excerpt(doc, pageURL)
	if err != nil || excerpt == "" {
		excerpt = truncate(strings.Join(strings.Fields(text), " "), excerptLength)
	}
	out.Excerpt = excerpt
	return out, nil
}

func (p *Previewer) excerpt(doc *goquery.Document, pageURL *url.URL) (string, error) {
	sel := doc.Find("body")
	for _, s := range bodySelectors {
		if found := doc.Find(s).First(); found.Length() > 0 && strings.TrimSpace(found.Text()) != "" {
			sel = found
			break
		}
	}
	sel.Find("script, style, nav, footer, header, form").Remove()

	fragment, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", err
	}
	md, err := p.md.ConvertString(fragment, converter.WithDomain(pageURL.Scheme+"://"+pageURL.Host))
	if err != nil {
		return "", err
	}
	return truncate(strings.TrimSpace(md), excerptLength), nil
}

func pageTitle(doc *goquery.Document) string {
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if h := strings.TrimSpace(doc.Find("h1").First().Text()); h != "" {
		return h
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// company looks for the hiring organization in JSON-LD first, then in
// board-specific markup, then in og:site_name.
func company(doc *goquery.Document) string {
	var name string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name = jsonLDCompany(s.Text())
		return name == ""
	})
	if name != "" {
		return name
	}

	for _, s := range companySelectors {
		sel := doc.Find(s).First()
		if v, ok := sel.Attr("data-company"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if t := strings.Join(strings.Fields(sel.Text()), " "); t != "" {
			return t
		}
	}

	if v, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

type jsonLDPosting struct {
	Type               any `json:"@type"`
	HiringOrganization struct {
		Name string `json:"name"`
	} `json:"hiringOrganization"`
}

func jsonLDCompany(raw string) string {
	raw = strings.TrimSpace(raw)
	var single jsonLDPosting
	if err := json.Unmarshal([]byte(raw), &single); err == nil && single.HiringOrganization.Name != "" {
		return strings.TrimSpace(single.HiringOrganization.Name)
	}
	var many []jsonLDPosting
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		for _, p := range many {
			if p.HiringOrganization.Name != "" {
				return strings.TrimSpace(p.HiringOrganization.Name)
			}
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "…"
}
