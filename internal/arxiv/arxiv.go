// Package arxiv wraps the arXiv Atom query API behind a search contract.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/papersync/papersync/internal/cache"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/logutil"
)

// DefaultBaseURL is the public arXiv query endpoint.
const DefaultBaseURL = "https://export.arxiv.org/api/query"

// PaperSummary is the search-result contract consumers see.
type PaperSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Summary    string    `json:"summary"`
	Categories []string  `json:"categories"`
	Published  time.Time `json:"published"`
	Updated    time.Time `json:"updated"`
	AbsURL     string    `json:"abs_url"`
	PDFURL     string    `json:"pdf_url,omitempty"`
}

// SearchParams selects papers from the query API.
type SearchParams struct {
	Query      string   `json:"query"`
	Categories []string `json:"categories,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
	Start      int      `json:"start,omitempty"`
}

// Searcher is the search capability consumers depend on.
type Searcher interface {
	Search(ctx context.Context, params SearchParams) ([]PaperSummary, error)
}

// Client queries the arXiv API with result caching.
type Client struct {
	baseURL    string
	maxResults int
	cacheTTL   time.Duration
	httpc      *httpclient.Client
	cache      cache.Cache
	logger     *slog.Logger
}

// Options configures a Client.
type Options struct {
	// BaseURL overrides the query endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// MaxResults caps the result count per search. Defaults to 50.
	MaxResults int

	// CacheTTL overrides the result cache TTL. Defaults to cache.TTLSearch.
	CacheTTL time.Duration

	// Cache stores serialized search results. Optional.
	Cache cache.Cache

	Logger *slog.Logger
}

// NewClient builds an arXiv search client.
func NewClient(httpc *httpclient.Client, opts Options) (*Client, error) {
	if httpc == nil {
		return nil, fmt.Errorf("http client is required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.TTLSearch
	}
	return &Client{
		baseURL:    baseURL,
		maxResults: maxResults,
		cacheTTL:   ttl,
		httpc:      httpc,
		cache:      opts.Cache,
		logger:     logutil.NoopIfNil(opts.Logger),
	}, nil
}

// Search runs one query against the API, serving repeats from cache.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]PaperSummary, error) {
	queryURL, err := c.buildURL(params)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if body, err := c.cache.Get(ctx, cacheKey(queryURL)); err == nil {
			papers, err := parseFeed(body)
			if err == nil {
				c.logger.Debug("arxiv search served from cache", "url", queryURL)
				return papers, nil
			}
		}
	}

	body, resp, err := c.httpc.GetBody(ctx, queryURL)
	if err != nil {
		return nil, fmt.Errorf("arxiv query failed: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("arxiv query failed: http %d", resp.StatusCode)
	}

	papers, err := parseFeed(body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		// Best effort; a cache write failure never fails the search
		_ = c.cache.Set(ctx, cacheKey(queryURL), body, c.cacheTTL)
	}

	c.logger.Debug("arxiv search completed", "url", queryURL, "results", len(papers))
	return papers, nil
}

// buildURL assembles the query string. Categories are OR-combined and
// AND-ed with the free-text query.
func (c *Client) buildURL(params SearchParams) (string, error) {
	var terms []string
	if q := strings.TrimSpace(params.Query); q != "" {
		terms = append(terms, fmt.Sprintf("all:%s", q))
	}
	if len(params.Categories) > 0 {
		cats := make([]string, 0, len(params.Categories))
		for _, cat := range params.Categories {
			if cat = strings.TrimSpace(cat); cat != "" {
				cats = append(cats, "cat:"+cat)
			}
		}
		if len(cats) > 0 {
			terms = append(terms, "("+strings.Join(cats, " OR ")+")")
		}
	}
	if len(terms) == 0 {
		return "", fmt.Errorf("search requires a query or at least one category")
	}

	maxResults := params.MaxResults
	if maxResults <= 0 || maxResults > c.maxResults {
		maxResults = c.maxResults
	}

	values := url.Values{}
	values.Set("search_query", strings.Join(terms, " AND "))
	values.Set("start", fmt.Sprintf("%d", params.Start))
	values.Set("max_results", fmt.Sprintf("%d", maxResults))
	values.Set("sortBy", "submittedDate")
	values.Set("sortOrder", "descending")

	return c.baseURL + "?" + values.Encode(), nil
}

func cacheKey(queryURL string) string {
	return "arxiv:search:" + queryURL
}

// Atom feed structures for the arXiv API.

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Authors    []atomAuthor   `xml:"author"`
	Categories []atomCategory `xml:"category"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Links      []atomLink     `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// parseFeed converts an Atom body into summaries, newest first.
func parseFeed(body []byte) ([]PaperSummary, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("could not parse arxiv feed: %w", err)
	}

	papers := make([]PaperSummary, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		paper := parseEntry(entry)
		if paper.ID == "" {
			continue
		}
		papers = append(papers, paper)
	}

	sort.SliceStable(papers, func(i, j int) bool {
		return papers[i].Published.After(papers[j].Published)
	})
	return papers, nil
}

// parseEntry converts one Atom entry.
func parseEntry(entry atomEntry) PaperSummary {
	// Extract the bare ID (http://arxiv.org/abs/2301.00001v1 -> 2301.00001)
	paperID := ""
	if idx := strings.LastIndex(entry.ID, "/abs/"); idx >= 0 {
		paperID = entry.ID[idx+5:]
		if vIdx := strings.LastIndex(paperID, "v"); vIdx > 0 {
			paperID = paperID[:vIdx]
		}
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}

	categories := make([]string, 0, len(entry.Categories))
	for _, cat := range entry.Categories {
		if cat.Term != "" {
			categories = append(categories, cat.Term)
		}
	}

	paper := PaperSummary{
		ID:         paperID,
		Title:      strings.Join(strings.Fields(entry.Title), " "),
		Summary:    strings.TrimSpace(entry.Summary),
		Authors:    authors,
		Categories: categories,
		AbsURL:     entry.ID,
	}

	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			paper.PDFURL = link.Href
			break
		}
	}

	paper.Published, _ = time.Parse(time.RFC3339, entry.Published)
	paper.Updated, _ = time.Parse(time.RFC3339, entry.Updated)

	return paper
}
