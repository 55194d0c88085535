package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/pipeline"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/utils"
)

// Search strategies a variant can select. Keyword search queries with the
// extracted keywords; full-text searches the raw post; news restricts to
// recent news results.
const (
	StrategyKeyword  = "keyword"
	StrategyFullText = "full-text"
	StrategyNews     = "news"
)

const (
	defaultMaxResults = 5
	defaultCacheTTL   = 24 * time.Hour
)

// EvidenceCache is satisfied by the redis cache client. A nil cache disables
// caching.
type EvidenceCache interface {
	GetEvidence(ctx context.Context, queryHash string) ([]pipeline.Evidence, bool, error)
	SetEvidence(ctx context.Context, queryHash string, evidence []pipeline.Evidence, ttl time.Duration) error
}

// Client finds supporting material for a post via SerpAPI and scrapes the
// result pages for content the generation prompt can quote.
type Client struct {
	serpAPIKey string
	cache      EvidenceCache
	httpClient *http.Client
	maxResults int
}

func NewClient(serpAPIKey string, cache EvidenceCache, maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Client{
		serpAPIKey: serpAPIKey,
		cache:      cache,
		maxResults: maxResults,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Search implements pipeline.EvidenceSearcher.
func (c *Client) Search(ctx context.Context, text string, keywords []string, strategy string) ([]pipeline.Evidence, error) {
	query := buildQuery(text, keywords, strategy)
	queryHash := utils.HashString(strategy + ":" + query)

	if c.cache != nil {
		cached, ok, err := c.cache.GetEvidence(ctx, queryHash)
		if err != nil {
			logger.Warn("Evidence cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	logger.Info("Performing evidence search",
		zap.String("strategy", strategy),
		zap.String("query", query),
	)

	evidence, err := c.searchWithSerpAPI(ctx, query, strategy)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && len(evidence) > 0 {
		if err := c.cache.SetEvidence(ctx, queryHash, evidence, defaultCacheTTL); err != nil {
			logger.Warn("Evidence cache write failed", zap.Error(err))
		}
	}

	return evidence, nil
}

func buildQuery(text string, keywords []string, strategy string) string {
	switch strategy {
	case StrategyFullText:
		return truncateQuery(text)
	case StrategyKeyword, StrategyNews:
		if len(keywords) > 0 {
			return strings.Join(keywords, " ")
		}
		return truncateQuery(text)
	default:
		if len(keywords) > 0 {
			return strings.Join(keywords, " ")
		}
		return truncateQuery(text)
	}
}

func truncateQuery(text string) string {
	const maxQueryLen = 200
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxQueryLen {
		text = text[:maxQueryLen]
	}
	return text
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query, strategy string) ([]pipeline.Evidence, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", c.maxResults))
	if strategy == StrategyNews {
		params.Add("tbm", "nws")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("https://serpapi.com/search?%s", params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
		NewsResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"news_results"`
	}

	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	type rawResult struct{ Title, Link, Snippet string }
	raw := make([]rawResult, 0, c.maxResults)
	for _, r := range searchResp.OrganicResults {
		raw = append(raw, rawResult{r.Title, r.Link, r.Snippet})
	}
	for _, r := range searchResp.NewsResults {
		raw = append(raw, rawResult{r.Title, r.Link, r.Snippet})
	}

	evidence := make([]pipeline.Evidence, 0, len(raw))
	for _, r := range raw {
		if len(evidence) >= c.maxResults {
			break
		}

		content, err := c.scrapeContent(ctx, r.Link)
		if err != nil {
			logger.Warn("Failed to scrape evidence page",
				zap.String("url", r.Link),
				zap.Error(err),
			)
			content = r.Snippet
		}

		evidence = append(evidence, pipeline.Evidence{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
			Content: content,
		})
	}

	logger.Info("Evidence search completed", zap.Int("results", len(evidence)))

	return evidence, nil
}

func (c *Client) scrapeContent(ctx context.Context, urlStr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())

	if len(text) > 5000 {
		text = text[:5000]
	}

	return text, nil
}
