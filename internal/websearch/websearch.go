// Package websearch calls the external search provider used when internal
// retrieval is weak. The contract is deliberately soft: a Search never fails,
// a provider problem degrades to an empty result with confidence 0 and the
// leader moves on to the default response.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/config"
)

const maxAttempts = 3

// Hit is one ranked snippet from the provider.
type Hit struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Snippet    string  `json:"snippet"`
	Confidence float64 `json:"confidence"`
}

// Result is the provider output. Confidence 0 with no hits means the call
// failed or found nothing; callers treat both the same way.
type Result struct {
	Hits       []Hit   `json:"hits"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// Client is the fallback contract the leader depends on.
type Client interface {
	Search(ctx context.Context, query, lang string) Result
}

// HTTPProvider talks to a JSON search endpoint. Authentication is a bearer
// token; the provider summarises its own hits.
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	maxResults int
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHTTPProvider(cfg config.WebSearchConfig, logger *logrus.Logger) *HTTPProvider {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &HTTPProvider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (p *HTTPProvider) Search(ctx context.Context, query, lang string) Result {
	if p.endpoint == "" || query == "" {
		return Result{}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return Result{}
			case <-time.After(backoff(attempt)):
			}
		}

		result, err := p.searchOnce(ctx, query, lang)
		if err == nil {
			return result
		}
		p.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"lang":    lang,
		}).Warn("Web search request failed")

		if ctx.Err() != nil {
			return Result{}
		}
	}

	return Result{}
}

func (p *HTTPProvider) searchOnce(ctx context.Context, query, lang string) (Result, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("n", strconv.Itoa(p.maxResults))
	if lang != "" {
		q.Set("lang", lang)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding provider response: %w", err)
	}
	if len(result.Hits) > p.maxResults {
		result.Hits = result.Hits[:p.maxResults]
	}
	if len(result.Hits) == 0 {
		result.Confidence = 0
	}
	return result, nil
}

func backoff(attempt int) time.Duration {
	base := 100 * time.Millisecond << (attempt - 1)
	return base + time.Duration(rand.Int63n(int64(base)/2))
}

// Disabled satisfies Client when the fallback is turned off.
type Disabled struct{}

func (Disabled) Search(context.Context, string, string) Result { return Result{} }
