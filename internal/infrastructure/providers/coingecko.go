package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/cache"
	"github.com/fumbled/jeetboard/internal/infrastructure/breakers"
	"github.com/fumbled/jeetboard/internal/infrastructure/httpclient"
	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/net/ratelimit"
	"github.com/fumbled/jeetboard/internal/telemetry/metrics"
)

const coinGeckoName = "coingecko"

// CoinGeckoConfig configures the price history provider.
type CoinGeckoConfig struct {
	BaseURL        string
	APIKey         string
	RPMLimit       int
	RequestTimeout time.Duration
	MaxRetries     int
	ResponseTTL    time.Duration
}

// CoinGeckoProvider fetches token price history. Responses are cached by
// query so one analysis window does not re-hit the API for every
// transaction of the same token.
type CoinGeckoProvider struct {
	baseURL string
	apiKey  string
	client  *httpclient.ClientPool
	limiter *ratelimit.Limiter
	breaker *breakers.Breaker
	respTTL time.Duration
	resp    cache.ByteStore
	health  *metrics.ProviderHealth
	prom    *metrics.Registry

	budget   *rpmBudget
	stop     chan struct{}
	stopOnce sync.Once
}

// rpmBudget tracks the per-minute request allowance for the free tier.
type rpmBudget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewCoinGeckoProvider creates the provider with its own client pool,
// breaker and response cache.
func NewCoinGeckoProvider(config CoinGeckoConfig, limiter *ratelimit.Limiter, resp cache.ByteStore, prom *metrics.Registry) *CoinGeckoProvider {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if config.ResponseTTL <= 0 {
		config.ResponseTTL = 5 * time.Minute
	}

	p := &CoinGeckoProvider{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		client: httpclient.NewClientPool(httpclient.ClientConfig{
			MaxConcurrency: 2, // conservative for the free tier
			RequestTimeout: config.RequestTimeout,
			MaxRetries:     config.MaxRetries,
			BackoffBase:    time.Second,
			BackoffMax:     30 * time.Second,
			UserAgent:      "jeetboard/1.0",
		}),
		limiter: limiter,
		breaker: breakers.New(coinGeckoName),
		respTTL: config.ResponseTTL,
		resp:    resp,
		health:  metrics.NewProviderHealth(coinGeckoName),
		prom:    prom,
		budget:  &rpmBudget{limit: config.RPMLimit},
		stop:    make(chan struct{}),
	}

	go p.budgetResetLoop()

	return p
}

// marketChartResponse is the validated upstream shape: pairs of
// [unix_millis, price].
type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

// PriceHistory returns the observed price points for tokenID in [from, to],
// ordered by ascending timestamp as the upstream returns them.
func (p *CoinGeckoProvider) PriceHistory(ctx context.Context, tokenID string, from, to time.Time) ([]models.PricePoint, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("empty token id")
	}
	if !to.After(from) {
		return nil, fmt.Errorf("invalid window: from %v, to %v", from, to)
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		p.baseURL, tokenID, from.Unix(), to.Unix())

	body, err := p.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var chart marketChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("failed to decode market chart: %w", err)
	}

	points := make([]models.PricePoint, 0, len(chart.Prices))
	for _, pair := range chart.Prices {
		ts := time.UnixMilli(int64(pair[0])).UTC()
		if pair[1] < 0 {
			log.Warn().Str("token", tokenID).Float64("price", pair[1]).Msg("Dropping negative price point")
			continue
		}
		points = append(points, models.PricePoint{
			TokenID:   tokenID,
			Timestamp: ts,
			Price:     pair[1],
		})
	}

	log.Debug().
		Str("token", tokenID).
		Int("points", len(points)).
		Time("from", from).
		Time("to", to).
		Msg("Price history retrieved")

	return points, nil
}

func (p *CoinGeckoProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	if cached, ok := p.resp.Get(url); ok {
		if p.prom != nil {
			p.prom.CacheHits.WithLabelValues(coinGeckoName).Inc()
		}
		return cached, nil
	}
	if p.prom != nil {
		p.prom.CacheMisses.WithLabelValues(coinGeckoName).Inc()
	}

	if err := p.checkBudget(); err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx, coinGeckoName); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := p.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if p.apiKey != "" {
			req.Header.Set("x-cg-pro-api-key", p.apiKey)
		}

		resp, err := p.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		}
		return io.ReadAll(resp.Body)
	})
	duration := time.Since(start)

	p.health.RecordRequest(err == nil, duration)
	if p.prom != nil {
		p.prom.ProviderLatency.WithLabelValues(coinGeckoName).Observe(duration.Seconds())
	}

	if err != nil {
		if p.prom != nil {
			p.prom.ProviderRequests.WithLabelValues(coinGeckoName, "error").Inc()
		}
		p.health.SetDegraded(true, "api_error")
		log.Warn().Err(err).Str("url", url).Msg("CoinGecko request failed")
		return nil, fmt.Errorf("coingecko request failed: %w", err)
	}

	body := result.([]byte)
	p.consumeBudget()
	p.resp.Set(url, body, p.respTTL)
	if p.prom != nil {
		p.prom.ProviderRequests.WithLabelValues(coinGeckoName, "success").Inc()
	}

	return body, nil
}

// Health returns the provider's health snapshot for /health.
func (p *CoinGeckoProvider) Health() metrics.HealthSnapshot { return p.health.Snapshot() }

func (p *CoinGeckoProvider) checkBudget() error {
	p.budget.mu.Lock()
	defer p.budget.mu.Unlock()
	if p.budget.limit > 0 && p.budget.used >= p.budget.limit {
		return fmt.Errorf("RPM budget exceeded: %d/%d", p.budget.used, p.budget.limit)
	}
	return nil
}

func (p *CoinGeckoProvider) consumeBudget() {
	p.budget.mu.Lock()
	p.budget.used++
	p.budget.mu.Unlock()
}

func (p *CoinGeckoProvider) budgetResetLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.budget.mu.Lock()
			p.budget.used = 0
			p.budget.mu.Unlock()
		case <-p.stop:
			return
		}
	}
}

// Stop terminates the budget reset goroutine. Safe to call more than once.
func (p *CoinGeckoProvider) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}
