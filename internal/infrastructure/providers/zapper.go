package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/infrastructure/breakers"
	"github.com/fumbled/jeetboard/internal/infrastructure/httpclient"
	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/net/ratelimit"
	"github.com/fumbled/jeetboard/internal/telemetry/metrics"
)

const zapperName = "zapper"

// transactionsQuery pages through a wallet's transaction history.
const transactionsQuery = `
  query TransactionsQuery($address: Address!, $after: String, $first: Int = 100) {
    transactions(address: $address, after: $after, first: $first) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        hash
        type
        timestamp
        amount
        token {
          address
          symbol
          decimals
          price
        }
        to { address }
        from { address }
      }
    }
  }
`

// ZapperConfig configures the transaction history provider.
type ZapperConfig struct {
	BaseURL        string
	APIKey         string
	PageSize       int
	RequestTimeout time.Duration
	MaxRetries     int
}

// ZapperProvider fetches a wallet's transaction history over a paginated
// GraphQL API and re-merges the pages into one ordered slice.
type ZapperProvider struct {
	baseURL    string
	encodedKey string
	pageSize   int
	client     *httpclient.ClientPool
	limiter    *ratelimit.Limiter
	breaker    *breakers.Breaker
	health     *metrics.ProviderHealth
	prom       *metrics.Registry
}

// NewZapperProvider creates the provider with its own client pool and
// breaker.
func NewZapperProvider(config ZapperConfig, limiter *ratelimit.Limiter, prom *metrics.Registry) *ZapperProvider {
	if config.BaseURL == "" {
		config.BaseURL = "https://public.zapper.xyz/graphql"
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}

	return &ZapperProvider{
		baseURL:    config.BaseURL,
		encodedKey: base64.StdEncoding.EncodeToString([]byte(config.APIKey)),
		pageSize:   config.PageSize,
		client: httpclient.NewClientPool(httpclient.ClientConfig{
			MaxConcurrency: 4,
			RequestTimeout: config.RequestTimeout,
			MaxRetries:     config.MaxRetries,
			BackoffBase:    500 * time.Millisecond,
			BackoffMax:     15 * time.Second,
			UserAgent:      "jeetboard/1.0",
		}),
		limiter: limiter,
		breaker: breakers.New(zapperName),
		health:  metrics.NewProviderHealth(zapperName),
		prom:    prom,
	}
}

// Upstream response shapes, validated field by field before use.

type txPage struct {
	Data *struct {
		Transactions *struct {
			PageInfo struct {
				HasNextPage bool    `json:"hasNextPage"`
				EndCursor   *string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []txNode `json:"nodes"`
		} `json:"transactions"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type txNode struct {
	Hash      string `json:"hash"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Amount    string `json:"amount"`
	Token     struct {
		Address string  `json:"address"`
		Symbol  string  `json:"symbol"`
		Price   float64 `json:"price"`
	} `json:"token"`
	To   struct{ Address string } `json:"to"`
	From struct{ Address string } `json:"from"`
}

// Transactions returns every transaction for address with a timestamp at or
// after since, walking the cursor until the API reports no further pages.
func (p *ZapperProvider) Transactions(ctx context.Context, address string, since time.Time) ([]models.Transaction, error) {
	var all []models.Transaction
	var cursor *string

	for {
		page, err := p.fetchPage(ctx, address, cursor)
		if err != nil {
			return nil, err
		}

		if page.Data == nil || page.Data.Transactions == nil {
			return nil, fmt.Errorf("malformed transactions response for %s", address)
		}

		for _, node := range page.Data.Transactions.Nodes {
			tx, ok := p.validateNode(node, address)
			if !ok {
				continue
			}
			if tx.Timestamp.Before(since) {
				continue
			}
			all = append(all, tx)
		}

		info := page.Data.Transactions.PageInfo
		if !info.HasNextPage || info.EndCursor == nil {
			break
		}
		cursor = info.EndCursor
	}

	log.Debug().
		Str("address", address).
		Int("transactions", len(all)).
		Time("since", since).
		Msg("Transaction history retrieved")

	return all, nil
}

func (p *ZapperProvider) fetchPage(ctx context.Context, address string, cursor *string) (*txPage, error) {
	if err := p.limiter.Wait(ctx, zapperName); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query": transactionsQuery,
		"variables": map[string]interface{}{
			"address": address,
			"first":   p.pageSize,
			"after":   cursor,
		},
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := p.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Basic "+p.encodedKey)

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
		p.prom.ProviderLatency.WithLabelValues(zapperName).Observe(duration.Seconds())
	}

	if err != nil {
		if p.prom != nil {
			p.prom.ProviderRequests.WithLabelValues(zapperName, "error").Inc()
		}
		p.health.SetDegraded(true, "api_error")
		log.Warn().Err(err).Str("address", address).Msg("Zapper request failed")
		return nil, fmt.Errorf("zapper request failed: %w", err)
	}

	var page txPage
	if err := json.Unmarshal(result.([]byte), &page); err != nil {
		return nil, fmt.Errorf("failed to decode transactions page: %w", err)
	}
	if len(page.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", page.Errors[0].Message)
	}

	if p.prom != nil {
		p.prom.ProviderRequests.WithLabelValues(zapperName, "success").Inc()
	}

	return &page, nil
}

// validateNode maps one upstream node to a Transaction, rejecting nodes
// with missing required fields rather than trusting the shape.
func (p *ZapperProvider) validateNode(node txNode, address string) (models.Transaction, bool) {
	if node.Hash == "" || node.Token.Address == "" {
		log.Warn().Str("hash", node.Hash).Msg("Skipping transaction node with missing fields")
		return models.Transaction{}, false
	}

	ts, err := time.Parse(time.RFC3339, node.Timestamp)
	if err != nil {
		log.Warn().Str("hash", node.Hash).Str("timestamp", node.Timestamp).Msg("Skipping transaction with bad timestamp")
		return models.Transaction{}, false
	}

	amount, err := strconv.ParseFloat(node.Amount, 64)
	if err != nil || amount < 0 {
		log.Warn().Str("hash", node.Hash).Str("amount", node.Amount).Msg("Skipping transaction with bad amount")
		return models.Transaction{}, false
	}

	direction := models.DirectionIn
	counterparty := node.From.Address
	if strings.EqualFold(node.From.Address, address) {
		direction = models.DirectionOut
		counterparty = node.To.Address
	}

	return models.Transaction{
		Hash:         node.Hash,
		TokenID:      strings.ToLower(node.Token.Address),
		TokenSymbol:  node.Token.Symbol,
		Amount:       amount,
		UnitPrice:    node.Token.Price,
		Timestamp:    ts.UTC(),
		Direction:    direction,
		Counterparty: counterparty,
	}, true
}

// Health returns the provider's health snapshot for /health.
func (p *ZapperProvider) Health() metrics.HealthSnapshot { return p.health.Snapshot() }
