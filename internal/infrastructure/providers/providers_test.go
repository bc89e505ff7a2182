package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumbled/jeetboard/internal/cache"
	"github.com/fumbled/jeetboard/internal/models"
	"github.com/fumbled/jeetboard/internal/net/ratelimit"
)

func testLimiter() *ratelimit.Limiter { return ratelimit.NewLimiter(1000, 1000) }

func TestCoinGecko_PriceHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/coins/pepe/market_chart/range")
		fmt.Fprint(w, `{"prices":[[1700000000000,0.5],[1700003600000,0.8],[1700007200000,-1.0]]}`)
	}))
	defer srv.Close()

	p := NewCoinGeckoProvider(CoinGeckoConfig{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
	}, testLimiter(), cache.NewByteStore(), nil)
	t.Cleanup(p.Stop)

	points, err := p.PriceHistory(context.Background(), "pepe", time.Unix(1699990000, 0), time.Unix(1700010000, 0))
	require.NoError(t, err)

	// Negative price point is dropped at the boundary.
	require.Len(t, points, 2)
	assert.Equal(t, 0.5, points[0].Price)
	assert.Equal(t, 0.8, points[1].Price)
	assert.Equal(t, "pepe", points[0].TokenID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), points[0].Timestamp)
}

func TestCoinGecko_ResponseCached(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		fmt.Fprint(w, `{"prices":[[1700000000000,1.0]]}`)
	}))
	defer srv.Close()

	p := NewCoinGeckoProvider(CoinGeckoConfig{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
	}, testLimiter(), cache.NewByteStore(), nil)
	t.Cleanup(p.Stop)

	from, to := time.Unix(1699990000, 0), time.Unix(1700010000, 0)
	for i := 0; i < 3; i++ {
		_, err := p.PriceHistory(context.Background(), "pepe", from, to)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "identical queries should hit the response cache")
}

func TestCoinGecko_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewCoinGeckoProvider(CoinGeckoConfig{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
	}, testLimiter(), cache.NewByteStore(), nil)
	t.Cleanup(p.Stop)

	_, err := p.PriceHistory(context.Background(), "pepe", time.Unix(0, 0), time.Unix(1, 0).Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, "degraded", p.Health().Status)
}

func TestCoinGecko_InvalidWindow(t *testing.T) {
	p := NewCoinGeckoProvider(CoinGeckoConfig{}, testLimiter(), cache.NewByteStore(), nil)
	t.Cleanup(p.Stop)

	_, err := p.PriceHistory(context.Background(), "pepe", time.Unix(100, 0), time.Unix(50, 0))
	assert.Error(t, err)

	_, err = p.PriceHistory(context.Background(), "", time.Unix(0, 0), time.Unix(100, 0))
	assert.Error(t, err)
}

func TestCoinGecko_Stop(t *testing.T) {
	p := NewCoinGeckoProvider(CoinGeckoConfig{}, testLimiter(), cache.NewByteStore(), nil)

	p.Stop()
	p.Stop() // safe to call twice

	select {
	case <-p.stop:
		// closed: the budget reset goroutine has its exit signal
	case <-time.After(time.Second):
		t.Fatal("stop channel never closed")
	}
}

func zapperPage(nodes string, hasNext bool, cursor string) string {
	end := "null"
	if cursor != "" {
		end = fmt.Sprintf("%q", cursor)
	}
	return fmt.Sprintf(`{"data":{"transactions":{"pageInfo":{"hasNextPage":%v,"endCursor":%s},"nodes":[%s]}}}`,
		hasNext, end, nodes)
}

func zapperNode(hash, ts, amount, from, to string) string {
	return fmt.Sprintf(`{"hash":%q,"type":"swap","timestamp":%q,"amount":%q,`, hash, ts, amount) +
		`"token":{"address":"0xTOKEN","symbol":"PEPE","decimals":18,"price":1.5},` +
		fmt.Sprintf(`"to":{"address":%q},"from":{"address":%q}}`, to, from)
}

func TestZapper_PaginationAndDirection(t *testing.T) {
	const wallet = "0xWALLET"
	var page int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Variables struct {
				After *string `json:"after"`
			} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch atomic.AddInt64(&page, 1) {
		case 1:
			assert.Nil(t, body.Variables.After)
			fmt.Fprint(w, zapperPage(zapperNode("0x1", "2024-01-02T00:00:00Z", "10", wallet, "0xOTHER"), true, "cur1"))
		default:
			require.NotNil(t, body.Variables.After)
			assert.Equal(t, "cur1", *body.Variables.After)
			fmt.Fprint(w, zapperPage(zapperNode("0x2", "2024-01-01T00:00:00Z", "5", "0xOTHER", wallet), false, ""))
		}
	}))
	defer srv.Close()

	p := NewZapperProvider(ZapperConfig{
		BaseURL:        srv.URL,
		APIKey:         "key",
		RequestTimeout: time.Second,
	}, testLimiter(), nil)

	txs, err := p.Transactions(context.Background(), wallet, time.Time{})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, models.DirectionOut, txs[0].Direction)
	assert.Equal(t, "0xOTHER", txs[0].Counterparty)
	assert.Equal(t, models.DirectionIn, txs[1].Direction)
	assert.Equal(t, "0xtoken", txs[0].TokenID)
	assert.Equal(t, 10.0, txs[0].Amount)
}

func TestZapper_SkipsMalformedNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodes := zapperNode("0xgood", "2024-01-01T00:00:00Z", "1", "0xW", "0xO") + "," +
			zapperNode("", "2024-01-01T00:00:00Z", "1", "0xW", "0xO") + "," + // no hash
			zapperNode("0xbadts", "not-a-time", "1", "0xW", "0xO") + "," +
			zapperNode("0xbadamt", "2024-01-01T00:00:00Z", "NaNope", "0xW", "0xO")
		fmt.Fprint(w, zapperPage(nodes, false, ""))
	}))
	defer srv.Close()

	p := NewZapperProvider(ZapperConfig{BaseURL: srv.URL, RequestTimeout: time.Second}, testLimiter(), nil)

	txs, err := p.Transactions(context.Background(), "0xW", time.Time{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "0xgood", txs[0].Hash)
}

func TestZapper_SinceFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodes := zapperNode("0xnew", "2024-06-01T00:00:00Z", "1", "0xW", "0xO") + "," +
			zapperNode("0xold", "2020-01-01T00:00:00Z", "1", "0xW", "0xO")
		fmt.Fprint(w, zapperPage(nodes, false, ""))
	}))
	defer srv.Close()

	p := NewZapperProvider(ZapperConfig{BaseURL: srv.URL, RequestTimeout: time.Second}, testLimiter(), nil)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	txs, err := p.Transactions(context.Background(), "0xW", since)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "0xnew", txs[0].Hash)
}

func TestZapper_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"address invalid"}]}`)
	}))
	defer srv.Close()

	p := NewZapperProvider(ZapperConfig{BaseURL: srv.URL, RequestTimeout: time.Second}, testLimiter(), nil)

	_, err := p.Transactions(context.Background(), "0xW", time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address invalid")
}
