package currency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	assert.Equal(t, "USD", table.Base)
	assert.Equal(t, []string{"USD", "INR", "EUR", "GBP", "JPY", "AUD", "CAD"}, table.Codes())

	rates := table.Placeholders()
	assert.Equal(t, 1.0, rates["USD"])
	assert.Equal(t, 83.0, rates["INR"])
	assert.Equal(t, 0.92, rates["EUR"])

	inr, ok := table.Lookup("inr")
	require.True(t, ok)
	assert.Equal(t, "₹", inr.Symbol)
}

func TestParseTableRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing base":   "currencies:\n  - code: USD\n    placeholder_rate: 1\n",
		"unknown code":   "base: USD\ncurrencies:\n  - code: USD\n    placeholder_rate: 1\n  - code: XYZW\n    placeholder_rate: 2\n",
		"duplicate code": "base: USD\ncurrencies:\n  - code: USD\n    placeholder_rate: 1\n  - code: usd\n    placeholder_rate: 1\n",
		"base not listed": "base: USD\ncurrencies:\n  - code: EUR\n    placeholder_rate: 0.9\n",
		"zero rate":      "base: USD\ncurrencies:\n  - code: USD\n    placeholder_rate: 1\n  - code: EUR\n    placeholder_rate: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTable([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	doc := "base: USD\ncurrencies:\n  - code: USD\n    symbol: \"$\"\n    placeholder_rate: 1\n  - code: CHF\n    symbol: \"CHF \"\n    placeholder_rate: 0.88\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 0.88, table.Placeholders()["CHF"])
}

func TestConversions(t *testing.T) {
	rates := Rates{"USD": 1, "INR": 83, "EUR": 0.92, "BAD": 0}

	assert.InDelta(t, 830.0, ToDisplay(10, "INR", rates), 1e-9)
	assert.InDelta(t, 10.0, ToBase(830, "INR", rates), 1e-9)
	assert.Equal(t, 10.0, ToDisplay(10, "XXX", rates), "missing rate means 1")
	assert.Equal(t, 42.0, ToBase(42, "BAD", rates), "zero rate leaves the input unchanged")
	assert.Equal(t, 42.0, ToDisplay(42, "BAD", rates))
}

func TestRoundTripWithinOneCent(t *testing.T) {
	rates := DefaultTable().Placeholders()
	amounts := []float64{0, 0.01, 1, 19.99, 1234.56, 98765.43}
	for code := range rates {
		for _, a := range amounts {
			got := ToDisplay(ToBase(a, code, rates), code, rates)
			assert.InDelta(t, a, got, 0.01, "%s %v", code, a)
		}
	}
}

func TestFormat(t *testing.T) {
	f := NewFormatter(DefaultTable())
	rates := DefaultTable().Placeholders()

	assert.Equal(t, "$1,234.56", f.Format(1234.56, "USD", rates))
	assert.Equal(t, "$1,234.56", f.Format(-1234.56, "USD", rates), "magnitude only")
	assert.Equal(t, "₹8,300.00", f.Format(100, "INR", rates))
	assert.Equal(t, "¥1,500.00", f.Format(10, "JPY", rates))

	other := f.Format(5, "CHF", rates)
	assert.Equal(t, "CHF 5.00", other)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/USD", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"USD":1,"EUR":0.9,"INR":84.1,"XAU":0.0004}}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/", time.Second)
	rates, err := f.FetchRates(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, 84.1, rates["INR"])
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.URL, time.Second).FetchRates(context.Background(), "USD")
	assert.ErrorContains(t, err, "unexpected status 503")
}

type countingFetcher struct {
	calls atomic.Int32
	rates Rates
	err   error
}

func (f *countingFetcher) FetchRates(ctx context.Context, base string) (Rates, error) {
	f.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return f.rates, f.err
}

func TestProviderFetchesOnce(t *testing.T) {
	fetcher := &countingFetcher{rates: Rates{"USD": 0.5, "EUR": 0.95, "XAU": 0.0004}}
	p := NewProvider(fetcher, DefaultTable(), time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Rates(context.Background())
		}()
	}
	wg.Wait()

	rates := p.Rates(context.Background())
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.True(t, p.Live())
	assert.Equal(t, 1.0, rates["USD"], "base rate is pinned to 1")
	assert.Equal(t, 0.95, rates["EUR"])
	assert.Equal(t, 83.0, rates["INR"], "missing codes keep the placeholder")
	assert.NotContains(t, rates, "XAU", "unknown codes are dropped")

	rates["EUR"] = 99
	assert.Equal(t, 0.95, p.Rates(context.Background())["EUR"], "callers get a copy")
}

func TestProviderFallsBack(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("boom")}
	p := NewProvider(fetcher, DefaultTable(), time.Second, nil)

	rates := p.Rates(context.Background())
	assert.False(t, p.Live())
	assert.Equal(t, DefaultTable().Placeholders(), rates)

	p.Rates(context.Background())
	assert.Equal(t, int32(1), fetcher.calls.Load(), "failures are not retried")
}

func TestProviderIgnoresCallerCancellation(t *testing.T) {
	fetcher := &countingFetcher{rates: Rates{"EUR": 0.95}}
	p := NewProvider(fetcher, DefaultTable(), time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rates := p.Rates(ctx)
	assert.Equal(t, 0.95, rates["EUR"])
}
