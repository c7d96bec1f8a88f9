package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultRatesURL serves {"base": "...", "rates": {...}} at /{base}.
const DefaultRatesURL = "https://api.exchangerate-api.com/v4/latest"

// Fetcher retrieves live rates quoted against base.
type Fetcher interface {
	FetchRates(ctx context.Context, base string) (Rates, error)
}

// HTTPFetcher reads rates from a JSON endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if baseURL == "" {
		baseURL = DefaultRatesURL
	}
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type ratesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

func (f *HTTPFetcher) FetchRates(ctx context.Context, base string) (Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/"+base, nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rates: unexpected status %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if len(body.Rates) == 0 {
		return nil, fmt.Errorf("decode rates: empty rate table")
	}
	return Rates(body.Rates), nil
}

// Provider resolves the rate table at most once per process. Callers
// arriving while the fetch is in flight wait for it; any failure falls
// back to the placeholder rates.
type Provider struct {
	fetcher Fetcher
	table   Table
	timeout time.Duration
	logger  *slog.Logger

	once  sync.Once
	rates Rates
	live  bool
}

func NewProvider(fetcher Fetcher, table Table, timeout time.Duration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Provider{fetcher: fetcher, table: table, timeout: timeout, logger: logger}
}

// Rates returns a copy of the resolved rate table.
func (p *Provider) Rates(ctx context.Context) Rates {
	p.once.Do(func() { p.resolve(ctx) })
	return maps.Clone(p.rates)
}

// Live reports whether the table came from the fetcher.
func (p *Provider) Live() bool {
	p.once.Do(func() { p.resolve(context.Background()) })
	return p.live
}

func (p *Provider) Table() Table {
	return p.table
}

func (p *Provider) resolve(ctx context.Context) {
	if p.fetcher == nil {
		p.rates = p.table.Placeholders()
		return
	}

	// The result is kept for the process lifetime, so one caller's
	// cancellation must not decide it.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	fetched, err := p.fetcher.FetchRates(fetchCtx, p.table.Base)
	if err != nil {
		p.logger.WarnContext(ctx, "Exchange rate fetch failed, using placeholder rates",
			"base", p.table.Base,
			"error", err)
		p.rates = p.table.Placeholders()
		return
	}

	p.rates = p.table.Normalize(fetched)
	p.live = true
	p.logger.InfoContext(ctx, "Exchange rates loaded",
		"base", p.table.Base,
		"currencies", len(p.rates))
}
