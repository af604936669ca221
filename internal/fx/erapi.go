package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/shopspring/decimal"
)

// DefaultERAPIURL is the open exchange-rate endpoint; the base currency is appended.
const DefaultERAPIURL = "https://open.er-api.com/v6/latest"

// ERAPIProvider reads rates from the open.er-api.com JSON API. Its quotes are
// "units of currency per one base", so they are inverted into rates to base.
type ERAPIProvider struct {
	baseURL string
	client  *http.Client
}

// NewERAPIProvider creates a provider. An empty baseURL selects DefaultERAPIURL.
func NewERAPIProvider(baseURL string, client *http.Client) *ERAPIProvider {
	if baseURL == "" {
		baseURL = DefaultERAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ERAPIProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type erapiResponse struct {
	Result string                 `json:"result"`
	Rates  map[string]json.Number `json:"rates"`
}

// Name implements Provider.
func (p *ERAPIProvider) Name() string { return "er-api" }

// Fetch implements Provider.
func (p *ERAPIProvider) Fetch(ctx context.Context, base string) (Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+url.PathEscape(base), nil)
	if err != nil {
		return nil, fmt.Errorf("Fetch: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Fetch: unexpected status code: %d", resp.StatusCode)
	}

	var payload erapiResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("Fetch: decoding response: %w", err)
	}
	if payload.Result != "success" || len(payload.Rates) == 0 {
		return nil, fmt.Errorf("Fetch: payload missing rates (result %q)", payload.Result)
	}

	rates := make(Rates, len(payload.Rates))
	for code, num := range payload.Rates {
		c, err := money.NormalizeCurrency(code)
		if err != nil {
			continue
		}
		quote, err := decimal.NewFromString(num.String())
		if err != nil {
			continue
		}
		rate, err := money.Invert(quote)
		if err != nil {
			continue
		}
		rates[c] = rate
	}
	return rates, nil
}
