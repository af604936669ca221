package fx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// DefaultCBRURL is the Central Bank of Russia daily rates document.
const DefaultCBRURL = "https://www.cbr.ru/scripts/XML_daily.asp"

// CBRProvider reads the Central Bank of Russia daily XML. The document quotes every
// currency in roubles, so rates to any base are derived as cross rates.
type CBRProvider struct {
	url    string
	client *http.Client
}

// NewCBRProvider creates a provider. An empty url selects DefaultCBRURL.
func NewCBRProvider(url string, client *http.Client) *CBRProvider {
	if url == "" {
		url = DefaultCBRURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CBRProvider{url: url, client: client}
}

// Name implements Provider.
func (p *CBRProvider) Name() string { return "cbr" }

// Fetch implements Provider.
func (p *CBRProvider) Fetch(ctx context.Context, base string) (Rates, error) {
	body, err := p.sendRequest(ctx)
	if err != nil {
		return nil, err
	}
	rub, err := parseDailyXML(body)
	if err != nil {
		return nil, err
	}
	return crossRates(rub, base)
}

func (p *CBRProvider) sendRequest(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// parseDailyXML returns roubles per one unit of each listed currency.
func parseDailyXML(raw []byte) (map[string]decimal.Decimal, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(label, "windows-1251") {
			return charmap.Windows1251.NewDecoder().Reader(input), nil
		}
		return input, nil
	}
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	valutes := doc.FindElements("//ValCurs/Valute")
	if len(valutes) == 0 {
		return nil, fmt.Errorf("no currency data found in XML")
	}

	rub := map[string]decimal.Decimal{"RUB": decimal.NewFromInt(1)}
	for _, v := range valutes {
		codeEl := v.FindElement("./CharCode")
		nominalEl := v.FindElement("./Nominal")
		valueEl := v.FindElement("./Value")
		if codeEl == nil || nominalEl == nil || valueEl == nil {
			continue
		}
		code, err := money.NormalizeCurrency(codeEl.Text())
		if err != nil {
			continue
		}
		nominal, err := decimal.NewFromString(strings.TrimSpace(nominalEl.Text()))
		if err != nil || !nominal.IsPositive() {
			continue
		}
		// Values use a decimal comma.
		value, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(valueEl.Text()), ",", "."))
		if err != nil || !value.IsPositive() {
			continue
		}
		rub[code] = value.DivRound(nominal, money.RatePlaces)
	}
	return rub, nil
}

// crossRates converts rouble quotes into rates to base.
func crossRates(rub map[string]decimal.Decimal, base string) (Rates, error) {
	basePerRub, ok := rub[base]
	if !ok {
		return nil, fmt.Errorf("base currency %s not quoted by CBR", base)
	}
	rates := make(Rates, len(rub))
	for code, value := range rub {
		rates[code] = value.DivRound(basePerRub, money.RatePlaces)
	}
	return rates, nil
}
