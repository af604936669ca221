package fx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestERAPIProvider_Fetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"success","base_code":"USD","rates":{"USD":1,"EUR":0.8,"JPY":160,"b4d":2,"GBP":0}}`))
	}))
	defer srv.Close()

	p := NewERAPIProvider(srv.URL+"/v6/latest", srv.Client())
	rates, err := p.Fetch(context.Background(), "USD")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotPath != "/v6/latest/USD" {
		t.Errorf("path = %q, want /v6/latest/USD", gotPath)
	}

	tests := map[string]string{
		"USD": "1",
		"EUR": "1.25",
		"JPY": "0.00625",
	}
	for code, want := range tests {
		got, ok := rates[code]
		if !ok {
			t.Errorf("rate %s missing", code)
			continue
		}
		if !got.Equal(d(want)) {
			t.Errorf("rate %s = %s, want %s", code, got, want)
		}
	}
	if _, ok := rates["GBP"]; ok {
		t.Errorf("zero quote was not dropped")
	}
}

func TestERAPIProvider_FetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http error", status: http.StatusBadGateway, body: `{}`},
		{name: "result error", status: http.StatusOK, body: `{"result":"error","error-type":"unsupported-code"}`},
		{name: "no rates", status: http.StatusOK, body: `{"result":"success","rates":{}}`},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := NewERAPIProvider(srv.URL, srv.Client()).Fetch(context.Background(), "USD"); err == nil {
				t.Fatal("Fetch() error = nil, want error")
			}
		})
	}
}

const cbrDaily = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="15.05.2024" name="Foreign Currency Market">
<Valute ID="R01235"><NumCode>840</NumCode><CharCode>USD</CharCode><Nominal>1</Nominal><Name>Доллар США</Name><Value>90,0000</Value></Valute>
<Valute ID="R01239"><NumCode>978</NumCode><CharCode>EUR</CharCode><Nominal>1</Nominal><Name>Евро</Name><Value>99,0000</Value></Valute>
<Valute ID="R01820"><NumCode>392</NumCode><CharCode>JPY</CharCode><Nominal>100</Nominal><Name>Японских иен</Name><Value>60,0000</Value></Valute>
<Valute ID="R0XXXX"><CharCode>XXX</CharCode><Nominal>0</Nominal><Value>1,0</Value></Valute>
</ValCurs>`

func TestCBRProvider_Fetch(t *testing.T) {
	body, err := charmap.Windows1251.NewEncoder().String(cbrDaily)
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=windows-1251")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	rates, err := NewCBRProvider(srv.URL, srv.Client()).Fetch(context.Background(), "USD")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	tests := map[string]string{
		"USD": "1",
		"EUR": "1.1",
		"JPY": "0.0066666667",
		"RUB": "0.0111111111",
	}
	for code, want := range tests {
		if got := rates[code]; !got.Equal(d(want)) {
			t.Errorf("rate %s = %s, want %s", code, got, want)
		}
	}
	if _, ok := rates["XXX"]; ok {
		t.Errorf("zero-nominal entry was not dropped")
	}
}

func TestCBRProvider_UnknownBase(t *testing.T) {
	body, _ := charmap.Windows1251.NewEncoder().String(cbrDaily)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	if _, err := NewCBRProvider(srv.URL, srv.Client()).Fetch(context.Background(), "GBP"); err == nil {
		t.Fatal("Fetch() error = nil, want error for unquoted base")
	}
}

func TestParseRates(t *testing.T) {
	rates, err := ParseRates(` {"eur": 1.1, "GBP": "1.27"} `)
	if err != nil {
		t.Fatalf("ParseRates() error = %v", err)
	}
	if !rates["EUR"].Equal(d("1.1")) || !rates["GBP"].Equal(d("1.27")) {
		t.Errorf("ParseRates() = %v", rates)
	}

	empty, err := ParseRates("")
	if err != nil || len(empty) != 0 {
		t.Errorf("ParseRates(\"\") = %v, %v; want empty", empty, err)
	}

	for _, raw := range []string{`{"EUR": 0}`, `{"EURO": 1}`, `[1,2]`, `{"EUR": -1}`} {
		if _, err := ParseRates(raw); err == nil {
			t.Errorf("ParseRates(%s) error = nil, want error", raw)
		}
	}
}

func TestMerge(t *testing.T) {
	got := Merge("USD",
		Rates{"EUR": d("1.0"), "GBP": d("1.2"), "USD": d("3")},
		Rates{"EUR": d("1.1")},
	)
	if !got["EUR"].Equal(d("1.1")) {
		t.Errorf("EUR = %s, want later source to win", got["EUR"])
	}
	if !got["GBP"].Equal(d("1.2")) {
		t.Errorf("GBP = %s, want fallback kept", got["GBP"])
	}
	if !got["USD"].Equal(d("1")) {
		t.Errorf("USD = %s, want base pinned to 1", got["USD"])
	}
}
