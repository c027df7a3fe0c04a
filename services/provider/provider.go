package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSymbolNotFound marks a ticker the upstream does not know
var ErrSymbolNotFound = errors.New("symbol not found")

// Client is the upstream market-data contract the gateway consumes.
type Client interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetIndices(ctx context.Context) ([]Quote, error)
	GetHistory(ctx context.Context, symbol, period string) ([]Candle, error)
}

// Quote represents a realtime quote for a symbol or index
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Timestamp     string  `json:"timestamp"`
}

// Candle represents one day of OHLCV history
type Candle struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// marketIndex pairs an index ticker with its display name
type marketIndex struct {
	Symbol string
	Name   string
}

// DefaultIndices are the major market indices served by get_indices
var DefaultIndices = []marketIndex{
	{Symbol: "^GSPC", Name: "S&P 500"},
	{Symbol: "^DJI", Name: "Dow Jones"},
	{Symbol: "^IXIC", Name: "NASDAQ"},
	{Symbol: "^VIX", Name: "VIX"},
}

// HistoryPeriods lists the range values accepted by the chart API
var HistoryPeriods = map[string]bool{
	"1d": true, "5d": true, "1mo": true, "3mo": true, "6mo": true,
	"1y": true, "2y": true, "5y": true, "10y": true, "ytd": true, "max": true,
}

// YahooClient fetches quotes from the Yahoo Finance chart API
type YahooClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewYahooClient creates a new chart API client
func NewYahooClient(baseURL string) *YahooClient {
	return &YahooClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// chartResponse represents the chart API response. Price arrays use
// pointers because the API emits nulls for halted intervals.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol              string  `json:"symbol"`
				ShortName           string  `json:"shortName"`
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				PreviousClose       float64 `json:"previousClose"`
				ChartPreviousClose  float64 `json:"chartPreviousClose"`
				RegularMarketVolume int64   `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetQuote fetches the current quote for a symbol
func (y *YahooClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	resp, err := y.fetchChart(ctx, symbol, "1d", "1m")
	if err != nil {
		return nil, err
	}

	result := resp.Chart.Result[0]
	meta := result.Meta

	price := meta.RegularMarketPrice
	if price == 0 {
		// Market price missing from meta, fall back to the last traded close
		if len(result.Indicators.Quote) > 0 {
			price = lastValue(result.Indicators.Quote[0].Close)
		}
		if price == 0 {
			return nil, fmt.Errorf("no price data for %s", symbol)
		}
	}

	prevClose := meta.PreviousClose
	if prevClose == 0 {
		prevClose = meta.ChartPreviousClose
	}

	p := decimal.NewFromFloat(price)
	pc := decimal.NewFromFloat(prevClose)
	change := p.Sub(pc)
	changePercent := decimal.Zero
	if !pc.IsZero() {
		changePercent = change.Div(pc).Mul(decimal.NewFromInt(100))
	}

	name := meta.ShortName
	quoteSymbol := meta.Symbol
	if quoteSymbol == "" {
		quoteSymbol = symbol
	}

	return &Quote{
		Symbol:        quoteSymbol,
		Name:          name,
		Price:         round2(p),
		Change:        round2(change),
		ChangePercent: round2(changePercent),
		Volume:        meta.RegularMarketVolume,
		Timestamp:     time.Now().Format(time.RFC3339),
	}, nil
}

// GetIndices fetches quotes for the major market indices. Failures on
// individual indices are skipped so one bad ticker does not hide the rest.
func (y *YahooClient) GetIndices(ctx context.Context) ([]Quote, error) {
	results := make([]Quote, 0, len(DefaultIndices))
	for _, idx := range DefaultIndices {
		quote, err := y.GetQuote(ctx, idx.Symbol)
		if err != nil {
			log.Printf("Failed to fetch index %s: %v", idx.Symbol, err)
			continue
		}
		quote.Name = idx.Name
		results = append(results, *quote)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("no index data available")
	}
	return results, nil
}

// GetHistory fetches daily OHLCV candles for a symbol over a period
func (y *YahooClient) GetHistory(ctx context.Context, symbol, period string) ([]Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	if !HistoryPeriods[period] {
		return nil, fmt.Errorf("invalid period %q", period)
	}

	resp, err := y.fetchChart(ctx, symbol, period, "1d")
	if err != nil {
		return nil, err
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no history data for %s", symbol)
	}
	bars := result.Indicators.Quote[0]

	candles := make([]Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closeVal := at(bars.Close, i)
		if closeVal == 0 {
			// Null bar, nothing traded
			continue
		}
		candles = append(candles, Candle{
			Date:   time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Open:   roundFloat2(at(bars.Open, i)),
			High:   roundFloat2(at(bars.High, i)),
			Low:    roundFloat2(at(bars.Low, i)),
			Close:  roundFloat2(closeVal),
			Volume: atInt(bars.Volume, i),
		})
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no history data for %s", symbol)
	}
	return candles, nil
}

// fetchChart performs the chart API request and validates the envelope
func (y *YahooClient) fetchChart(ctx context.Context, symbol, dataRange, interval string) (*chartResponse, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s", y.baseURL, symbol, dataRange, interval)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", symbol, ErrSymbolNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("failed to parse response for %s: %w", symbol, err)
	}

	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, fmt.Errorf("%s: %w", symbol, ErrSymbolNotFound)
		}
		return nil, fmt.Errorf("provider error for %s: %s", symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("no data for %s", symbol)
	}

	return &chart, nil
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func roundFloat2(f float64) float64 {
	return round2(decimal.NewFromFloat(f))
}

// at returns the i-th element of a nullable float array, 0 when absent
func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

// atInt returns the i-th element of a nullable int array, 0 when absent
func atInt(values []*int64, i int) int64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

// lastValue returns the last non-null entry of a nullable float array
func lastValue(values []*float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != nil && *values[i] != 0 {
			return *values[i]
		}
	}
	return 0
}
