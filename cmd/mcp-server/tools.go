package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eshaffer321/ig-go/pkg/ig"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
)

// igTools holds the IG client and implements all tool handlers
type igTools struct {
	client *ig.Client
}

// price renders an optional API price, empty when the API sent none
func price(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// SearchMarkets tool - finds markets by name or symbol
type SearchMarketsInput struct {
	Term  string `json:"term" jsonschema:"Search term, e.g. FTSE or EUR/USD"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of markets to return (default: 20)"`
}

type MarketEntry struct {
	Epic           string `json:"epic" jsonschema:"Market identifier used by other tools"`
	InstrumentName string `json:"instrumentName" jsonschema:"Instrument name"`
	InstrumentType string `json:"instrumentType,omitempty" jsonschema:"Instrument type, e.g. INDICES or CURRENCIES"`
	Expiry         string `json:"expiry,omitempty" jsonschema:"Expiry, DFB for daily funded bets"`
	MarketStatus   string `json:"marketStatus,omitempty" jsonschema:"TRADEABLE, CLOSED, EDITS_ONLY, etc."`
	Bid            string `json:"bid,omitempty" jsonschema:"Current bid price"`
	Offer          string `json:"offer,omitempty" jsonschema:"Current offer price"`
}

type SearchMarketsOutput struct {
	Term    string        `json:"term" jsonschema:"The search term used"`
	Count   int           `json:"count" jsonschema:"Number of markets returned"`
	Markets []MarketEntry `json:"markets" jsonschema:"Matching markets"`
}

func toMarketEntry(m ig.MarketData) MarketEntry {
	return MarketEntry{
		Epic:           m.Epic,
		InstrumentName: m.InstrumentName,
		InstrumentType: m.InstrumentType,
		Expiry:         m.Expiry,
		MarketStatus:   m.MarketStatus,
		Bid:            price(m.Bid),
		Offer:          price(m.Offer),
	}
}

func (t *igTools) SearchMarkets(ctx context.Context, req *mcp.CallToolRequest, input SearchMarketsInput) (*mcp.CallToolResult, SearchMarketsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	markets, err := t.client.Markets.Search(ctx, input.Term)
	if err != nil {
		return nil, SearchMarketsOutput{}, fmt.Errorf("failed to search markets: %w", err)
	}

	entries := make([]MarketEntry, 0, len(markets))
	for _, m := range markets {
		if len(entries) >= limit {
			break
		}
		entries = append(entries, toMarketEntry(m))
	}

	return nil, SearchMarketsOutput{
		Term:    input.Term,
		Count:   len(entries),
		Markets: entries,
	}, nil
}

// GetMarketDetails tool - instrument, snapshot and dealing rules per epic
type GetMarketDetailsInput struct {
	Epics []string `json:"epics" jsonschema:"Market epics, at most 50"`
}

type MarketDetailsEntry struct {
	Epic           string `json:"epic" jsonschema:"Market identifier"`
	Name           string `json:"name" jsonschema:"Instrument name"`
	InstrumentType string `json:"instrumentType,omitempty" jsonschema:"Instrument type"`
	Expiry         string `json:"expiry,omitempty" jsonschema:"Expiry"`
	MarketStatus   string `json:"marketStatus" jsonschema:"Current market status"`
	Bid            string `json:"bid,omitempty" jsonschema:"Current bid price"`
	Offer          string `json:"offer,omitempty" jsonschema:"Current offer price"`
	High           string `json:"high,omitempty" jsonschema:"Day high"`
	Low            string `json:"low,omitempty" jsonschema:"Day low"`
	PercentChange  string `json:"percentageChange,omitempty" jsonschema:"Percentage change on the day"`
	MinDealSize    string `json:"minDealSize,omitempty" jsonschema:"Minimum deal size"`
	MarginFactor   string `json:"marginFactor,omitempty" jsonschema:"Margin requirement"`
	MarginUnit     string `json:"marginFactorUnit,omitempty" jsonschema:"PERCENTAGE or POINTS"`
}

type GetMarketDetailsOutput struct {
	Count   int                  `json:"count" jsonschema:"Number of markets returned"`
	Markets []MarketDetailsEntry `json:"markets" jsonschema:"Details for each requested market"`
}

func (t *igTools) GetMarketDetails(ctx context.Context, req *mcp.CallToolRequest, input GetMarketDetailsInput) (*mcp.CallToolResult, GetMarketDetailsOutput, error) {
	if len(input.Epics) == 0 {
		return nil, GetMarketDetailsOutput{}, fmt.Errorf("at least one epic is required")
	}

	details, err := t.client.Markets.MultipleDetails(ctx, input.Epics)
	if err != nil {
		return nil, GetMarketDetailsOutput{}, fmt.Errorf("failed to fetch market details: %w", err)
	}

	entries := make([]MarketDetailsEntry, 0, len(details))
	for _, d := range details {
		entries = append(entries, MarketDetailsEntry{
			Epic:           d.Instrument.Epic,
			Name:           d.Instrument.Name,
			InstrumentType: d.Instrument.InstrumentType,
			Expiry:         d.Instrument.Expiry,
			MarketStatus:   d.Snapshot.MarketStatus,
			Bid:            price(d.Snapshot.Bid),
			Offer:          price(d.Snapshot.Offer),
			High:           price(d.Snapshot.High),
			Low:            price(d.Snapshot.Low),
			PercentChange:  price(d.Snapshot.PercentageChange),
			MinDealSize:    price(d.DealingRules.MinDealSize.Value),
			MarginFactor:   price(d.Instrument.MarginFactor),
			MarginUnit:     d.Instrument.MarginFactorUnit,
		})
	}

	return nil, GetMarketDetailsOutput{
		Count:   len(entries),
		Markets: entries,
	}, nil
}

// GetHistoricalPrices tool - candles for one market
type GetHistoricalPricesInput struct {
	Epic       string `json:"epic" jsonschema:"Market epic"`
	Resolution string `json:"resolution,omitempty" jsonschema:"SECOND, MINUTE, MINUTE_5, HOUR, DAY, WEEK, etc. (default: DAY)"`
	From       string `json:"from" jsonschema:"Start date in YYYY-MM-DD format"`
	To         string `json:"to,omitempty" jsonschema:"End date in YYYY-MM-DD format (default: today)"`
}

type CandleEntry struct {
	Time   string `json:"time" jsonschema:"Candle start time"`
	Open   string `json:"open" jsonschema:"Mid open price"`
	High   string `json:"high" jsonschema:"Mid high price"`
	Low    string `json:"low" jsonschema:"Mid low price"`
	Close  string `json:"close" jsonschema:"Mid close price"`
	Volume int64  `json:"volume" jsonschema:"Last traded volume"`
}

type GetHistoricalPricesOutput struct {
	Epic               string        `json:"epic" jsonschema:"Market epic"`
	Resolution         string        `json:"resolution" jsonschema:"Candle resolution"`
	Candles            []CandleEntry `json:"candles" jsonschema:"Candles, oldest first"`
	RemainingAllowance int64         `json:"remainingAllowance" jsonschema:"Historical data points left in the weekly allowance"`
}

const dateLayout = "2006-01-02"

func (t *igTools) GetHistoricalPrices(ctx context.Context, req *mcp.CallToolRequest, input GetHistoricalPricesInput) (*mcp.CallToolResult, GetHistoricalPricesOutput, error) {
	from, err := time.Parse(dateLayout, input.From)
	if err != nil {
		return nil, GetHistoricalPricesOutput{}, fmt.Errorf("invalid from date (expected YYYY-MM-DD): %w", err)
	}
	to := time.Now()
	if input.To != "" {
		if to, err = time.Parse(dateLayout, input.To); err != nil {
			return nil, GetHistoricalPricesOutput{}, fmt.Errorf("invalid to date (expected YYYY-MM-DD): %w", err)
		}
	}

	resolution := strings.ToUpper(input.Resolution)
	if resolution == "" {
		resolution = "DAY"
	}

	prices, err := t.client.Markets.HistoricalPrices(ctx, input.Epic, &ig.PriceParams{
		Resolution: resolution,
		From:       from.Format("2006-01-02T15:04:05"),
		To:         to.Format("2006-01-02T15:04:05"),
	})
	if err != nil {
		return nil, GetHistoricalPricesOutput{}, fmt.Errorf("failed to fetch prices: %w", err)
	}

	candles := make([]CandleEntry, 0, len(prices.Prices))
	for _, p := range prices.Prices {
		candles = append(candles, CandleEntry{
			Time:   p.SnapshotTime,
			Open:   mid(p.OpenPrice),
			High:   mid(p.HighPrice),
			Low:    mid(p.LowPrice),
			Close:  mid(p.ClosePrice),
			Volume: p.LastTradedVolume,
		})
	}

	output := GetHistoricalPricesOutput{
		Epic:       input.Epic,
		Resolution: resolution,
		Candles:    candles,
	}
	if prices.Allowance != nil {
		output.RemainingAllowance = prices.Allowance.RemainingAllowance
	}
	return nil, output, nil
}

// mid is the midpoint of bid and ask, falling back to whichever side is set
func mid(p ig.PricePoint) string {
	switch {
	case p.Bid.Valid && p.Ask.Valid:
		return p.Bid.Decimal.Add(p.Ask.Decimal).Div(decimal.NewFromInt(2)).String()
	case p.Bid.Valid:
		return p.Bid.Decimal.String()
	case p.Ask.Valid:
		return p.Ask.Decimal.String()
	default:
		return price(p.LastTraded)
	}
}

// GetMarketHierarchy tool - walks the navigation tree
type GetMarketHierarchyInput struct {
	NodeID     string `json:"nodeId,omitempty" jsonschema:"Navigation node to start below (optional, default: root)"`
	StartDepth int    `json:"startDepth,omitempty" jsonschema:"Depth assigned to the start node, the walk stops below depth 7 (optional)"`
}

type FailedNode struct {
	ID    string `json:"id" jsonschema:"Navigation node ID"`
	Name  string `json:"name" jsonschema:"Navigation node name"`
	Error string `json:"error" jsonschema:"Why the node could not be fetched"`
}

type GetMarketHierarchyOutput struct {
	Nodes   int           `json:"nodes" jsonschema:"Number of nodes visited"`
	Markets []MarketEntry `json:"markets" jsonschema:"Markets found below the start node"`
	Failed  []FailedNode  `json:"failed" jsonschema:"Nodes whose children could not be fetched"`
}

func (t *igTools) GetMarketHierarchy(ctx context.Context, req *mcp.CallToolRequest, input GetMarketHierarchyInput) (*mcp.CallToolResult, GetMarketHierarchyOutput, error) {
	nodes, err := t.client.Hierarchy.Build(ctx, input.NodeID, input.StartDepth)
	if err != nil {
		return nil, GetMarketHierarchyOutput{}, fmt.Errorf("failed to build market hierarchy: %w", err)
	}

	markets := ig.ExtractMarkets(nodes)
	entries := make([]MarketEntry, 0, len(markets))
	for _, m := range markets {
		entries = append(entries, toMarketEntry(m))
	}

	degraded := ig.DegradedNodes(nodes)
	failed := make([]FailedNode, 0, len(degraded))
	for _, n := range degraded {
		failed = append(failed, FailedNode{ID: n.ID, Name: n.Name, Error: n.Error})
	}

	return nil, GetMarketHierarchyOutput{
		Nodes:   ig.CountNodes(nodes),
		Markets: entries,
		Failed:  failed,
	}, nil
}

// GetSession tool - current session, logging in when needed
type GetSessionInput struct{}

type GetSessionOutput struct {
	AccountID     string `json:"accountId" jsonschema:"Active account"`
	ClientID      string `json:"clientId" jsonschema:"IG client ID"`
	Scheme        string `json:"scheme" jsonschema:"Authentication scheme (cst or oauth)"`
	ExpiresAt     string `json:"expiresAt" jsonschema:"When the session tokens expire (RFC3339)"`
	SecondsLeft   int64  `json:"secondsLeft" jsonschema:"Seconds until the tokens expire"`
	Lightstreamer string `json:"lightstreamerEndpoint,omitempty" jsonschema:"Streaming endpoint for this session"`
}

func (t *igTools) GetSession(ctx context.Context, req *mcp.CallToolRequest, input GetSessionInput) (*mcp.CallToolResult, GetSessionOutput, error) {
	sess, err := t.client.Session.Get(ctx)
	if err != nil {
		return nil, GetSessionOutput{}, fmt.Errorf("failed to get session: %w", err)
	}

	return nil, GetSessionOutput{
		AccountID:     sess.AccountID(),
		ClientID:      sess.ClientID(),
		Scheme:        string(sess.Scheme()),
		ExpiresAt:     sess.ExpiresAt().Format(time.RFC3339),
		SecondsLeft:   sess.SecondsUntilExpiry(),
		Lightstreamer: sess.LightstreamerEndpoint(),
	}, nil
}

// GetRateLimits tool - limiter usage
type GetRateLimitsInput struct{}

type RateLimitEntry struct {
	AccountID      string  `json:"accountId" jsonschema:"Account the limiter belongs to, empty for the application limiter"`
	Type           string  `json:"type" jsonschema:"trading, non_trading or app_non_trading"`
	EffectiveQuota float64 `json:"effectiveQuota" jsonschema:"Requests allowed per period after the safety margin"`
	Period         string  `json:"period" jsonschema:"Quota period"`
	InWindow       int     `json:"inWindow" jsonschema:"Requests admitted in the current period"`
	Remaining      int     `json:"remaining" jsonschema:"Requests that can be sent right now without waiting"`
}

type GetRateLimitsOutput struct {
	Limits     []RateLimitEntry `json:"limits" jsonschema:"One entry per limiter created so far"`
	MaxRetries int              `json:"maxRetries" jsonschema:"Retries after a quota rejection, 0 means unbounded"`
	RetryDelay string           `json:"retryDelay" jsonschema:"Delay between quota retries"`
}

func (t *igTools) GetRateLimits(ctx context.Context, req *mcp.CallToolRequest, input GetRateLimitsInput) (*mcp.CallToolResult, GetRateLimitsOutput, error) {
	limits := t.client.Session.Limits()
	entries := make([]RateLimitEntry, 0, len(limits))
	for _, l := range limits {
		entries = append(entries, RateLimitEntry{
			AccountID:      l.AccountID,
			Type:           string(l.Type),
			EffectiveQuota: l.EffectiveQuota,
			Period:         l.Period.String(),
			InWindow:       l.InWindow,
			Remaining:      l.Remaining,
		})
	}

	retry := t.client.RetryConfig()
	return nil, GetRateLimitsOutput{
		Limits:     entries,
		MaxRetries: retry.MaxRetries,
		RetryDelay: retry.RetryDelay().String(),
	}, nil
}
