package ig

import (
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ig-go/internal/ratelimit"
	"github.com/eshaffer321/ig-go/internal/session"
	"github.com/eshaffer321/ig-go/internal/transport"
	"github.com/eshaffer321/ig-go/internal/types"
)

// Shared types re-exported from the internal packages
type (
	Credentials     = types.Credentials
	Logger          = types.Logger
	RetryConfig     = types.RetryConfig
	Hooks           = types.Hooks
	Session         = session.Session
	Request         = transport.Request
	LimitType       = ratelimit.LimitType
	RateLimitConfig = ratelimit.Config
	LimitStats      = ratelimit.AccountStats
)

// Limit types
const (
	Trading       = ratelimit.Trading
	NonTrading    = ratelimit.NonTrading
	AppNonTrading = ratelimit.AppNonTrading
)

// MarketData is a market as listed by search and navigation endpoints
type MarketData struct {
	Epic             string              `json:"epic"`
	InstrumentName   string              `json:"instrumentName"`
	InstrumentType   string              `json:"instrumentType"`
	Expiry           string              `json:"expiry"`
	HighLimitPrice   decimal.NullDecimal `json:"highLimitPrice"`
	LowLimitPrice    decimal.NullDecimal `json:"lowLimitPrice"`
	MarketStatus     string              `json:"marketStatus"`
	NetChange        decimal.NullDecimal `json:"netChange"`
	PercentageChange decimal.NullDecimal `json:"percentageChange"`
	UpdateTime       string              `json:"updateTime,omitempty"`
	UpdateTimeUTC    string              `json:"updateTimeUTC,omitempty"`
	Bid              decimal.NullDecimal `json:"bid"`
	Offer            decimal.NullDecimal `json:"offer"`
}

// NavigationNode is a child reference returned by the navigation endpoints
type NavigationNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MarketNavigation is one level of the market navigation tree
type MarketNavigation struct {
	Nodes   []NavigationNode `json:"nodes"`
	Markets []MarketData     `json:"markets"`
}

// MarketNode is a node of a built hierarchy. A degraded node is one whose
// fetch failed; it keeps its id and name but has no children.
type MarketNode struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Children []*MarketNode `json:"children,omitempty"`
	Markets  []MarketData  `json:"markets,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Currency of an instrument
type Currency struct {
	Code             string              `json:"code"`
	Symbol           string              `json:"symbol,omitempty"`
	BaseExchangeRate decimal.NullDecimal `json:"baseExchangeRate"`
	ExchangeRate     decimal.NullDecimal `json:"exchangeRate"`
	IsDefault        bool                `json:"isDefault"`
}

// ExpiryDetails of an instrument
type ExpiryDetails struct {
	LastDealingDate string `json:"lastDealingDate"`
	SettlementInfo  string `json:"settlementInfo,omitempty"`
}

// StepDistance is a distance expressed in points or percent
type StepDistance struct {
	Unit  string              `json:"unit,omitempty"`
	Value decimal.NullDecimal `json:"value"`
}

// Instrument describes what a market trades
type Instrument struct {
	Epic             string              `json:"epic"`
	Name             string              `json:"name"`
	Expiry           string              `json:"expiry"`
	ContractSize     string              `json:"contractSize"`
	LotSize          decimal.NullDecimal `json:"lotSize"`
	HighLimitPrice   decimal.NullDecimal `json:"highLimitPrice"`
	LowLimitPrice    decimal.NullDecimal `json:"lowLimitPrice"`
	MarginFactor     decimal.NullDecimal `json:"marginFactor"`
	MarginFactorUnit string              `json:"marginFactorUnit,omitempty"`
	Currencies       []Currency          `json:"currencies,omitempty"`
	ValueOfOnePip    string              `json:"valueOfOnePip"`
	InstrumentType   string              `json:"instrumentType,omitempty"`
	ExpiryDetails    *ExpiryDetails      `json:"expiryDetails,omitempty"`
	NewsCode         string              `json:"newsCode,omitempty"`
	ChartCode        string              `json:"chartCode,omitempty"`
}

// MarketSnapshot holds current prices for a market
type MarketSnapshot struct {
	MarketStatus        string              `json:"marketStatus"`
	NetChange           decimal.NullDecimal `json:"netChange"`
	PercentageChange    decimal.NullDecimal `json:"percentageChange"`
	UpdateTime          string              `json:"updateTime,omitempty"`
	DelayTime           int64               `json:"delayTime"`
	Bid                 decimal.NullDecimal `json:"bid"`
	Offer               decimal.NullDecimal `json:"offer"`
	High                decimal.NullDecimal `json:"high"`
	Low                 decimal.NullDecimal `json:"low"`
	DecimalPlacesFactor int64               `json:"decimalPlacesFactor"`
	ScalingFactor       int64               `json:"scalingFactor"`
}

// DealingRules constrain orders on a market
type DealingRules struct {
	MinStepDistance               StepDistance        `json:"minStepDistance"`
	MinDealSize                   StepDistance        `json:"minDealSize"`
	MinControlledRiskStopDistance StepDistance        `json:"minControlledRiskStopDistance"`
	MinNormalStopOrLimitDistance  StepDistance        `json:"minNormalStopOrLimitDistance"`
	MaxStopOrLimitDistance        StepDistance        `json:"maxStopOrLimitDistance"`
	ControlledRiskSpacing         StepDistance        `json:"controlledRiskSpacing"`
	MarketOrderPreference         string              `json:"marketOrderPreference"`
	TrailingStopsPreference       string              `json:"trailingStopsPreference"`
	MaxDealSize                   decimal.NullDecimal `json:"maxDealSize"`
}

// MarketDetails is the full description of one market
type MarketDetails struct {
	Instrument   Instrument     `json:"instrument"`
	Snapshot     MarketSnapshot `json:"snapshot"`
	DealingRules DealingRules   `json:"dealingRules"`
}

// PricePoint is a bid/ask/last traded triple
type PricePoint struct {
	Bid        decimal.NullDecimal `json:"bid"`
	Ask        decimal.NullDecimal `json:"ask"`
	LastTraded decimal.NullDecimal `json:"lastTraded"`
}

// HistoricalPrice is one candle
type HistoricalPrice struct {
	SnapshotTime     string     `json:"snapshotTime"`
	OpenPrice        PricePoint `json:"openPrice"`
	HighPrice        PricePoint `json:"highPrice"`
	LowPrice         PricePoint `json:"lowPrice"`
	ClosePrice       PricePoint `json:"closePrice"`
	LastTradedVolume int64      `json:"lastTradedVolume"`
}

// PriceAllowance reports the historical data allowance left
type PriceAllowance struct {
	RemainingAllowance int64 `json:"remainingAllowance"`
	TotalAllowance     int64 `json:"totalAllowance"`
	AllowanceExpiry    int64 `json:"allowanceExpiry"`
}

// HistoricalPrices is the response of the prices endpoint
type HistoricalPrices struct {
	Prices         []HistoricalPrice `json:"prices"`
	InstrumentType string            `json:"instrumentType"`
	Allowance      *PriceAllowance   `json:"allowance,omitempty"`
}

// PriceParams selects a price range. From and To use the provider's
// date format, e.g. 2024-01-02T15:04:05.
type PriceParams struct {
	Resolution string
	From       string
	To         string
}
