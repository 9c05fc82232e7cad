package ig

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/types"
)

// MaxEpicsPerRequest bounds MultipleDetails
const MaxEpicsPerRequest = 50

// marketService implements the MarketService interface
type marketService struct {
	client *Client
}

// Navigation returns the top level of the navigation tree
func (s *marketService) Navigation(ctx context.Context) (*MarketNavigation, error) {
	var result MarketNavigation
	if err := s.client.Get(ctx, "marketnavigation", 1, &result); err != nil {
		return nil, errors.Wrap(err, "failed to get market navigation")
	}
	s.client.logger.Debug("Market navigation", "nodes", len(result.Nodes), "markets", len(result.Markets))
	return &result, nil
}

// Node returns one node of the navigation tree
func (s *marketService) Node(ctx context.Context, nodeID string) (*MarketNavigation, error) {
	if nodeID == "" {
		return nil, types.NewInvalidInput("node id is required")
	}

	var result MarketNavigation
	if err := s.client.Get(ctx, "marketnavigation/"+url.PathEscape(nodeID), 1, &result); err != nil {
		return nil, errors.Wrapf(err, "failed to get navigation node %s", nodeID)
	}
	return &result, nil
}

// Search finds markets by term
func (s *marketService) Search(ctx context.Context, term string) ([]MarketData, error) {
	if strings.TrimSpace(term) == "" {
		return nil, types.NewInvalidInput("search term is required")
	}

	var result struct {
		Markets []MarketData `json:"markets"`
	}
	err := s.client.Do(ctx, &Request{
		Method:  http.MethodGet,
		Path:    "markets",
		Query:   url.Values{"searchTerm": []string{term}},
		Version: 1,
	}, &result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search markets")
	}
	return result.Markets, nil
}

// Details returns the details of one market
func (s *marketService) Details(ctx context.Context, epic string) (*MarketDetails, error) {
	if epic == "" {
		return nil, types.NewInvalidInput("epic is required")
	}

	var result MarketDetails
	if err := s.client.Get(ctx, "markets/"+url.PathEscape(epic), 3, &result); err != nil {
		return nil, errors.Wrapf(err, "failed to get market %s", epic)
	}
	return &result, nil
}

// MultipleDetails returns details for up to MaxEpicsPerRequest markets in one
// call. No call is made for an empty list.
func (s *marketService) MultipleDetails(ctx context.Context, epics []string) ([]*MarketDetails, error) {
	if len(epics) == 0 {
		return []*MarketDetails{}, nil
	}
	if len(epics) > MaxEpicsPerRequest {
		return nil, types.NewInvalidInput("the maximum number of epics is 50")
	}

	var result struct {
		MarketDetails []*MarketDetails `json:"marketDetails"`
	}
	err := s.client.Do(ctx, &Request{
		Method:  http.MethodGet,
		Path:    "markets",
		Query:   url.Values{"epics": []string{strings.Join(epics, ",")}},
		Version: 2,
	}, &result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get market details")
	}

	s.client.logger.Debug("Market details", "requested", len(epics), "received", len(result.MarketDetails))
	return result.MarketDetails, nil
}

// HistoricalPrices returns candles for a market
func (s *marketService) HistoricalPrices(ctx context.Context, epic string, params *PriceParams) (*HistoricalPrices, error) {
	if epic == "" {
		return nil, types.NewInvalidInput("epic is required")
	}

	query := url.Values{}
	if params != nil {
		if params.Resolution != "" {
			query.Set("resolution", params.Resolution)
		}
		if params.From != "" {
			query.Set("from", params.From)
		}
		if params.To != "" {
			query.Set("to", params.To)
		}
	}

	var result HistoricalPrices
	err := s.client.Do(ctx, &Request{
		Method:  http.MethodGet,
		Path:    "prices/" + url.PathEscape(epic),
		Query:   query,
		Version: 3,
	}, &result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get prices for %s", epic)
	}
	return &result, nil
}
