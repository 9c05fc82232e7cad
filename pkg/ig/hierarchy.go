package ig

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/types"
)

// MaxHierarchyDepth is the deepest level Build fetches. Nodes below it are
// returned without children.
const MaxHierarchyDepth = 7

// hierarchyBuilder walks the navigation tree one request at a time so every
// fetch waits on the same rate limiter as the rest of the client
type hierarchyBuilder struct {
	fetch   func(ctx context.Context, nodeID string) (*MarketNavigation, error)
	session func(ctx context.Context) (*Session, error)
	refresh func(ctx context.Context, stale *Session) (*Session, error)
	logger  types.Logger
}

func newHierarchyBuilder(c *Client) *hierarchyBuilder {
	return &hierarchyBuilder{
		fetch:   c.fetchNavigation,
		session: c.auth.GetSession,
		refresh: c.auth.RefreshStale,
		logger:  c.logger,
	}
}

// fetchNavigation gets one navigation level without refreshing on an OAuth
// expiry, so a tree is never assembled from two sessions
func (c *Client) fetchNavigation(ctx context.Context, nodeID string) (*MarketNavigation, error) {
	path := "marketnavigation"
	if nodeID != "" {
		path += "/" + url.PathEscape(nodeID)
	}

	var result MarketNavigation
	if err := c.execute(ctx, &Request{Method: http.MethodGet, Path: path, Version: 1}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BuildAll walks the whole tree from the root
func (h *hierarchyBuilder) BuildAll(ctx context.Context) ([]*MarketNode, error) {
	return h.Build(ctx, "", 0)
}

// Build walks the tree below nodeID. If the traversal fails because the OAuth
// token expired, the session is refreshed and the whole traversal runs once
// more from nodeID.
func (h *hierarchyBuilder) Build(ctx context.Context, nodeID string, depth int) ([]*MarketNode, error) {
	if depth > MaxHierarchyDepth {
		return []*MarketNode{}, nil
	}

	traversalID := uuid.New().String()
	h.logger.Info("Building market hierarchy", "traversal_id", traversalID, "node", nodeID, "depth", depth)

	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}

	nodes, err := h.build(ctx, traversalID, nodeID, depth)
	if errors.Is(err, types.ErrOAuthTokenExpired) {
		h.logger.Warn("OAuth token expired during traversal, refreshing and restarting", "traversal_id", traversalID)
		if _, rerr := h.refresh(ctx, sess); rerr != nil {
			return nil, errors.Wrap(rerr, "failed to refresh session")
		}
		nodes, err = h.build(ctx, traversalID, nodeID, depth)
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("Market hierarchy built", "traversal_id", traversalID, "nodes", CountNodes(nodes), "degraded", len(DegradedNodes(nodes)))
	return nodes, nil
}

func (h *hierarchyBuilder) build(ctx context.Context, traversalID, nodeID string, depth int) ([]*MarketNode, error) {
	if depth > MaxHierarchyDepth {
		return []*MarketNode{}, nil
	}

	nav, err := h.fetch(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	nodes := make([]*MarketNode, 0, len(nav.Nodes)+len(nav.Markets))

	for _, child := range nav.Nodes {
		children, err := h.build(ctx, traversalID, child.ID, depth+1)
		if err != nil {
			if !degrades(err) {
				return nil, err
			}
			h.logger.Warn("Navigation node failed, continuing with siblings",
				"traversal_id", traversalID, "node", child.ID, "error", err)
			nodes = append(nodes, &MarketNode{
				ID:       child.ID,
				Name:     child.Name,
				Degraded: true,
				Error:    err.Error(),
			})
			continue
		}

		nodes = append(nodes, &MarketNode{
			ID:       child.ID,
			Name:     child.Name,
			Children: children,
		})
	}

	for _, market := range nav.Markets {
		nodes = append(nodes, &MarketNode{
			ID:      market.Epic,
			Name:    market.InstrumentName,
			Markets: []MarketData{market},
		})
	}

	return nodes, nil
}

// degrades reports whether a failed child becomes an empty node instead of
// aborting the traversal
func degrades(err error) bool {
	return errors.Is(err, types.ErrRateLimitExceeded) || errors.Is(err, types.ErrUnexpectedStatus)
}

// Walk calls fn for every node depth first, parents before children. Returning
// false from fn skips that node's children.
func Walk(nodes []*MarketNode, fn func(node *MarketNode, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []*MarketNode, depth int, fn func(node *MarketNode, depth int) bool) {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if fn(n, depth) {
			walk(n.Children, depth+1, fn)
		}
	}
}

// ExtractMarkets flattens every market in the tree, in traversal order
func ExtractMarkets(nodes []*MarketNode) []MarketData {
	markets := []MarketData{}
	Walk(nodes, func(n *MarketNode, _ int) bool {
		markets = append(markets, n.Markets...)
		return true
	})
	return markets
}

// CountNodes counts every node in the tree
func CountNodes(nodes []*MarketNode) int {
	count := 0
	Walk(nodes, func(*MarketNode, int) bool {
		count++
		return true
	})
	return count
}

// DegradedNodes returns the nodes whose fetch failed
func DegradedNodes(nodes []*MarketNode) []*MarketNode {
	var degraded []*MarketNode
	Walk(nodes, func(n *MarketNode, _ int) bool {
		if n.Degraded {
			degraded = append(degraded, n)
		}
		return true
	})
	return degraded
}
