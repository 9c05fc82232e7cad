package ig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ig-go/internal/session"
	"github.com/eshaffer321/ig-go/internal/types"
)

// fakeTree serves navigation levels from a map and records every fetch
type fakeTree struct {
	mu        sync.Mutex
	levels    map[string]*MarketNavigation
	failures  map[string]error
	fetched   []string
	sessions  int
	refreshes int
	// expireUntilRefresh makes every fetch fail with an OAuth expiry until
	// the session has been refreshed this many times
	expireUntilRefresh int
}

func (f *fakeTree) fetch(ctx context.Context, nodeID string) (*MarketNavigation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, nodeID)

	if f.refreshes < f.expireUntilRefresh {
		return nil, &types.Error{Code: types.CodeOAuthTokenExpired, StatusCode: http.StatusUnauthorized, Err: types.ErrOAuthTokenExpired}
	}
	if err, ok := f.failures[nodeID]; ok {
		return nil, err
	}
	if nav, ok := f.levels[nodeID]; ok {
		return nav, nil
	}
	return &MarketNavigation{}, nil
}

func (f *fakeTree) builder(t *testing.T) *hierarchyBuilder {
	sess, err := session.New(session.Info{AccountID: "ACC1"}, &session.SecurityTokens{CST: "cst", SecurityToken: "xst"})
	require.NoError(t, err)

	return &hierarchyBuilder{
		fetch: f.fetch,
		session: func(context.Context) (*Session, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sessions++
			return sess, nil
		},
		refresh: func(_ context.Context, stale *Session) (*Session, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			assert.Same(t, sess, stale)
			f.refreshes++
			return sess, nil
		},
		logger: types.NoopLogger{},
	}
}

func (f *fakeTree) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func market(epic, name string) MarketData {
	return MarketData{Epic: epic, InstrumentName: name}
}

func sampleTree() *fakeTree {
	return &fakeTree{
		levels: map[string]*MarketNavigation{
			"": {Nodes: []NavigationNode{{ID: "1", Name: "Indices"}, {ID: "2", Name: "Forex"}, {ID: "3", Name: "Commodities"}}},
			"1": {
				Nodes:   []NavigationNode{{ID: "11", Name: "UK"}},
				Markets: []MarketData{market("IX.D.DAX.DAILY.IP", "Germany 40")},
			},
			"11": {Markets: []MarketData{market("IX.D.FTSE.DAILY.IP", "FTSE 100")}},
			"3":  {Markets: []MarketData{market("CS.D.USCGC.TODAY.IP", "Spot Gold")}},
		},
		failures: map[string]error{},
	}
}

func TestHierarchy_BuildsTree(t *testing.T) {
	tree := sampleTree()

	nodes, err := tree.builder(t).BuildAll(context.Background())
	require.NoError(t, err)

	require.Len(t, nodes, 3)
	assert.Equal(t, "Indices", nodes[0].Name)
	require.Len(t, nodes[0].Children, 2)
	assert.Equal(t, "UK", nodes[0].Children[0].Name)
	assert.Equal(t, "IX.D.DAX.DAILY.IP", nodes[0].Children[1].ID)
	assert.Equal(t, "Germany 40", nodes[0].Children[1].Name)
	require.Len(t, nodes[0].Children[1].Markets, 1)

	assert.Empty(t, nodes[1].Children)
	assert.False(t, nodes[1].Degraded)

	assert.Equal(t, []string{"", "1", "11", "2", "3"}, tree.fetched)
	assert.Equal(t, 0, tree.refreshes)
}

func TestHierarchy_DepthBeyondMaxMakesNoCalls(t *testing.T) {
	tree := sampleTree()

	nodes, err := tree.builder(t).Build(context.Background(), "", MaxHierarchyDepth+1)
	require.NoError(t, err)

	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
	assert.Equal(t, 0, tree.fetchCount())
	assert.Equal(t, 0, tree.sessions)
}

func TestHierarchy_DepthIsBounded(t *testing.T) {
	// every node has one child, forever
	tree := &fakeTree{levels: map[string]*MarketNavigation{}, failures: map[string]error{}}
	for i := 0; i < 20; i++ {
		id := strconv.Itoa(i)
		if i == 0 {
			id = ""
		}
		tree.levels[id] = &MarketNavigation{Nodes: []NavigationNode{{ID: strconv.Itoa(i + 1), Name: "level " + strconv.Itoa(i+1)}}}
	}

	nodes, err := tree.builder(t).BuildAll(context.Background())
	require.NoError(t, err)

	// depths 0 through 7 are fetched
	assert.Equal(t, MaxHierarchyDepth+1, tree.fetchCount())

	depth := 0
	Walk(nodes, func(_ *MarketNode, d int) bool {
		if d > depth {
			depth = d
		}
		return true
	})
	assert.Equal(t, MaxHierarchyDepth, depth)
}

func TestHierarchy_FailedChildDegrades(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limit exceeded", types.NewRateLimitExceeded(3, `{"errorCode":"error.public-api.exceeded-account-allowance"}`)},
		{"unexpected status", types.NewUnexpected(http.StatusInternalServerError, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := sampleTree()
			tree.failures["1"] = tt.err

			nodes, err := tree.builder(t).BuildAll(context.Background())
			require.NoError(t, err)
			require.Len(t, nodes, 3)

			failed := nodes[0]
			assert.Equal(t, "1", failed.ID)
			assert.Equal(t, "Indices", failed.Name)
			assert.True(t, failed.Degraded)
			assert.Empty(t, failed.Children)
			assert.Equal(t, tt.err.Error(), failed.Error)

			// siblings are complete
			require.Len(t, nodes[2].Children, 1)
			assert.Equal(t, "Spot Gold", nodes[2].Children[0].Name)

			assert.Equal(t, []*MarketNode{failed}, DegradedNodes(nodes))
			assert.Equal(t, []string{"", "1", "2", "3"}, tree.fetched)
		})
	}
}

func TestHierarchy_DeepFailureOnlyDegradesItsNode(t *testing.T) {
	tree := sampleTree()
	tree.failures["11"] = types.NewRateLimitExceeded(1, "")

	nodes, err := tree.builder(t).BuildAll(context.Background())
	require.NoError(t, err)

	indices := nodes[0]
	assert.False(t, indices.Degraded)
	require.Len(t, indices.Children, 2)
	assert.True(t, indices.Children[0].Degraded)
	assert.Equal(t, "UK", indices.Children[0].Name)
	assert.Len(t, indices.Children[1].Markets, 1)
}

func TestHierarchy_OtherErrorsAbort(t *testing.T) {
	tree := sampleTree()
	tree.failures["2"] = &types.Error{Code: types.CodeUnauthorized, StatusCode: http.StatusUnauthorized, Err: types.ErrUnauthorized}

	nodes, err := tree.builder(t).BuildAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, nodes)
	assert.ErrorIs(t, err, ErrUnauthorized)
	// traversal stops at the failing node
	assert.Equal(t, []string{"", "1", "11", "2"}, tree.fetched)
}

func TestHierarchy_RootFailureIsReturned(t *testing.T) {
	tree := sampleTree()
	tree.failures[""] = types.NewUnexpected(http.StatusServiceUnavailable, "")

	_, err := tree.builder(t).BuildAll(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestHierarchy_OAuthExpiryRestartsOnce(t *testing.T) {
	tree := sampleTree()
	tree.expireUntilRefresh = 1

	nodes, err := tree.builder(t).BuildAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, nodes, 3)
	assert.Equal(t, 1, tree.refreshes)
	// one failed fetch, then the whole tree from the root
	assert.Equal(t, []string{"", "", "1", "11", "2", "3"}, tree.fetched)
	assert.Empty(t, DegradedNodes(nodes))
}

func TestHierarchy_SecondOAuthExpiryFails(t *testing.T) {
	tree := sampleTree()
	tree.expireUntilRefresh = 5

	_, err := tree.builder(t).BuildAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOAuthTokenExpired)
	assert.Equal(t, 1, tree.refreshes)
	assert.Equal(t, 2, tree.fetchCount())
}

func TestHierarchy_ContextCancelAborts(t *testing.T) {
	tree := sampleTree()
	tree.failures["1"] = context.Canceled

	_, err := tree.builder(t).BuildAll(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHierarchyHelpers(t *testing.T) {
	nodes := []*MarketNode{
		{ID: "1", Name: "Indices", Children: []*MarketNode{
			{ID: "11", Name: "UK", Children: []*MarketNode{
				{ID: "IX.D.FTSE.DAILY.IP", Markets: []MarketData{market("IX.D.FTSE.DAILY.IP", "FTSE 100")}},
			}},
			{ID: "12", Name: "US", Degraded: true, Error: "rate limit exceeded"},
		}},
		{ID: "CS.D.USCGC.TODAY.IP", Markets: []MarketData{market("CS.D.USCGC.TODAY.IP", "Spot Gold")}},
	}

	assert.Equal(t, 5, CountNodes(nodes))

	markets := ExtractMarkets(nodes)
	require.Len(t, markets, 2)
	assert.Equal(t, "FTSE 100", markets[0].InstrumentName)
	assert.Equal(t, "Spot Gold", markets[1].InstrumentName)

	degraded := DegradedNodes(nodes)
	require.Len(t, degraded, 1)
	assert.Equal(t, "US", degraded[0].Name)

	var visited []string
	Walk(nodes, func(n *MarketNode, _ int) bool {
		visited = append(visited, n.ID)
		return n.ID != "11"
	})
	assert.Equal(t, []string{"1", "11", "12", "CS.D.USCGC.TODAY.IP"}, visited)

	assert.Empty(t, ExtractMarkets(nil))
	assert.Equal(t, 0, CountNodes(nil))
}

func TestHierarchy_ThroughClient(t *testing.T) {
	var logins, quotaHits int32

	mux := http.NewServeMux()
	mux.HandleFunc("/session", v2LoginHandler(&logins))
	mux.HandleFunc("/marketnavigation", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nodes":[{"id":"1","name":"Indices"},{"id":"2","name":"Forex"}],"markets":[]}`))
	})
	mux.HandleFunc("/marketnavigation/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nodes":[],"markets":[{"epic":"IX.D.FTSE.DAILY.IP","instrumentName":"FTSE 100","bid":7510.5}]}`))
	})
	mux.HandleFunc("/marketnavigation/2", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&quotaHits, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errorCode":"error.public-api.exceeded-account-allowance"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, testOptions(server.URL, 2))

	nodes, err := c.Hierarchy.BuildAll(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	markets := ExtractMarkets(nodes)
	require.Len(t, markets, 1)
	assert.Equal(t, "7510.5", markets[0].Bid.Decimal.String())

	forex := nodes[1]
	assert.True(t, forex.Degraded)
	assert.Equal(t, "Forex", forex.Name)
	// one attempt plus one retry allowed by the test retry config
	assert.Equal(t, int32(2), atomic.LoadInt32(&quotaHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&logins))
}

func TestHierarchy_ThroughClientRestartsOnOAuthExpiry(t *testing.T) {
	var logins, refreshes, rootCalls int32

	rejectStale := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer access-refreshed" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(oauthInvalidBody))
			return true
		}
		return false
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/session", v3LoginHandler(&logins))
	mux.HandleFunc("/session/refresh-token", refreshHandler(&refreshes))
	mux.HandleFunc("/marketnavigation", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&rootCalls, 1)
		if rejectStale(w, r) {
			return
		}
		_, _ = w.Write([]byte(`{"nodes":[{"id":"1","name":"Indices"}]}`))
	})
	mux.HandleFunc("/marketnavigation/1", func(w http.ResponseWriter, r *http.Request) {
		if rejectStale(w, r) {
			return
		}
		_, _ = w.Write([]byte(`{"markets":[{"epic":"IX.D.FTSE.DAILY.IP","instrumentName":"FTSE 100"}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, testOptions(server.URL, 3))

	nodes, err := c.Hierarchy.BuildAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, ExtractMarkets(nodes), 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Equal(t, int32(2), atomic.LoadInt32(&rootCalls))
}
