package ig

import "context"

// SessionService handles authentication and the cached session
type SessionService interface {
	// Login performs a fresh login with the configured credentials
	Login(ctx context.Context) (*Session, error)

	// Get returns a valid session, logging in or refreshing as needed
	Get(ctx context.Context) (*Session, error)

	// Current returns the cached session without any network call
	Current() *Session

	// Refresh renews the cached session
	Refresh(ctx context.Context) (*Session, error)

	// Relogin logs in again when the session is close to expiry
	Relogin(ctx context.Context) (*Session, error)

	// SwitchAccount moves a CST session to another account
	SwitchAccount(ctx context.Context, accountID string, setDefault *bool) (*Session, error)

	// LoginAndSwitchAccount logs in and then switches account if needed
	LoginAndSwitchAccount(ctx context.Context, accountID string, setDefault *bool) (*Session, error)

	// Logout drops the cached session
	Logout()

	// SaveSession saves session to file
	SaveSession(path string) error

	// LoadSession loads session from file
	LoadSession(path string) error

	// Limits reports usage of every rate limiter in use
	Limits() []LimitStats
}

// MarketService handles market data
type MarketService interface {
	// Navigation returns the top level of the navigation tree
	Navigation(ctx context.Context) (*MarketNavigation, error)

	// Node returns one node of the navigation tree
	Node(ctx context.Context, nodeID string) (*MarketNavigation, error)

	// Search finds markets by term
	Search(ctx context.Context, term string) ([]MarketData, error)

	// Details returns the details of one market
	Details(ctx context.Context, epic string) (*MarketDetails, error)

	// MultipleDetails returns details for up to 50 markets in one call
	MultipleDetails(ctx context.Context, epics []string) ([]*MarketDetails, error)

	// HistoricalPrices returns candles for a market
	HistoricalPrices(ctx context.Context, epic string, params *PriceParams) (*HistoricalPrices, error)
}

// HierarchyService builds the market navigation tree
type HierarchyService interface {
	// BuildAll walks the whole tree from the root
	BuildAll(ctx context.Context) ([]*MarketNode, error)

	// Build walks the tree below nodeID, which is treated as being at depth.
	// An empty nodeID is the root.
	Build(ctx context.Context, nodeID string, depth int) ([]*MarketNode, error)
}
