package types

import "time"

const (
	// DefaultBaseURL is the IG demo REST gateway
	DefaultBaseURL = "https://demo-api.ig.com/gateway/deal"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// UserAgent is the user agent string
	UserAgent = "ig-go/1.0.0"

	// DefaultAPIVersion selects OAuth (scheme B) unless configured otherwise
	DefaultAPIVersion = 3
)

// Header names used by the IG REST API
const (
	HeaderAPIKey         = "X-IG-API-KEY"
	HeaderCST            = "CST"
	HeaderSecurityToken  = "X-SECURITY-TOKEN"
	HeaderAuthorization  = "Authorization"
	HeaderAccountID      = "IG-ACCOUNT-ID"
	HeaderVersion        = "Version"
	HeaderContentType    = "Content-Type"
	HeaderAccept         = "Accept"
	HeaderUserAgent      = "User-Agent"
	HeaderRequestID      = "X-Request-ID"
	ContentTypeJSON      = "application/json; charset=UTF-8"
	BearerPrefix         = "Bearer "
	SessionEndpoint      = "session"
	RefreshTokenEndpoint = "session/refresh-token"
)

// Session lifetimes
const (
	// TokenSoftLifetime is how long CST/X-SECURITY-TOKEN stay valid after last use
	TokenSoftLifetime = 6 * time.Hour

	// TokenMaxAge is the hard ceiling on a token pair, never extended
	TokenMaxAge = 72 * time.Hour

	// DefaultRefreshMargin is the margin used by GetSession before refreshing
	DefaultRefreshMargin = 5 * time.Minute

	// ReloginMargin is the margin used by Relogin
	ReloginMargin = 30 * time.Minute
)

// Retry defaults
const (
	// DefaultRetryDelay is the pause between quota-exceeded retries
	DefaultRetryDelay = 10 * time.Second

	// LoginMaxRetries bounds the login-time quota retry
	LoginMaxRetries = 3

	// LoginInitialBackoff is the first login backoff; it doubles per attempt
	LoginInitialBackoff = 10 * time.Second

	// LoginMaxJitter is the upper bound of random jitter added to each login backoff
	LoginMaxJitter = 5 * time.Second
)

// OAuthInvalidMarker appears in a 401 body when the bearer token has expired
const OAuthInvalidMarker = "oauth-token-invalid"

// QuotaExceededMarkers appear in a 403 body when a provider allowance was hit
var QuotaExceededMarkers = []string{
	"exceeded-api-key-allowance",
	"exceeded-account-allowance",
	"exceeded-account-trading-allowance",
	"exceeded-account-historical-data-allowance",
}
