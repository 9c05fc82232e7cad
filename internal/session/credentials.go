package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eshaffer321/ig-go/internal/types"
)

// Scheme identifies how a session authenticates
type Scheme string

const (
	// SchemeSecurityToken uses CST and X-SECURITY-TOKEN headers (API v2)
	SchemeSecurityToken Scheme = "cst"
	// SchemeOAuth uses a bearer access token (API v3)
	SchemeOAuth Scheme = "oauth"
)

// Credentials are the per-session auth material. The only implementations are
// *SecurityTokens and *OAuthToken.
type Credentials interface {
	Scheme() Scheme
	// ApplyHeaders sets the auth headers for a call made on behalf of accountID
	ApplyHeaders(h http.Header, accountID string)
	// Validate reports a malformed credential as an ErrAuth error
	Validate() error

	expiresAt(issuedAt time.Time) time.Time
}

// SecurityTokens are returned as response headers by a v2 login or account switch
type SecurityTokens struct {
	CST           string `json:"-"`
	SecurityToken string `json:"-"`
}

// SecurityTokensFromHeader reads both tokens, failing if either is missing
func SecurityTokensFromHeader(h http.Header) (*SecurityTokens, error) {
	tokens := &SecurityTokens{
		CST:           h.Get(types.HeaderCST),
		SecurityToken: h.Get(types.HeaderSecurityToken),
	}
	if err := tokens.Validate(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Scheme returns SchemeSecurityToken
func (s *SecurityTokens) Scheme() Scheme { return SchemeSecurityToken }

// ApplyHeaders sets CST and X-SECURITY-TOKEN
func (s *SecurityTokens) ApplyHeaders(h http.Header, _ string) {
	h.Set(types.HeaderCST, s.CST)
	h.Set(types.HeaderSecurityToken, s.SecurityToken)
}

// Validate requires both header tokens
func (s *SecurityTokens) Validate() error {
	switch {
	case s.CST == "":
		return types.NewAuthError("CST header missing from response")
	case s.SecurityToken == "":
		return types.NewAuthError("X-SECURITY-TOKEN header missing from response")
	}
	return nil
}

func (s *SecurityTokens) expiresAt(issuedAt time.Time) time.Time {
	return issuedAt.Add(types.TokenSoftLifetime)
}

// Seconds is a duration in whole seconds that decodes from a JSON number or a
// numeric string. Unparseable input decodes to zero.
type Seconds int64

// UnmarshalJSON accepts 60 and "60"
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}

	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		raw = strings.TrimSpace(str)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			*s = 0
			return nil
		}
		n = int64(f)
	}
	*s = Seconds(n)
	return nil
}

// MarshalJSON writes the provider's string form
func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(s), 10))
}

// Duration converts to a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// OAuthToken is the oauthToken object of a v3 login or a refresh response
type OAuthToken struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	Scope        string  `json:"scope"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    Seconds `json:"expires_in"`
}

// Scheme returns SchemeOAuth
func (o *OAuthToken) Scheme() Scheme { return SchemeOAuth }

// ApplyHeaders sets the bearer token and, when known, IG-ACCOUNT-ID
func (o *OAuthToken) ApplyHeaders(h http.Header, accountID string) {
	h.Set(types.HeaderAuthorization, types.BearerPrefix+o.AccessToken)
	if accountID != "" {
		h.Set(types.HeaderAccountID, accountID)
	}
}

// Validate requires both the access and the refresh token
func (o *OAuthToken) Validate() error {
	switch {
	case o.AccessToken == "":
		return types.NewAuthError("access_token missing from response")
	case o.RefreshToken == "":
		return types.NewAuthError("refresh_token missing from response")
	}
	return nil
}

func (o *OAuthToken) expiresAt(issuedAt time.Time) time.Time {
	return issuedAt.Add(o.ExpiresIn.Duration())
}
