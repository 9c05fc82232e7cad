package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/eshaffer321/ig-go/internal/session"
	"github.com/eshaffer321/ig-go/internal/types"
)

type switchRequest struct {
	AccountID      string `json:"accountId"`
	DefaultAccount *bool  `json:"defaultAccount,omitempty"`
}

// SwitchResponse is the body of a successful account switch
type SwitchResponse struct {
	DealingEnabled        *bool `json:"dealingEnabled,omitempty"`
	HasActiveDemoAccounts *bool `json:"hasActiveDemoAccounts,omitempty"`
	HasActiveLiveAccounts *bool `json:"hasActiveLiveAccounts,omitempty"`
	TrailingStopsEnabled  *bool `json:"trailingStopsEnabled,omitempty"`
}

// SwitchAccount moves a CST session to another account. The provider answers
// with a new CST/X-SECURITY-TOKEN pair which replaces the old one; a 2xx
// answer without both headers is a failure. OAuth sessions cannot switch.
func (m *Manager) SwitchAccount(ctx context.Context, accountID string, setDefault *bool) (*session.Session, error) {
	if accountID == "" {
		return nil, types.NewInvalidInput("account id is required")
	}

	cur, err := m.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if cur.IsOAuth() {
		return nil, types.NewInvalidInput("cannot switch accounts on an OAuth session")
	}
	if cur.AccountID() == accountID {
		m.logger.Debug("Already on account", "account_id", accountID)
		return cur, nil
	}

	payload, err := json.Marshal(switchRequest{AccountID: accountID, DefaultAccount: setDefault})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal switch request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.url(types.SessionEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create switch request")
	}
	m.setBaseHeaders(req.Header, "1")
	req.Header.Set(types.HeaderRequestID, uuid.New().String())
	cur.Credentials().ApplyHeaders(req.Header, cur.AccountID())

	if l := cur.RateLimiter(); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
	}

	m.logger.Info("Switching account", "from", cur.AccountID(), "to", accountID)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "switch request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read switch response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Error("Account switch failed", "status", resp.StatusCode, "body", truncate(string(body), 256))
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &types.Error{Code: types.CodeUnauthorized, Message: "account switch rejected", StatusCode: resp.StatusCode, Err: types.ErrUnauthorized}
		}
		return nil, types.NewUnexpected(resp.StatusCode, string(body))
	}

	tokens, err := session.SecurityTokensFromHeader(resp.Header)
	if err != nil {
		m.logger.Error("Account switch returned no new tokens", "status", resp.StatusCode)
		return nil, err
	}

	var sr SwitchResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &sr); err != nil {
			m.logger.Warn("Ignoring malformed switch response body", "error", err)
		}
	}

	info := cur.Info()
	info.AccountID = accountID

	s, err := m.newSession(info, tokens)
	if err != nil {
		return nil, err
	}
	m.SetSession(s)

	fields := append(s.LogFields(), "dealing_enabled", sr.DealingEnabled != nil && *sr.DealingEnabled)
	m.logger.Info("Switched account", fields...)
	return s, nil
}
