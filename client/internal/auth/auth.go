// Package auth converts a resolved login identity into a short-lived bearer
// token by calling the collaborator's login endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/huddle-chat/huddle/pkg/protocol"
)

// ErrAuthFailure is returned when the exchange is rejected or the collaborator
// is unreachable.
var ErrAuthFailure = errors.New("auth failure")

// Identity is the user identity resolved by the external login flow.
type Identity struct {
	Provider          string
	ProviderSubjectID string
	Email             string
	DisplayName       string
}

// IsZero reports whether no identity has been resolved.
func (i Identity) IsZero() bool {
	return i.Provider == "" && i.ProviderSubjectID == "" && i.Email == ""
}

// Token is a bearer credential for the real-time transport.
type Token struct {
	Value     string
	UserID    string    // collaborator-assigned sender id, empty if not reported
	ExpiresAt time.Time // zero when the token carries no readable expiry
}

// Expired reports whether the token is known to have expired at now. Tokens
// without a readable expiry are treated as valid; the transport rejecting them
// is the authoritative signal.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Exchanger turns an identity into a token. Implementations must not retry.
type Exchanger interface {
	Exchange(ctx context.Context, id Identity) (Token, error)
}

// loginRequest is the /auth/login request body.
type loginRequest struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

type loginResponse struct {
	Token  string          `json:"token"`
	UserID protocol.UserID `json:"user_id,omitempty"`
}

// HTTPExchanger calls POST {baseURL}/auth/login.
type HTTPExchanger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExchanger creates an exchanger against the collaborator at baseURL.
// A nil client uses a client with a 10s timeout.
func NewHTTPExchanger(baseURL string, client *http.Client) *HTTPExchanger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPExchanger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Exchange implements Exchanger.
func (e *HTTPExchanger) Exchange(ctx context.Context, id Identity) (Token, error) {
	body, err := json.Marshal(loginRequest{
		Provider:   id.Provider,
		ProviderID: id.ProviderSubjectID,
		Email:      id.Email,
		Name:       id.DisplayName,
	})
	if err != nil {
		return Token{}, fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("%w: build request: %v", ErrAuthFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// Preserve context errors so callers can tell a timeout from a rejection.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Token{}, fmt.Errorf("%w: %w", ErrAuthFailure, ctxErr)
		}
		return Token{}, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, fmt.Errorf("%w: login returned %d: %s", ErrAuthFailure, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Token{}, fmt.Errorf("%w: decode login response: %v", ErrAuthFailure, err)
	}
	if lr.Token == "" {
		return Token{}, fmt.Errorf("%w: no token received", ErrAuthFailure)
	}

	tok := Token{Value: lr.Token, UserID: string(lr.UserID)}
	tok.ExpiresAt, tok.UserID = inspect(lr.Token, tok.UserID)
	return tok, nil
}

// inspect reads the expiry and subject of a JWT without verifying it. The
// server owns verification; the client only needs to know when to re-exchange.
func inspect(raw, userID string) (time.Time, string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, userID
	}

	var expires time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}
	if userID == "" {
		if uid, ok := claims["uid"].(string); ok {
			userID = uid
		}
	}
	return expires, userID
}
