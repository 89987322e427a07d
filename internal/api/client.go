// Package api performs authenticated REST calls against the backend.
//
// The client is stateless apart from its configuration: the token always
// comes from the session store at call time. A 401 on any call clears the
// session and surfaces ErrAuthExpired; other HTTP errors come back as a
// tagged *RequestError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/ledgerview/internal/logging"
	"github.com/mbd888/ledgerview/internal/metrics"
	"github.com/mbd888/ledgerview/internal/session"
	"github.com/mbd888/ledgerview/internal/state"
	"github.com/mbd888/ledgerview/internal/traces"
)

// Client performs REST calls against the backend.
type Client struct {
	base       string
	httpClient *http.Client
	sessions   *session.Store
}

// NewClient creates a REST client. timeout bounds every request; a timeout
// surfaces as a *RequestError, never a hang.
func NewClient(baseURL string, timeout time.Duration, sessions *session.Store) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:       baseURL,
		httpClient: &http.Client{Timeout: timeout},
		sessions:   sessions,
	}
}

// Credentials for login and registration.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TransferRequest initiates a deposit or withdrawal.
type TransferRequest struct {
	Currency state.Currency `json:"currency"`
	Amount   int64          `json:"amount"` // minor units
	Address  string         `json:"address,omitempty"`
}

// Login authenticates and returns the new session. The caller is responsible
// for storing it via session.Store.Set.
func (c *Client) Login(ctx context.Context, creds Credentials) (*session.Session, error) {
	ctx, span := traces.StartSpan(ctx, "api.login", traces.Endpoint("/auth/login"))
	defer span.End()

	var sess session.Session
	if err := c.do(ctx, http.MethodPost, "/auth/login", creds, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Register creates an account and returns the new session.
func (c *Client) Register(ctx context.Context, creds Credentials) (*session.Session, error) {
	ctx, span := traces.StartSpan(ctx, "api.register", traces.Endpoint("/auth/register"))
	defer span.End()

	var sess session.Session
	if err := c.do(ctx, http.MethodPost, "/auth/register", creds, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Me revalidates the current session and returns the user record.
func (c *Client) Me(ctx context.Context) (*session.User, error) {
	ctx, span := traces.StartSpan(ctx, "api.me", traces.Endpoint("/user/me"))
	defer span.End()

	var user session.User
	if err := c.do(ctx, http.MethodGet, "/user/me", nil, &user); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.UserID(user.ID))
	return &user, nil
}

// Dashboard fetches a snapshot of balances and recent transactions.
func (c *Client) Dashboard(ctx context.Context) (*state.Snapshot, error) {
	ctx, span := traces.StartSpan(ctx, "api.dashboard", traces.Endpoint("/user/dashboard"))
	defer span.End()

	var snap state.Snapshot
	if err := c.do(ctx, http.MethodGet, "/user/dashboard", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Withdraw submits a withdrawal request.
func (c *Client) Withdraw(ctx context.Context, req TransferRequest) (*state.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "api.withdraw", traces.Endpoint("/transactions/withdraw"))
	defer span.End()

	var txn state.Transaction
	if err := c.do(ctx, http.MethodPost, "/transactions/withdraw", req, &txn); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TransactionID(txn.ID))
	return &txn, nil
}

// Deposit submits a deposit request.
func (c *Client) Deposit(ctx context.Context, req TransferRequest) (*state.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "api.deposit", traces.Endpoint("/transactions/deposit"))
	defer span.End()

	var txn state.Transaction
	if err := c.do(ctx, http.MethodPost, "/transactions/deposit", req, &txn); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.TransactionID(txn.ID))
	return &txn, nil
}

// do executes one JSON request. The Authorization header is attached from the
// live session if present.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess := c.sessions.Current(); sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	logging.FromContext(ctx).Debug("api request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		metrics.AuthExpiriesTotal.Inc()
		c.sessions.Clear()
		return ErrAuthExpired
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// readErrorMessage extracts {"error": "..."} bodies, falling back to raw text.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(data)
}
