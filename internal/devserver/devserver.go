// Package devserver is an in-process stand-in for the real backend.
//
// It implements the REST surface and push channel the sync client consumes,
// for local development and integration tests. Business logic is deliberately
// shallow: transfers just append pending transactions, and tests drive
// balance and status changes explicitly via the Push* methods.
package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/ledgerview/internal/session"
	"github.com/mbd888/ledgerview/internal/state"
)

// account holds one user's backend-side state.
type account struct {
	user         session.User
	password     string
	token        string
	balances     map[state.Currency]int64
	transactions map[string]state.Transaction
}

// Server is the development backend.
type Server struct {
	logger *slog.Logger
	router *gin.Engine

	mu       sync.Mutex
	byEmail  map[string]*account
	byToken  map[string]*account
	txnSeq   int
	srvClock int64 // monotonically increasing server time, unix millis

	hub *hub
}

// New creates the dev server with its routes mounted.
func New(logger *slog.Logger) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		logger:  logger,
		byEmail: make(map[string]*account),
		byToken: make(map[string]*account),
		hub:     newHub(logger),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/auth/login", s.handleLogin)
	r.POST("/auth/register", s.handleRegister)
	r.GET("/user/me", s.handleMe)
	r.GET("/user/dashboard", s.handleDashboard)
	r.POST("/transactions/withdraw", s.handleTransfer(state.TypeWithdrawal))
	r.POST("/transactions/deposit", s.handleTransfer(state.TypeDeposit))
	r.GET("/ws", s.hub.handleUpgrade)

	s.router = r
	return s
}

// Handler exposes the underlying HTTP handler for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Seed registers a user directly and returns its token.
func (s *Server) Seed(email, password string, role session.Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.newAccountLocked(email, password, role)
	return acct.token
}

// SetServerTime pins the server clock used for subsequent snapshots.
func (s *Server) SetServerTime(unixMillis int64) {
	s.mu.Lock()
	s.srvClock = unixMillis
	s.mu.Unlock()
}

// SetBalance sets a user's balance directly (no push).
func (s *Server) SetBalance(email string, currency state.Currency, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct := s.byEmail[email]; acct != nil {
		acct.balances[currency] = amount
	}
}

// SetTransaction stores a transaction on a user directly (no push).
func (s *Server) SetTransaction(email string, txn state.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct := s.byEmail[email]; acct != nil {
		acct.transactions[txn.ID] = txn
	}
}

// PushBalance broadcasts a balance_update event to connected clients.
func (s *Server) PushBalance(balances map[state.Currency]int64, serverTime int64) {
	s.hub.broadcast(state.Event{
		Type:       state.EventBalanceUpdate,
		Balances:   balances,
		ServerTime: serverTime,
	})
}

// PushTransaction broadcasts a transaction_update event.
func (s *Server) PushTransaction(txn state.Transaction, serverTime int64) {
	s.hub.broadcast(state.Event{
		Type:        state.EventTransactionUpdate,
		Transaction: &txn,
		ServerTime:  serverTime,
	})
}

// PushAdminOnline broadcasts the admin presence count.
func (s *Server) PushAdminOnline(count int, serverTime int64) {
	s.hub.broadcast(state.Event{
		Type:       state.EventAdminOnline,
		AdminCount: count,
		ServerTime: serverTime,
	})
}

// JoinedUsers returns the userIds announced by connected channel clients.
func (s *Server) JoinedUsers() []string {
	return s.hub.joinedUsers()
}

func (s *Server) newAccountLocked(email, password string, role session.Role) *account {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	acct := &account{
		user: session.User{
			ID:          "usr_" + hex.EncodeToString(b[:6]),
			Role:        role,
			DisplayName: strings.SplitN(email, "@", 2)[0],
		},
		password:     password,
		token:        "tok_" + hex.EncodeToString(b),
		balances:     make(map[state.Currency]int64),
		transactions: make(map[string]state.Transaction),
	}
	s.byEmail[email] = acct
	s.byToken[acct.token] = acct
	return acct
}

func (s *Server) authed(c *gin.Context) *account {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	acct := s.byToken[token]
	s.mu.Unlock()
	if acct == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil
	}
	return acct
}

type credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	acct := s.byEmail[creds.Email]
	s.mu.Unlock()
	if acct == nil || acct.password != creds.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, session.Session{Token: acct.token, User: acct.user})
}

func (s *Server) handleRegister(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if s.byEmail[creds.Email] != nil {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	acct := s.newAccountLocked(creds.Email, creds.Password, session.RoleUser)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, session.Session{Token: acct.token, User: acct.user})
}

func (s *Server) handleMe(c *gin.Context) {
	acct := s.authed(c)
	if acct == nil {
		return
	}
	c.JSON(http.StatusOK, acct.user)
}

func (s *Server) handleDashboard(c *gin.Context) {
	acct := s.authed(c)
	if acct == nil {
		return
	}

	s.mu.Lock()
	now := s.srvClock
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	snap := state.Snapshot{
		Balances:   make(map[state.Currency]int64, len(acct.balances)),
		ServerTime: now,
	}
	for cur, amt := range acct.balances {
		snap.Balances[cur] = amt
	}
	for _, txn := range acct.transactions {
		snap.Transactions = append(snap.Transactions, txn)
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, snap)
}

type transferRequest struct {
	Currency state.Currency `json:"currency" binding:"required"`
	Amount   int64          `json:"amount" binding:"required,gt=0"`
	Address  string         `json:"address"`
}

func (s *Server) handleTransfer(txnType state.TransactionType) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := s.authed(c)
		if acct == nil {
			return
		}

		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s.mu.Lock()
		s.txnSeq++
		now := time.Now()
		txn := state.Transaction{
			ID:        "txn_" + hex.EncodeToString([]byte{byte(s.txnSeq >> 8), byte(s.txnSeq)}),
			Type:      txnType,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Status:    state.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		acct.transactions[txn.ID] = txn
		s.mu.Unlock()

		c.JSON(http.StatusCreated, txn)
	}
}
