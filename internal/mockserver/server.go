// Package mockserver is an in-memory stand-in for the DIA backend. It
// speaks the same HTTP contract the client depends on and is used by
// the diamock binary and by integration tests.
package mockserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kamranmsyv/dia"
)

var (
	errUserExists   = errors.New("username already taken")
	errBadLogin     = errors.New("invalid username or password")
	errInsufficient = errors.New("insufficient balance")
)

// recommendations maps a risk profile to the fund suggested for it.
var recommendations = map[dia.RiskProfile]string{
	dia.RiskConservative: "fund_001",
	dia.RiskModerate:     "fund_002",
	dia.RiskAggressive:   "fund_003",
}

type account struct {
	id        string
	username  string
	hash      []byte
	risk      dia.RiskProfile
	portfolio dia.Portfolio
}

// Server holds users, tokens and portfolios in memory.
type Server struct {
	log      logrus.FieldLogger
	cost     int
	funds    []dia.Fund
	registry *prometheus.Registry
	metrics  *httpMetrics
	down     atomic.Bool

	mu       sync.Mutex
	byName   map[string]*account
	byID     map[string]*account
	sessions map[string]string // token -> user id
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.cost = cost }
}

// WithFunds replaces the fund catalogue.
func WithFunds(funds []dia.Fund) Option {
	return func(s *Server) { s.funds = append([]dia.Fund(nil), funds...) }
}

// LoadFunds reads a fund catalogue from a JSON file holding either an
// array of funds or a funds envelope as served by /api/funds.
func LoadFunds(path string) ([]dia.Fund, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mockserver: read funds: %w", err)
	}
	var funds []dia.Fund
	if err := json.Unmarshal(b, &funds); err != nil {
		var env struct {
			Funds []dia.Fund `json:"funds"`
			Data  struct {
				Funds []dia.Fund `json:"funds"`
			} `json:"data"`
		}
		if json.Unmarshal(b, &env) != nil {
			return nil, fmt.Errorf("mockserver: decode funds %s: %w", path, err)
		}
		funds = env.Funds
		if len(funds) == 0 {
			funds = env.Data.Funds
		}
	}
	if len(funds) == 0 {
		return nil, fmt.Errorf("mockserver: no funds in %s", path)
	}
	return funds, nil
}

// New returns an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		cost:     bcrypt.DefaultCost,
		funds:    dia.DefaultFunds(),
		registry: prometheus.NewRegistry(),
		byName:   make(map[string]*account),
		byID:     make(map[string]*account),
		sessions: make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	s.metrics = newHTTPMetrics(s.registry)
	return s
}

// SetDown makes every API route answer 503 until called with false.
func (s *Server) SetDown(down bool) { s.down.Store(down) }

// Registry exposes the server's Prometheus registry.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.instrument, s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.availability)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/user/{userId}/portfolio", s.authed(s.handlePortfolio)).Methods(http.MethodGet)
	api.HandleFunc("/funds", s.handleFunds).Methods(http.MethodGet)
	api.HandleFunc("/funds/recommend", s.authed(s.handleRecommend)).Methods(http.MethodGet)
	api.HandleFunc("/transactions/roundup", s.authed(s.handleRoundUp)).Methods(http.MethodPost)
	api.HandleFunc("/transactions/deposit", s.authed(s.handleDeposit)).Methods(http.MethodPost)
	api.HandleFunc("/transactions/withdraw", s.authed(s.handleWithdraw)).Methods(http.MethodPost)
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/b2b-status", s.handleB2BStatus).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.Handle("/metrics", metricsHandler(s.registry)).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found", "NOT_FOUND")
	})
	return r
}

// --- middleware ---

func (s *Server) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.down.Load() {
			writeError(w, http.StatusServiceUnavailable, "Service unavailable", "UNAVAILABLE")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request")
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, acct *account)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication token is missing", "AUTH_TOKEN_MISSING")
			return
		}
		s.mu.Lock()
		acct := s.byID[s.sessions[token]]
		s.mu.Unlock()
		if acct == nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", "AUTH_TOKEN_INVALID")
			return
		}
		h(w, r, acct)
	}
}

// --- handlers ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dia.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" || req.RiskProfile == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "VALIDATION_ERROR")
		return
	}
	if _, ok := recommendations[req.RiskProfile]; !ok {
		writeError(w, http.StatusBadRequest, "Invalid risk profile", "VALIDATION_ERROR")
		return
	}

	acct, token, err := s.register(req)
	if errors.Is(err, errUserExists) {
		writeError(w, http.StatusConflict, "Username already exists", "USER_EXISTS")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("register")
		writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL")
		return
	}
	writeData(w, http.StatusCreated, "User registered successfully", dia.AuthData{
		UserID:      acct.id,
		Token:       token,
		Username:    acct.username,
		RiskProfile: acct.risk,
	})
}

func (s *Server) register(req dia.RegisterRequest) (*account, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[req.Username]; ok {
		return nil, "", errUserExists
	}
	acct := &account{
		id:       "user_" + shortID(8),
		username: req.Username,
		hash:     hash,
		risk:     req.RiskProfile,
	}
	s.byName[acct.username] = acct
	s.byID[acct.id] = acct
	token := "token_" + shortID(24)
	s.sessions[token] = acct.id
	return acct, token, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dia.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	acct, token, err := s.login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password", "INVALID_CREDENTIALS")
		return
	}
	writeData(w, http.StatusOK, "Login successful", dia.AuthData{
		UserID:      acct.id,
		Token:       token,
		Username:    acct.username,
		RiskProfile: acct.risk,
	})
}

func (s *Server) login(req dia.LoginRequest) (*account, string, error) {
	s.mu.Lock()
	acct := s.byName[req.Username]
	s.mu.Unlock()
	if acct == nil {
		return nil, "", errBadLogin
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)); err != nil {
		return nil, "", errBadLogin
	}
	token := "token_" + shortID(24)
	s.mu.Lock()
	s.sessions[token] = acct.id
	s.mu.Unlock()
	return acct, token, nil
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request, acct *account) {
	if mux.Vars(r)["userId"] != acct.id {
		writeError(w, http.StatusForbidden, "Access denied", "FORBIDDEN")
		return
	}
	s.mu.Lock()
	p := acct.portfolio
	s.mu.Unlock()
	writeData(w, http.StatusOK, "", dia.PortfolioData{UserID: acct.id, Portfolio: p, Currency: "AZN"})
}

func (s *Server) handleFunds(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "", dia.FundsData{Funds: s.funds, TotalFunds: len(s.funds)})
}

func (s *Server) handleRecommend(w http.ResponseWriter, _ *http.Request, acct *account) {
	fund, ok := s.fund(recommendations[acct.risk])
	if !ok {
		writeError(w, http.StatusNotFound, "Fund not found", "FUND_NOT_FOUND")
		return
	}
	writeData(w, http.StatusOK, "", dia.RecommendationData{
		Fund:        fund,
		Reason:      "Based on your " + string(acct.risk) + " risk profile, we recommend the " + fund.Name + ".",
		RiskProfile: acct.risk,
	})
}

func (s *Server) handleRoundUp(w http.ResponseWriter, r *http.Request, acct *account) {
	var req dia.RoundUpRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TransactionAmount <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid amount", "INVALID_AMOUNT")
		return
	}
	fund, ok := s.fund(req.FundID)
	if !ok {
		writeError(w, http.StatusNotFound, "Fund not found", "FUND_NOT_FOUND")
		return
	}
	amount := roundUp(req.TransactionAmount)
	total := s.invest(acct, fund, amount)
	writeData(w, http.StatusOK, "Round-up investment processed successfully!", dia.RoundUpData{
		RoundUpAmount: amount,
		FundID:        fund.FundID,
		Message:       "Round-up investment processed successfully!",
		NewTotalValue: &total,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, acct *account) {
	var req dia.DepositRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid amount", "INVALID_AMOUNT")
		return
	}
	fund, ok := s.fund(req.FundID)
	if !ok {
		writeError(w, http.StatusNotFound, "Fund not found", "FUND_NOT_FOUND")
		return
	}
	total := s.invest(acct, fund, req.Amount)
	writeData(w, http.StatusOK, "Deposit successful!", dia.DepositData{
		Amount:        req.Amount,
		FundID:        fund.FundID,
		Message:       "Deposit successful!",
		NewTotalValue: &total,
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, acct *account) {
	var req dia.WithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid amount", "INVALID_AMOUNT")
		return
	}
	total, err := s.withdraw(acct, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Insufficient balance", "INSUFFICIENT_BALANCE")
		return
	}
	writeData(w, http.StatusOK, "Withdrawal successful!", dia.WithdrawData{
		Amount:        req.Amount,
		Message:       "Withdrawal successful!",
		NewTotalValue: &total,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	entries := make([]dia.LeaderboardEntry, 0, len(s.byID))
	for _, a := range s.byID {
		entries = append(entries, dia.LeaderboardEntry{
			Username:      a.username,
			TotalInvested: round2(a.portfolio.TotalValue),
			Returns:       returnsOf(a.portfolio),
		})
	}
	s.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TotalInvested != entries[j].TotalInvested {
			return entries[i].TotalInvested > entries[j].TotalInvested
		}
		return entries[i].Username < entries[j].Username
	})
	if len(entries) > 10 {
		entries = entries[:10]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	writeData(w, http.StatusOK, "", dia.LeaderboardData{
		Leaderboard: entries,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
		Currency:    "AZN",
	})
}

func (s *Server) handleB2BStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "", dia.B2BStatusData{
		PartnershipStatus: "Operational",
		PartnerBank:       "Mock National Bank of Azerbaijan",
		APIVersion:        "v1.0",
		IntegrationType:   "White-Label",
		Services: map[string]string{
			"transaction_monitoring": "Active",
			"round_up_processing":    "Active",
			"fund_transfers":         "Active",
			"kyc_verification":       "Active",
		},
		UptimePercent: 99.9,
		LastSync:      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"status":    "healthy",
		"database":  "in-memory",
		"service":   "DIA mock backend",
		"version":   "1.0.0-mock",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --- state helpers ---

func (s *Server) fund(id string) (dia.Fund, bool) {
	for _, f := range s.funds {
		if f.FundID == id {
			return f, true
		}
	}
	return dia.Fund{}, false
}

func (s *Server) invest(acct *account, fund dia.Fund, amount float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &acct.portfolio
	p.TotalValue = round2(p.TotalValue + amount)
	p.InvestedAmount = round2(p.InvestedAmount + amount)
	p.Last24hChangePercent = round2(fund.AnnualReturn / 365 * 1.5)
	p.InvestedFund = &dia.FundRef{ID: fund.FundID, Name: fund.Name, Sector: fund.Sector}
	return p.TotalValue
}

func (s *Server) withdraw(acct *account, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &acct.portfolio
	if p.TotalValue < amount {
		return 0, errInsufficient
	}
	p.TotalValue = round2(p.TotalValue - amount)
	p.InvestedAmount = round2(math.Max(0, p.InvestedAmount-amount))
	return p.TotalValue, nil
}

// roundUp is the distance to the next whole unit; a whole amount
// invests a full unit.
func roundUp(amount float64) float64 {
	r := round2(math.Ceil(amount) - amount)
	if r == 0 {
		return 1.0
	}
	return r
}

func returnsOf(p dia.Portfolio) float64 {
	if p.InvestedAmount == 0 {
		return 0
	}
	return round2((p.TotalValue - p.InvestedAmount) / p.InvestedAmount * 100)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// --- wire helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", "VALIDATION_ERROR")
		return false
	}
	return true
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	body := map[string]any{"success": true, "data": data}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
