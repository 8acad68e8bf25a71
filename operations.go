package dia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// Operation is one of the fixed calls the backend exposes.
type Operation int

const (
	OpRegister Operation = iota + 1
	OpLogin
	OpPortfolio
	OpFunds
	OpRecommend
	OpRoundUp
	OpDeposit
	OpWithdraw
	OpLeaderboard
	OpB2BStatus
	OpHealth
)

type route struct {
	name    string
	method  string
	pattern string
	// withArg routes take one path-escaped argument in place of %s.
	withArg bool
}

var routes = map[Operation]route{
	OpRegister:    {"register", http.MethodPost, "/api/register", false},
	OpLogin:       {"login", http.MethodPost, "/api/login", false},
	OpPortfolio:   {"portfolio", http.MethodGet, "/api/user/%s/portfolio", true},
	OpFunds:       {"funds", http.MethodGet, "/api/funds", false},
	OpRecommend:   {"recommend", http.MethodGet, "/api/funds/recommend", false},
	OpRoundUp:     {"roundup", http.MethodPost, "/api/transactions/roundup", false},
	OpDeposit:     {"deposit", http.MethodPost, "/api/transactions/deposit", false},
	OpWithdraw:    {"withdraw", http.MethodPost, "/api/transactions/withdraw", false},
	OpLeaderboard: {"leaderboard", http.MethodGet, "/api/leaderboard", false},
	OpB2BStatus:   {"b2b-status", http.MethodGet, "/api/b2b-status", false},
	OpHealth:      {"health", http.MethodGet, "/api/health", false},
}

func (r route) path(arg string) string {
	if !r.withArg {
		return r.pattern
	}
	return fmt.Sprintf(r.pattern, url.PathEscape(arg))
}

func (o Operation) String() string {
	if r, ok := routes[o]; ok {
		return r.name
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// Method returns the HTTP method of the operation.
func (o Operation) Method() string { return routes[o].method }

// Path returns the request path of the operation for arg.
func (o Operation) Path(arg string) string { return routes[o].path(arg) }

// Register creates an account. Offline, a fresh id and token are minted.
func (c *Client) Register(ctx context.Context, username, password string, risk RiskProfile) Envelope[AuthData] {
	req := RegisterRequest{Username: username, Password: password, RiskProfile: risk}
	return Invoke(ctx, c, OpRegister, "", req, decodeAuth, func() AuthData {
		return c.subs.Register(req)
	}).Envelope()
}

// Login authenticates. Offline, any credentials are accepted.
func (c *Client) Login(ctx context.Context, username, password string) Envelope[AuthData] {
	req := LoginRequest{Username: username, Password: password}
	return Invoke(ctx, c, OpLogin, "", req, decodeAuth, func() AuthData {
		return c.subs.Login(req)
	}).Envelope()
}

// GetPortfolio fetches the portfolio snapshot of userID.
func (c *Client) GetPortfolio(ctx context.Context, userID string) Envelope[PortfolioData] {
	return Invoke(ctx, c, OpPortfolio, userID, nil, decodePortfolio, func() PortfolioData {
		return c.subs.Portfolio(userID)
	}).Envelope()
}

// GetFunds lists the investable funds.
func (c *Client) GetFunds(ctx context.Context) Envelope[FundsData] {
	return Invoke(ctx, c, OpFunds, "", nil, decodeFunds, c.subs.Funds).Envelope()
}

// GetRecommendedFund fetches the fund recommended for the signed-in user.
func (c *Client) GetRecommendedFund(ctx context.Context) Envelope[RecommendationData] {
	return Invoke(ctx, c, OpRecommend, "", nil, decodeRecommendation, c.subs.Recommendation).Envelope()
}

// ProcessRoundUp invests the spare change of a card transaction.
func (c *Client) ProcessRoundUp(ctx context.Context, transactionAmount float64, fundID string) Envelope[RoundUpData] {
	req := RoundUpRequest{TransactionAmount: transactionAmount, FundID: fundID}
	return Invoke(ctx, c, OpRoundUp, "", req, decodeRoundUp, func() RoundUpData {
		return c.subs.RoundUp(req)
	}).Envelope()
}

// ProcessDeposit invests amount into fundID.
func (c *Client) ProcessDeposit(ctx context.Context, amount float64, fundID string) Envelope[DepositData] {
	req := DepositRequest{Amount: amount, FundID: fundID}
	return Invoke(ctx, c, OpDeposit, "", req, decodeDeposit, func() DepositData {
		return c.subs.Deposit(req)
	}).Envelope()
}

// ProcessWithdraw takes amount out of the portfolio.
func (c *Client) ProcessWithdraw(ctx context.Context, amount float64) Envelope[WithdrawData] {
	req := WithdrawRequest{Amount: amount}
	return Invoke(ctx, c, OpWithdraw, "", req, decodeWithdraw, func() WithdrawData {
		return c.subs.Withdraw(req)
	}).Envelope()
}

// GetLeaderboard fetches the top investors.
func (c *Client) GetLeaderboard(ctx context.Context) Envelope[LeaderboardData] {
	return Invoke(ctx, c, OpLeaderboard, "", nil, decodeLeaderboard, c.subs.Leaderboard).Envelope()
}

// GetB2BStatus fetches the partner-bank integration status.
func (c *Client) GetB2BStatus(ctx context.Context) Envelope[B2BStatusData] {
	return Invoke(ctx, c, OpB2BStatus, "", nil, decodeB2BStatus, c.subs.B2BStatus).Envelope()
}

// HealthCheck asks the backend whether it is up.
func (c *Client) HealthCheck(ctx context.Context) Envelope[HealthData] {
	return Invoke(ctx, c, OpHealth, "", nil, decodeHealth, c.subs.Health).Envelope()
}

// --- response decoding ---

// dataOf returns the "data" member of an envelope, or the whole body when
// the backend answered without one.
func dataOf(body []byte) []byte {
	if d := gjson.GetBytes(body, "data"); d.IsObject() {
		return []byte(d.Raw)
	}
	return body
}

func requireKeys(body []byte, keys ...string) error {
	for _, k := range keys {
		if !gjson.GetBytes(body, k).Exists() {
			return fmt.Errorf("missing %q", k)
		}
	}
	return nil
}

func firstFloat(body []byte, paths ...string) (float64, bool) {
	for _, p := range paths {
		if r := gjson.GetBytes(body, p); r.Type == gjson.Number {
			return r.Float(), true
		}
	}
	return 0, false
}

func firstString(body []byte, paths ...string) (string, bool) {
	for _, p := range paths {
		if r := gjson.GetBytes(body, p); r.Type == gjson.String {
			return r.String(), true
		}
	}
	return "", false
}

func decodeInto[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(dataOf(body), &v); err != nil {
		return v, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}

func decodeAuth(body []byte) (AuthData, error) {
	d, err := decodeInto[AuthData](body)
	if err != nil {
		return d, err
	}
	if d.UserID == "" {
		return d, fmt.Errorf("missing %q", "user_id")
	}
	return d, nil
}

func decodePortfolio(body []byte) (PortfolioData, error) {
	if err := requireKeys(dataOf(body), "portfolio"); err != nil {
		return PortfolioData{}, err
	}
	return decodeInto[PortfolioData](body)
}

func decodeFunds(body []byte) (FundsData, error) {
	if err := requireKeys(dataOf(body), "funds"); err != nil {
		return FundsData{}, err
	}
	return decodeInto[FundsData](body)
}

func decodeRecommendation(body []byte) (RecommendationData, error) {
	data := dataOf(body)
	if gjson.GetBytes(data, "fund").Exists() {
		return decodeInto[RecommendationData](body)
	}
	rec := gjson.GetBytes(data, "recommendation")
	if !rec.IsObject() {
		return RecommendationData{}, fmt.Errorf("missing %q", "fund")
	}
	return RecommendationData{
		Fund: Fund{
			FundID:       rec.Get("fund_id").String(),
			Name:         rec.Get("fund_name").String(),
			Description:  rec.Get("description").String(),
			RiskLevel:    rec.Get("risk_level").String(),
			AnnualReturn: rec.Get("annual_return_mock").Float(),
			Sector:       rec.Get("sector").String(),
		},
		Reason:      gjson.GetBytes(data, "recommendation_reason").String(),
		RiskProfile: RiskProfile(gjson.GetBytes(data, "user_risk_profile").String()),
	}, nil
}

func decodeRoundUp(body []byte) (RoundUpData, error) {
	d, err := decodeInto[RoundUpData](body)
	if err != nil {
		return d, err
	}
	if d.RoundUpAmount == 0 {
		d.RoundUpAmount, _ = firstFloat(body, "data.transaction.roundup_amount", "data.investment.amount_invested")
	}
	if d.FundID == "" {
		d.FundID, _ = firstString(body, "data.investment.fund_id")
	}
	if d.Message == "" {
		d.Message, _ = firstString(body, "message")
	}
	if d.NewTotalValue == nil {
		if v, ok := firstFloat(body, "data.portfolio.new_total_value"); ok {
			d.NewTotalValue = &v
		}
	}
	return d, nil
}

func decodeDeposit(body []byte) (DepositData, error) {
	d, err := decodeInto[DepositData](body)
	if err != nil {
		return d, err
	}
	if d.Amount == 0 {
		d.Amount, _ = firstFloat(body, "data.transaction.amount")
	}
	if d.FundID == "" {
		d.FundID, _ = firstString(body, "data.investment.fund_id")
	}
	if d.Message == "" {
		d.Message, _ = firstString(body, "message")
	}
	if d.NewTotalValue == nil {
		if v, ok := firstFloat(body, "data.portfolio.new_total_value"); ok {
			d.NewTotalValue = &v
		}
	}
	return d, nil
}

func decodeWithdraw(body []byte) (WithdrawData, error) {
	d, err := decodeInto[WithdrawData](body)
	if err != nil {
		return d, err
	}
	if d.Amount == 0 {
		d.Amount, _ = firstFloat(body, "data.transaction.amount")
	}
	if d.Message == "" {
		d.Message, _ = firstString(body, "message")
	}
	if d.NewTotalValue == nil {
		if v, ok := firstFloat(body, "data.portfolio.new_total_value"); ok {
			d.NewTotalValue = &v
		}
	}
	return d, nil
}

func decodeLeaderboard(body []byte) (LeaderboardData, error) {
	if err := requireKeys(dataOf(body), "leaderboard"); err != nil {
		return LeaderboardData{}, err
	}
	return decodeInto[LeaderboardData](body)
}

func decodeB2BStatus(body []byte) (B2BStatusData, error) {
	return decodeInto[B2BStatusData](body)
}

func decodeHealth(body []byte) (HealthData, error) {
	d, err := decodeInto[HealthData](body)
	if err != nil {
		return d, err
	}
	if d.Status == "" {
		return d, fmt.Errorf("missing %q", "status")
	}
	return d, nil
}
