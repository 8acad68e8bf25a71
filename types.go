package dia

import "encoding/json"

// RiskProfile is the investor's declared appetite for risk.
type RiskProfile string

const (
	RiskConservative RiskProfile = "Conservative"
	RiskModerate     RiskProfile = "Moderate"
	RiskAggressive   RiskProfile = "Aggressive"
)

// User identifies a signed-in investor.
type User struct {
	ID          string      `json:"user_id"`
	Username    string      `json:"username"`
	RiskProfile RiskProfile `json:"risk_profile,omitempty"`
}

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username    string      `json:"username"`
	Password    string      `json:"password"`
	RiskProfile RiskProfile `json:"risk_profile"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RoundUpRequest invests the spare change of a card purchase.
type RoundUpRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	FundID            string  `json:"fund_id"`
}

// DepositRequest adds money to a fund.
type DepositRequest struct {
	Amount float64 `json:"amount"`
	FundID string  `json:"fund_id"`
}

// WithdrawRequest takes money out of the portfolio.
type WithdrawRequest struct {
	Amount float64 `json:"amount"`
}

// AuthData is the payload of register and login.
type AuthData struct {
	UserID      string      `json:"user_id"`
	Token       string      `json:"token"`
	Username    string      `json:"username,omitempty"`
	RiskProfile RiskProfile `json:"risk_profile,omitempty"`
}

// FundRef is the short form of a fund embedded in a portfolio.
type FundRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// Portfolio is an investor's holdings and their value in AZN.
type Portfolio struct {
	TotalValue           float64  `json:"total_value"`
	InvestedAmount       float64  `json:"invested_amount"`
	Last24hChangePercent float64  `json:"last_24hr_change_percent"`
	InvestedFund         *FundRef `json:"invested_fund"`
}

// PortfolioData is the payload of the portfolio operation.
type PortfolioData struct {
	UserID    string    `json:"user_id,omitempty"`
	Portfolio Portfolio `json:"portfolio"`
	Currency  string    `json:"currency,omitempty"`
}

// Fund is an investable product as listed by /api/funds.
type Fund struct {
	FundID       string  `json:"fund_id"`
	Name         string  `json:"name"`
	Ticker       string  `json:"ticker,omitempty"`
	Description  string  `json:"description,omitempty"`
	RiskLevel    string  `json:"risk_level,omitempty"`
	AnnualReturn float64 `json:"annual_return,omitempty"`
	Price        float64 `json:"price,omitempty"`
	Sector       string  `json:"sector,omitempty"`
	AUM          string  `json:"aum,omitempty"`
}

// UnmarshalJSON also accepts the backend's catalogue spelling
// ("id", "annual_return_mock").
func (f *Fund) UnmarshalJSON(b []byte) error {
	type plain Fund
	aux := struct {
		*plain
		ID               string   `json:"id"`
		AnnualReturnMock *float64 `json:"annual_return_mock"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if f.FundID == "" {
		f.FundID = aux.ID
	}
	if f.AnnualReturn == 0 && aux.AnnualReturnMock != nil {
		f.AnnualReturn = *aux.AnnualReturnMock
	}
	return nil
}

// FundsData is the fund catalogue.
type FundsData struct {
	Funds      []Fund `json:"funds"`
	TotalFunds int    `json:"total_funds,omitempty"`
}

// RecommendationData is the fund suggested for the user's risk profile.
type RecommendationData struct {
	Fund        Fund        `json:"fund"`
	Reason      string      `json:"reason"`
	RiskProfile RiskProfile `json:"user_risk_profile,omitempty"`
}

// RoundUpData reports the amount a round-up invested.
type RoundUpData struct {
	RoundUpAmount float64  `json:"roundup_amount"`
	FundID        string   `json:"fund_id"`
	Message       string   `json:"message"`
	NewTotalValue *float64 `json:"new_total_value,omitempty"`
}

// DepositData confirms a deposit.
type DepositData struct {
	Amount        float64  `json:"amount"`
	FundID        string   `json:"fund_id"`
	Message       string   `json:"message"`
	NewTotalValue *float64 `json:"new_total_value,omitempty"`
}

// WithdrawData confirms a withdrawal.
type WithdrawData struct {
	Amount        float64  `json:"amount"`
	Message       string   `json:"message"`
	NewTotalValue *float64 `json:"new_total_value,omitempty"`
}

// LeaderboardEntry is one ranked investor.
type LeaderboardEntry struct {
	Rank          int     `json:"rank,omitempty"`
	Username      string  `json:"username"`
	TotalInvested float64 `json:"total_invested"`
	Returns       float64 `json:"returns"`
}

// LeaderboardData lists investors ranked by total invested.
type LeaderboardData struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	UpdatedAt   string             `json:"updated_at,omitempty"`
	Currency    string             `json:"currency,omitempty"`
}

// B2BStatusData describes the partner-bank integration.
type B2BStatusData struct {
	PartnershipStatus string            `json:"partnership_status,omitempty"`
	PartnerBank       string            `json:"partner_bank,omitempty"`
	PartnerBanks      []string          `json:"partner_banks,omitempty"`
	APIVersion        string            `json:"api_version,omitempty"`
	IntegrationType   string            `json:"integration_type,omitempty"`
	Services          map[string]string `json:"services,omitempty"`
	UptimePercent     float64           `json:"uptime_percent,omitempty"`
	TotalUsers        int               `json:"total_users,omitempty"`
	TotalInvested     float64           `json:"total_invested,omitempty"`
	LastSync          string            `json:"last_sync,omitempty"`
}

// HealthData is the backend status. Offline answers report
// status and mode "offline".
type HealthData struct {
	Status    string `json:"status"`
	Mode      string `json:"mode,omitempty"`
	Database  string `json:"database,omitempty"`
	Service   string `json:"service,omitempty"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}
