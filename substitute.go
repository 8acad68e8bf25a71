package dia

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Substitutes supplies the payload of each operation when no endpoint
// can be reached. Implementations must be safe for concurrent use.
type Substitutes interface {
	Register(req RegisterRequest) AuthData
	Login(req LoginRequest) AuthData
	Portfolio(userID string) PortfolioData
	Funds() FundsData
	Recommendation() RecommendationData
	RoundUp(req RoundUpRequest) RoundUpData
	Deposit(req DepositRequest) DepositData
	Withdraw(req WithdrawRequest) WithdrawData
	Leaderboard() LeaderboardData
	B2BStatus() B2BStatusData
	Health() HealthData
}

// OfflineDataset is the fixed data set served in offline mode. It is not
// modified after construction; every accessor returns a copy.
//
// Deposits and withdrawals are echoed back and never change Snapshot.
type OfflineDataset struct {
	User                 User
	Token                string
	Snapshot             Portfolio
	Catalogue            []Fund
	RecommendedFund      string
	RecommendationReason string
	Ranking              []LeaderboardEntry
	B2B                  B2BStatusData
}

var _ Substitutes = (*OfflineDataset)(nil)

// NewOfflineDataset returns the default offline data set. The login token
// is minted once here and stays the same for the life of the data set.
func NewOfflineDataset() *OfflineDataset {
	return &OfflineDataset{
		User: User{
			ID:       "mock_user_001",
			Username: "demo_user",
		},
		Token: "mock_token_" + strconv.FormatInt(time.Now().UnixMilli(), 10),
		Snapshot: Portfolio{
			TotalValue:           2450.75,
			InvestedAmount:       2200.00,
			Last24hChangePercent: 3.45,
			InvestedFund: &FundRef{
				ID:     "fund_002",
				Name:   "Balanced Green Fund",
				Sector: "Mixed (Green + ICT)",
			},
		},
		Catalogue:            DefaultFunds(),
		RecommendedFund:      "fund_002",
		RecommendationReason: "AI-powered recommendation based on your profile",
		Ranking: []LeaderboardEntry{
			{Username: "GreenInvestor", TotalInvested: 15420, Returns: 12.5},
			{Username: "EcoWarrior", TotalInvested: 12300, Returns: 9.8},
			{Username: "TechSaver", TotalInvested: 9870, Returns: 15.2},
			{Username: "demo_user", TotalInvested: 2200, Returns: 3.45},
			{Username: "NewInvestor", TotalInvested: 500, Returns: 1.2},
		},
		B2B: B2BStatusData{
			PartnerBanks:  []string{"Kapital Bank", "PASHA Bank", "ABB"},
			TotalUsers:    1250,
			TotalInvested: 2450000,
		},
	}
}

// DefaultFunds is the fund catalogue known to the app.
func DefaultFunds() []Fund {
	return []Fund{
		{
			FundID:       "fund_001",
			Name:         "Energy Transition Fund",
			Ticker:       "XANF-ETF",
			Description:  "Conservative renewable energy infrastructure fund",
			RiskLevel:    string(RiskConservative),
			AnnualReturn: 6.5,
			Price:        124.56,
			Sector:       "Green Energy",
			AUM:          "45.2M AZN",
		},
		{
			FundID:       "fund_002",
			Name:         "Balanced Green Fund",
			Ticker:       "XANF-BGF",
			Description:  "Diversified green energy and ICT portfolio",
			RiskLevel:    string(RiskModerate),
			AnnualReturn: 9.2,
			Price:        187.34,
			Sector:       "Mixed (Green + ICT)",
			AUM:          "128.7M AZN",
		},
		{
			FundID:       "fund_003",
			Name:         "ICT Innovation Fund",
			Ticker:       "XANF-IIF",
			Description:  "Aggressive tech and digital infrastructure growth",
			RiskLevel:    string(RiskAggressive),
			AnnualReturn: 14.8,
			Price:        256.78,
			Sector:       "ICT & Technology",
			AUM:          "89.4M AZN",
		},
	}
}

// Register mints a fresh user id and token for every call.
func (d *OfflineDataset) Register(req RegisterRequest) AuthData {
	return AuthData{
		UserID:      "user_" + hexID(8),
		Token:       "token_" + hexID(24),
		Username:    req.Username,
		RiskProfile: req.RiskProfile,
	}
}

// Login answers every credential with the substitute user and its token.
func (d *OfflineDataset) Login(LoginRequest) AuthData {
	return AuthData{UserID: d.User.ID, Token: d.Token}
}

// Portfolio returns the same snapshot whatever the user id.
func (d *OfflineDataset) Portfolio(string) PortfolioData {
	p := d.Snapshot
	if p.InvestedFund != nil {
		ref := *p.InvestedFund
		p.InvestedFund = &ref
	}
	return PortfolioData{Portfolio: p}
}

// Funds returns a copy of the catalogue.
func (d *OfflineDataset) Funds() FundsData {
	return FundsData{Funds: append([]Fund(nil), d.Catalogue...)}
}

// Recommendation returns the recommended catalogue fund with its reason.
func (d *OfflineDataset) Recommendation() RecommendationData {
	rec := RecommendationData{Reason: d.RecommendationReason}
	for _, f := range d.Catalogue {
		if f.FundID == d.RecommendedFund {
			rec.Fund = f
			break
		}
	}
	return rec
}

// RoundUp invests the distance to the next whole unit, 0.50 when that
// comes out as zero.
func (d *OfflineDataset) RoundUp(req RoundUpRequest) RoundUpData {
	amount := RoundUpAmount(req.TransactionAmount)
	return RoundUpData{
		RoundUpAmount: amount,
		FundID:        req.FundID,
		Message:       fmt.Sprintf("Invested %s AZN via round-up (offline mode)", formatAmount(amount)),
	}
}

// Deposit echoes the request without touching Snapshot.
func (d *OfflineDataset) Deposit(req DepositRequest) DepositData {
	return DepositData{
		Amount:  req.Amount,
		FundID:  req.FundID,
		Message: fmt.Sprintf("Deposited %s AZN (offline mode)", formatAmount(req.Amount)),
	}
}

// Withdraw echoes the requested amount.
func (d *OfflineDataset) Withdraw(req WithdrawRequest) WithdrawData {
	return WithdrawData{
		Amount:  req.Amount,
		Message: fmt.Sprintf("Withdrawn %s AZN (offline mode)", formatAmount(req.Amount)),
	}
}

// Leaderboard returns a copy of the ranking.
func (d *OfflineDataset) Leaderboard() LeaderboardData {
	return LeaderboardData{Leaderboard: append([]LeaderboardEntry(nil), d.Ranking...)}
}

// B2BStatus returns a deep copy of the partner-bank status.
func (d *OfflineDataset) B2BStatus() B2BStatusData {
	b := d.B2B
	b.PartnerBanks = append([]string(nil), d.B2B.PartnerBanks...)
	if d.B2B.Services != nil {
		b.Services = make(map[string]string, len(d.B2B.Services))
		for k, v := range d.B2B.Services {
			b.Services[k] = v
		}
	}
	return b
}

// Health reports the offline status.
func (d *OfflineDataset) Health() HealthData {
	return HealthData{Status: "offline", Mode: "offline"}
}

// RoundUpAmount is the offline round-up rule: 1 minus the fractional part,
// rounded to cents, or 0.50 when that is zero.
func RoundUpAmount(transactionAmount float64) float64 {
	r := math.Round((1-math.Mod(transactionAmount, 1))*100) / 100
	if r == 0 {
		return 0.50
	}
	return r
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func hexID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:n]
}
