package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Kamranmsyv/dia"
)

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the backend is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(a, cmd.OutOrStdout(), a.client.HealthCheck(cmd.Context()))
		},
	}
}

func newLoginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print the issued token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(a, cmd.OutOrStdout(), a.client.Login(cmd.Context(), username, password))
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var username, password, risk string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := parseRisk(risk)
			if err != nil {
				return err
			}
			return emit(a, cmd.OutOrStdout(), a.client.Register(cmd.Context(), username, password, profile))
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	cmd.Flags().StringVar(&risk, "risk", string(dia.RiskModerate), "Conservative, Moderate or Aggressive")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newPortfolioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio USER_ID",
		Short: "Show a user's portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(a, cmd.OutOrStdout(), a.client.GetPortfolio(cmd.Context(), args[0]))
		},
	}
}

func newFundsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "funds",
		Short: "List investable funds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(a, cmd.OutOrStdout(), a.client.GetFunds(cmd.Context()))
		},
	}
}

func newRecommendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recommend",
		Short: "Show the fund recommended for the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(a, cmd.OutOrStdout(), a.client.GetRecommendedFund(cmd.Context()))
		},
	}
}

func newRoundUpCmd(a *app) *cobra.Command {
	var fund string
	cmd := &cobra.Command{
		Use:   "roundup AMOUNT",
		Short: "Invest the spare change of a card transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return emit(a, cmd.OutOrStdout(), a.client.ProcessRoundUp(cmd.Context(), amount, fund))
		},
	}
	cmd.Flags().StringVar(&fund, "fund", "fund_002", "fund to invest into")
	return cmd
}

func newDepositCmd(a *app) *cobra.Command {
	var fund string
	cmd := &cobra.Command{
		Use:   "deposit AMOUNT",
		Short: "Invest an amount into a fund",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return emit(a, cmd.OutOrStdout(), a.client.ProcessDeposit(cmd.Context(), amount, fund))
		},
	}
	cmd.Flags().StringVar(&fund, "fund", "fund_002", "fund to invest into")
	return cmd
}

func newWithdrawCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw AMOUNT",
		Short: "Take an amount out of the portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return emit(a, cmd.OutOrStdout(), a.client.ProcessWithdraw(cmd.Context(), amount))
		},
	}
}

func newLeaderboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the top investors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(a, cmd.OutOrStdout(), a.client.GetLeaderboard(cmd.Context()))
		},
	}
}

func newB2BCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "b2b",
		Short: "Show the partner-bank integration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return emit(a, cmd.OutOrStdout(), a.client.GetB2BStatus(cmd.Context()))
		},
	}
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %s", s)
	}
	return v, nil
}

func parseRisk(s string) (dia.RiskProfile, error) {
	switch p := dia.RiskProfile(s); p {
	case dia.RiskConservative, dia.RiskModerate, dia.RiskAggressive:
		return p, nil
	default:
		return "", fmt.Errorf("unknown risk profile %q", s)
	}
}
