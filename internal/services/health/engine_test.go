package health

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/collatfi/collat/internal/domain"
)

var (
	weth = domain.Token{
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000a01"),
		Symbol:   "WETH",
		Decimals: 18,
	}
	usdc = domain.Token{
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000a02"),
		Symbol:   "USDC",
		Decimals: 6,
	}
)

func snapshotWith(t *testing.T, deposited, price, debtUSD decimal.Decimal, thresholdBps int64) *domain.PositionSnapshot {
	t.Helper()

	s := &domain.PositionSnapshot{
		Collateral: []domain.CollateralEntry{
			{
				Token:     weth,
				Deposited: deposited,
				RiskConfig: domain.TokenRiskConfig{
					LtvBps:                  thresholdBps - 500,
					LiquidationThresholdBps: thresholdBps,
				},
			},
		},
		Prices: map[common.Address]domain.PriceQuote{
			weth.Address: {Token: weth, USD: price, Fresh: true},
		},
		CollateralValueUSD: deposited.Mul(price),
		DebtValueUSD:       debtUSD,
	}
	if debtUSD.IsPositive() {
		s.Debt = domain.DebtPosition{Token: usdc, Principal: debtUSD, Active: true}
	}
	return s
}

func TestHealthFactor_NoDebtYieldsSentinel(t *testing.T) {
	engine := NewEngine(8000)

	for _, collateral := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(1), decimal.NewFromInt(1000000)} {
		hf := engine.HealthFactor(collateral, decimal.Zero, decimal.NewFromFloat(0.8))
		require.True(t, hf.Equal(domain.SentinelHealthFactor), "collateral %s", collateral)
	}
}

func TestHealthFactor_ZeroCollateralWithDebt(t *testing.T) {
	engine := NewEngine(8000)

	hf := engine.HealthFactor(decimal.Zero, decimal.NewFromInt(500), decimal.NewFromFloat(0.8))
	require.True(t, hf.IsZero())
	require.Equal(t, domain.RiskLiquidatable, domain.ClassifyHealthFactor(hf))
}

func TestHealthFactor_ReferenceScenario(t *testing.T) {
	engine := NewEngine(8000)

	// 1.0 ETH @ $3200, threshold 80%, debt $2000 -> hf = 3200*0.8/2000 = 1.28
	s := snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2000), 8000)
	hf, tier := engine.Assess(s)
	require.True(t, hf.Equal(decimal.NewFromFloat(1.28)), "got %s", hf)
	require.Equal(t, domain.RiskSafe, tier)

	// debt rises to $2800 -> hf = 2560/2800 ~ 0.914 -> liquidatable
	s = snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2800), 8000)
	hf, tier = engine.Assess(s)
	require.True(t, hf.LessThan(decimal.NewFromInt(1)))
	require.True(t, hf.GreaterThan(decimal.NewFromFloat(0.91)))
	require.Equal(t, domain.RiskLiquidatable, tier)
}

func TestHealthFactor_Monotonicity(t *testing.T) {
	engine := NewEngine(8000)
	threshold := decimal.NewFromFloat(0.8)
	debt := decimal.NewFromInt(2000)

	prev := decimal.Zero
	for _, collateral := range []int64{1000, 2000, 4000, 8000} {
		hf := engine.HealthFactor(decimal.NewFromInt(collateral), debt, threshold)
		require.True(t, hf.GreaterThan(prev), "hf must increase with collateral")
		prev = hf
	}

	collateral := decimal.NewFromInt(4000)
	prev = domain.SentinelHealthFactor
	for _, d := range []int64{500, 1000, 2000, 4000} {
		hf := engine.HealthFactor(collateral, decimal.NewFromInt(d), threshold)
		require.True(t, hf.LessThan(prev), "hf must decrease with debt")
		prev = hf
	}
}

func TestProject_WithdrawBlockedScenario(t *testing.T) {
	engine := NewEngine(8000)

	// withdraw 0.5 ETH from 1.0 ETH @ $3200, debt $2000 -> projected hf = 1600*0.8/2000 = 0.64
	s := snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2000), 8000)
	action := domain.PendingAction{Kind: domain.ActionWithdraw, Token: weth, Amount: decimal.NewFromFloat(0.5)}

	proj, err := engine.Project(s, action)
	require.NoError(t, err)
	require.True(t, proj.HealthFactor.Equal(decimal.NewFromFloat(0.64)), "got %s", proj.HealthFactor)
	require.Equal(t, domain.RiskLiquidatable, proj.Tier)
}

func TestProject_Idempotent(t *testing.T) {
	engine := NewEngine(8000)
	s := snapshotWith(t, decimal.NewFromInt(2), decimal.NewFromInt(3000), decimal.NewFromInt(1500), 7500)
	action := domain.PendingAction{Kind: domain.ActionBorrow, Token: weth, Amount: decimal.NewFromFloat(0.25)}

	first, err := engine.Project(s, action)
	require.NoError(t, err)
	second, err := engine.Project(s, action)
	require.NoError(t, err)

	require.True(t, first.HealthFactor.Equal(second.HealthFactor))
	require.True(t, first.CollateralValueUSD.Equal(second.CollateralValueUSD))
	require.True(t, first.DebtValueUSD.Equal(second.DebtValueUSD))
	require.Equal(t, first.Tier, second.Tier)
}

func TestProject_DepositNeverWorsens(t *testing.T) {
	engine := NewEngine(8000)
	s := snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2000), 8000)

	current, _ := engine.Assess(s)

	deposit := domain.PendingAction{Kind: domain.ActionDeposit, Token: weth, Amount: decimal.NewFromFloat(0.1)}
	proj, err := engine.Project(s, deposit)
	require.NoError(t, err)
	require.True(t, proj.HealthFactor.GreaterThanOrEqual(current))

	borrow := domain.PendingAction{Kind: domain.ActionBorrow, Token: weth, Amount: decimal.NewFromFloat(0.1)}
	proj, err = engine.Project(s, borrow)
	require.NoError(t, err)
	require.True(t, proj.HealthFactor.LessThanOrEqual(current))
}

func TestProject_RepayAllClearsDebt(t *testing.T) {
	engine := NewEngine(8000)
	s := snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2000), 8000)

	proj, err := engine.Project(s, domain.PendingAction{Kind: domain.ActionRepayAll, Token: usdc, Amount: decimal.NewFromInt(2000)})
	require.Error(t, err, "usdc has no quote in this snapshot")

	s.Prices[usdc.Address] = domain.PriceQuote{Token: usdc, USD: decimal.NewFromInt(1), Fresh: true}
	proj, err = engine.Project(s, domain.PendingAction{Kind: domain.ActionRepayAll, Token: usdc, Amount: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	require.True(t, proj.DebtValueUSD.IsZero())
	require.True(t, proj.HealthFactor.Equal(domain.SentinelHealthFactor))
}

func TestProject_StalePriceDisablesProjection(t *testing.T) {
	engine := NewEngine(8000)
	s := snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2000), 8000)
	s.Prices[weth.Address] = domain.PriceQuote{Token: weth, USD: decimal.NewFromInt(3200), Fresh: false}

	_, err := engine.Project(s, domain.PendingAction{Kind: domain.ActionDeposit, Token: weth, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		hf   decimal.Decimal
		tier domain.RiskTier
	}{
		{decimal.NewFromFloat(0.999), domain.RiskLiquidatable},
		{decimal.NewFromInt(1), domain.RiskWarning},
		{decimal.NewFromFloat(1.199), domain.RiskWarning},
		{decimal.NewFromFloat(1.2), domain.RiskSafe},
		{decimal.NewFromFloat(1.28), domain.RiskSafe},
		{domain.SentinelHealthFactor, domain.RiskSafe},
		{decimal.Zero, domain.RiskLiquidatable},
	}
	for _, tc := range cases {
		require.Equal(t, tc.tier, domain.ClassifyHealthFactor(tc.hf), "hf %s", tc.hf)
	}
}

func TestWeightedThreshold_ValueWeighted(t *testing.T) {
	engine := NewEngine(8000)

	s := &domain.PositionSnapshot{
		Collateral: []domain.CollateralEntry{
			{Token: weth, Deposited: decimal.NewFromInt(1), RiskConfig: domain.TokenRiskConfig{LiquidationThresholdBps: 8000}},
			{Token: usdc, Deposited: decimal.NewFromInt(1000), RiskConfig: domain.TokenRiskConfig{LiquidationThresholdBps: 9000}},
		},
		Prices: map[common.Address]domain.PriceQuote{
			weth.Address: {Token: weth, USD: decimal.NewFromInt(3000), Fresh: true},
			usdc.Address: {Token: usdc, USD: decimal.NewFromInt(1), Fresh: true},
		},
	}

	// (3000*0.8 + 1000*0.9) / 4000 = 0.825
	got := engine.WeightedThreshold(s)
	require.True(t, got.Equal(decimal.NewFromFloat(0.825)), "got %s", got)
}

func TestWeightedThreshold_FallsBackToDefault(t *testing.T) {
	engine := NewEngine(7500)

	s := &domain.PositionSnapshot{Prices: map[common.Address]domain.PriceQuote{}}
	require.True(t, engine.WeightedThreshold(s).Equal(decimal.NewFromFloat(0.75)))
}

func TestBackSolvedThreshold(t *testing.T) {
	engine := NewEngine(8000)

	// hf 1.28, debt 2000, collateral 3200 -> threshold 0.8
	got := engine.BackSolvedThreshold(decimal.NewFromFloat(1.28), decimal.NewFromInt(3200), decimal.NewFromInt(2000))
	require.True(t, got.Equal(decimal.NewFromFloat(0.8)), "got %s", got)

	// degenerate inputs fall back to the configured default
	got = engine.BackSolvedThreshold(decimal.Zero, decimal.NewFromInt(3200), decimal.NewFromInt(2000))
	require.True(t, got.Equal(decimal.NewFromFloat(0.8)))
}

func TestMaxSafeWithdraw(t *testing.T) {
	engine := NewEngine(8000)

	// 1 ETH @ 3200, threshold 80%, debt 2000: required collateral = 2500 USD,
	// headroom 700 USD -> 0.21875 ETH
	s := snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2000), 8000)
	amount, err := engine.MaxSafeWithdraw(s, weth)
	require.NoError(t, err)
	require.True(t, amount.Equal(decimal.NewFromFloat(0.21875)), "got %s", amount)

	// projecting the bound keeps the position exactly at hf = 1.0
	proj, err := engine.Project(s, domain.PendingAction{Kind: domain.ActionWithdraw, Token: weth, Amount: amount})
	require.NoError(t, err)
	require.True(t, proj.HealthFactor.Equal(decimal.NewFromInt(1)), "got %s", proj.HealthFactor)

	// no debt: everything is withdrawable
	s = snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.Zero, 8000)
	amount, err = engine.MaxSafeWithdraw(s, weth)
	require.NoError(t, err)
	require.True(t, amount.Equal(decimal.NewFromInt(1)))
}

func TestMaxSafeBorrow(t *testing.T) {
	engine := NewEngine(8000)

	s := snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2000), 8000)
	// capacity = 3200*0.8 - 2000 = 560
	require.True(t, engine.MaxSafeBorrow(s).Equal(decimal.NewFromInt(560)))

	s = snapshotWith(t, decimal.NewFromInt(1), decimal.NewFromInt(3200), decimal.NewFromInt(2800), 8000)
	require.True(t, engine.MaxSafeBorrow(s).IsZero())
}
