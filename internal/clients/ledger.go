// Package clients holds the transport implementations: the ledger reader and
// the two signing backends the orchestrator can drive.
package clients

import (
	"context"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/collatfi/collat/internal/domain"
)

// Contract ABIs for the slices of the protocol this client touches. Method
// names and argument order are ledger-defined.
const (
	poolABIJSON = `[
		{"name":"collateralOf","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"debtOf","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"token","type":"address"},{"name":"principal","type":"uint256"},{"name":"accruedInterest","type":"uint256"},{"name":"annualRateBps","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"duration","type":"uint256"},{"name":"active","type":"bool"}]},
		{"name":"outstandingDebtOf","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"riskConfigOf","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"ltvBps","type":"uint16"},{"name":"liquidationThresholdBps","type":"uint16"}]},
		{"name":"activeBorrowers","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"repayAll","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"liquidate","type":"function","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"repayToken","type":"address"},{"name":"repayAmount","type":"uint256"},{"name":"seizeToken","type":"address"}],"outputs":[]}
	]`

	oracleABIJSON = `[
		{"name":"getAssetPrice","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"price","type":"uint256"},{"name":"fresh","type":"bool"}]}
	]`

	erc20ABIJSON = `[
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)

// contractCaller is the read slice of an RPC node client. *ethclient.Client
// satisfies it.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// LedgerClient reads protocol state and encodes mutating calls.
type LedgerClient struct {
	caller    contractCaller
	pool      common.Address
	oracle    common.Address
	tokens    map[common.Address]domain.Token
	poolABI   abi.ABI
	oracleABI abi.ABI
	erc20ABI  abi.ABI
}

// NewLedgerClient returns a client bound to the pool and oracle contracts.
// The token list resolves addresses reported by the ledger back to full
// descriptors.
func NewLedgerClient(caller contractCaller, pool, oracle common.Address, tokens []domain.Token) (*LedgerClient, error) {
	poolABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse pool ABI")
	}
	oracleABI, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse oracle ABI")
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse erc20 ABI")
	}

	registry := make(map[common.Address]domain.Token, len(tokens))
	for _, token := range tokens {
		registry[token.Address] = token
	}

	return &LedgerClient{
		caller:    caller,
		pool:      pool,
		oracle:    oracle,
		tokens:    registry,
		poolABI:   poolABI,
		oracleABI: oracleABI,
		erc20ABI:  erc20ABI,
	}, nil
}

func (c *LedgerClient) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s", method)
	}

	res, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s failed", method)
	}

	out, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s result", method)
	}
	return out, nil
}

// ReadPrice fetches the oracle's 8-decimal USD price for the token.
func (c *LedgerClient) ReadPrice(ctx context.Context, token domain.Token) (domain.PriceQuote, error) {
	out, err := c.call(ctx, c.oracle, c.oracleABI, "getAssetPrice", token.Address)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	raw, ok := out[0].(*big.Int)
	if !ok {
		return domain.PriceQuote{}, errors.New("unexpected price type from oracle")
	}
	fresh, ok := out[1].(bool)
	if !ok {
		return domain.PriceQuote{}, errors.New("unexpected freshness flag from oracle")
	}
	return domain.PriceQuoteFromRaw(token, raw, fresh), nil
}

// ReadCollateral returns the user's deposited amount, scaled to the token's
// precision.
func (c *LedgerClient) ReadCollateral(ctx context.Context, user common.Address, token domain.Token) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.pool, c.poolABI, "collateralOf", user, token.Address)
	if err != nil {
		return decimal.Zero, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, errors.New("unexpected collateral type from pool")
	}
	return token.AmountFromRaw(raw), nil
}

// ReadDebt returns the user's loan as reported by the ledger. Interest is
// ledger-computed and authoritative.
func (c *LedgerClient) ReadDebt(ctx context.Context, user common.Address) (domain.DebtPosition, error) {
	out, err := c.call(ctx, c.pool, c.poolABI, "debtOf", user)
	if err != nil {
		return domain.DebtPosition{}, err
	}
	if len(out) != 7 {
		return domain.DebtPosition{}, errors.Errorf("unexpected debtOf result arity %d", len(out))
	}

	tokenAddr := out[0].(common.Address)
	principal := out[1].(*big.Int)
	interest := out[2].(*big.Int)
	rateBps := out[3].(*big.Int)
	createdAt := out[4].(*big.Int)
	duration := out[5].(*big.Int)
	active := out[6].(bool)

	token, ok := c.tokens[tokenAddr]
	if !ok {
		// unknown debt token: assume the common 18-decimal layout
		token = domain.Token{Address: tokenAddr, Symbol: tokenAddr.Hex(), Decimals: 18}
	}
	return domain.DebtPosition{
		Token:           token,
		Principal:       token.AmountFromRaw(principal),
		AccruedInterest: token.AmountFromRaw(interest),
		AnnualRateBps:   rateBps.Int64(),
		OriginationTime: time.Unix(createdAt.Int64(), 0),
		Duration:        time.Duration(duration.Int64()) * time.Second,
		Active:          active,
	}, nil
}

// ReadOutstandingDebt returns principal plus ledger-accrued interest.
func (c *LedgerClient) ReadOutstandingDebt(ctx context.Context, user common.Address) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.pool, c.poolABI, "outstandingDebtOf", user)
	if err != nil {
		return decimal.Zero, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, errors.New("unexpected debt type from pool")
	}
	// outstanding debt is reported in the debt token's own precision
	debt, err := c.ReadDebt(ctx, user)
	if err != nil {
		return decimal.Zero, err
	}
	return debt.Token.AmountFromRaw(raw), nil
}

// ReadTokenRiskConfig returns the per-token LTV and liquidation threshold.
func (c *LedgerClient) ReadTokenRiskConfig(ctx context.Context, token domain.Token) (domain.TokenRiskConfig, error) {
	out, err := c.call(ctx, c.pool, c.poolABI, "riskConfigOf", token.Address)
	if err != nil {
		return domain.TokenRiskConfig{}, err
	}
	ltv, ok := out[0].(uint16)
	if !ok {
		return domain.TokenRiskConfig{}, errors.New("unexpected ltv type from pool")
	}
	threshold, ok := out[1].(uint16)
	if !ok {
		return domain.TokenRiskConfig{}, errors.New("unexpected threshold type from pool")
	}
	return domain.TokenRiskConfig{LtvBps: int64(ltv), LiquidationThresholdBps: int64(threshold)}, nil
}

// ReadAllowance returns the pool's current spending allowance for the token,
// letting callers skip a redundant approve step.
func (c *LedgerClient) ReadAllowance(ctx context.Context, owner common.Address, token domain.Token) (decimal.Decimal, error) {
	out, err := c.call(ctx, token.Address, c.erc20ABI, "allowance", owner, c.pool)
	if err != nil {
		return decimal.Zero, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, errors.New("unexpected allowance type")
	}
	return token.AmountFromRaw(raw), nil
}

// ReadActiveBorrowers returns the ledger's own list of accounts with open
// loans, used to seed the liquidation watch-set.
func (c *LedgerClient) ReadActiveBorrowers(ctx context.Context) ([]common.Address, error) {
	out, err := c.call(ctx, c.pool, c.poolABI, "activeBorrowers")
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, errors.New("unexpected borrower list type from pool")
	}
	return addrs, nil
}

// ApproveCall encodes an ERC-20 approve granting the pool the given amount.
func (c *LedgerClient) ApproveCall(token domain.Token, amount decimal.Decimal) (domain.Call, error) {
	data, err := c.erc20ABI.Pack("approve", c.pool, token.AmountToRaw(amount))
	if err != nil {
		return domain.Call{}, errors.Wrap(err, "failed to pack approve")
	}
	return domain.Call{To: token.Address, Data: data, Value: big.NewInt(0)}, nil
}

// ActionCall encodes one of the pool's mutating operations.
func (c *LedgerClient) ActionCall(kind domain.ActionKind, token domain.Token, amount decimal.Decimal) (domain.Call, error) {
	var (
		data []byte
		err  error
	)
	switch kind {
	case domain.ActionDeposit:
		data, err = c.poolABI.Pack("deposit", token.Address, token.AmountToRaw(amount))
	case domain.ActionWithdraw:
		data, err = c.poolABI.Pack("withdraw", token.Address, token.AmountToRaw(amount))
	case domain.ActionBorrow:
		data, err = c.poolABI.Pack("borrow", token.Address, token.AmountToRaw(amount))
	case domain.ActionRepay:
		data, err = c.poolABI.Pack("repay", token.Address, token.AmountToRaw(amount))
	case domain.ActionRepayAll:
		data, err = c.poolABI.Pack("repayAll")
	default:
		return domain.Call{}, errors.Errorf("unsupported action %s", kind)
	}
	if err != nil {
		return domain.Call{}, errors.Wrapf(err, "failed to pack %s", kind)
	}
	return domain.Call{To: c.pool, Data: data, Value: big.NewInt(0)}, nil
}

// LiquidateCall encodes the liquidation of a borrower's position.
func (c *LedgerClient) LiquidateCall(borrower common.Address, repayToken domain.Token, repayAmount decimal.Decimal, seizeToken domain.Token) (domain.Call, error) {
	data, err := c.poolABI.Pack("liquidate", borrower, repayToken.Address, repayToken.AmountToRaw(repayAmount), seizeToken.Address)
	if err != nil {
		return domain.Call{}, errors.Wrap(err, "failed to pack liquidate")
	}
	return domain.Call{To: c.pool, Data: data, Value: big.NewInt(0)}, nil
}
