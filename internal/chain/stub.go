package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// StubClient is a deterministic in-memory Executor for tests and dry runs.
// Addresses are derived from the inputs, so retries of the same operation
// return the same address. Failures can be injected per method.
type StubClient struct {
	mu         sync.Mutex
	calls      map[string]int
	failures   map[string][]error // queued, consumed FIFO
	indicators map[domain.Address]Indicators
	harvest    map[domain.Address]decimal.Decimal
	slot       uint64
}

var _ Executor = (*StubClient)(nil)

// NewStubClient creates a stub executor.
func NewStubClient() *StubClient {
	return &StubClient{
		calls:      make(map[string]int),
		failures:   make(map[string][]error),
		indicators: make(map[domain.Address]Indicators),
		harvest:    make(map[domain.Address]decimal.Decimal),
	}
}

// FailNext queues an error to be returned by the next call(s) to method.
// Method names: create_vault, deploy_curve, add_liquidity, remove_liquidity,
// harvest_fees, read_indicators.
func (s *StubClient) FailNext(method string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < times; i++ {
		s.failures[method] = append(s.failures[method], err)
	}
}

// Calls returns how many times method was invoked.
func (s *StubClient) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// SetIndicators installs the indicator fixture returned for a token.
func (s *StubClient) SetIndicators(mint domain.Address, ind Indicators) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[mint] = ind
}

// SetHarvestAmount sets the fee amount the next harvest of position returns.
func (s *StubClient) SetHarvestAmount(position domain.Address, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.harvest[position] = amount
}

// enter records the call and pops an injected failure if one is queued.
func (s *StubClient) enter(ctx context.Context, method string) (TxReceipt, error) {
	if err := ctx.Err(); err != nil {
		return TxReceipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if q := s.failures[method]; len(q) > 0 {
		err := q[0]
		s.failures[method] = q[1:]
		log.Debug().Str("method", method).Err(err).Msg("stub chain: injected failure")
		return TxReceipt{}, err
	}
	s.slot++
	return TxReceipt{
		Signature:   domain.Signature(deriveKey("sig", method, fmt.Sprint(s.slot))),
		Slot:        s.slot,
		ConfirmedAt: time.Now(),
	}, nil
}

func (s *StubClient) CreatePresaleVault(ctx context.Context, cfg VaultConfig) (*VaultResult, error) {
	receipt, err := s.enter(ctx, "create_vault")
	if err != nil {
		return nil, fmt.Errorf("create presale vault: %w", err)
	}
	return &VaultResult{
		Address: deriveKey("vault", cfg.LaunchID, string(cfg.TokenMint)),
		Receipt: receipt,
	}, nil
}

func (s *StubClient) DeployBondingCurve(ctx context.Context, cfg CurveConfig) (*CurveResult, error) {
	receipt, err := s.enter(ctx, "deploy_curve")
	if err != nil {
		return nil, fmt.Errorf("deploy bonding curve: %w", err)
	}
	if len(cfg.FeeSchedule) == 0 {
		// The fee schedule is part of the deployment transaction; deploying
		// without one would leave the launch snipeable and unfixable.
		return nil, fmt.Errorf("deploy bonding curve: %w: empty fee schedule", ErrInvalidState)
	}
	return &CurveResult{
		Address: deriveKey("curve", cfg.LaunchID, string(cfg.TokenMint)),
		Receipt: receipt,
	}, nil
}

func (s *StubClient) AddLiquidity(ctx context.Context, pool domain.Address, rng domain.PriceRange, amountA, amountB decimal.Decimal) (*PositionResult, error) {
	receipt, err := s.enter(ctx, "add_liquidity")
	if err != nil {
		return nil, fmt.Errorf("add liquidity: %w", err)
	}
	return &PositionResult{
		PositionAddress: deriveKey("position", string(pool), rng.Lower.String(), rng.Upper.String(), fmt.Sprint(receipt.Slot)),
		Receipt:         receipt,
	}, nil
}

func (s *StubClient) RemoveLiquidity(ctx context.Context, position domain.Address) (*TxReceipt, error) {
	receipt, err := s.enter(ctx, "remove_liquidity")
	if err != nil {
		return nil, fmt.Errorf("remove liquidity: %w", err)
	}
	return &receipt, nil
}

func (s *StubClient) HarvestFees(ctx context.Context, position domain.Address) (*HarvestResult, error) {
	receipt, err := s.enter(ctx, "harvest_fees")
	if err != nil {
		return nil, fmt.Errorf("harvest fees: %w", err)
	}
	s.mu.Lock()
	amount := s.harvest[position]
	s.harvest[position] = decimal.Zero
	s.mu.Unlock()
	return &HarvestResult{Amount: amount, Receipt: receipt}, nil
}

func (s *StubClient) ReadIndicators(ctx context.Context, tokenMint domain.Address) (*Indicators, error) {
	if _, err := s.enter(ctx, "read_indicators"); err != nil {
		return nil, fmt.Errorf("read indicators: %w", err)
	}
	s.mu.Lock()
	ind, ok := s.indicators[tokenMint]
	s.mu.Unlock()
	if !ok {
		// Token account does not resolve; the scorer treats that as
		// suspicious rather than benign.
		return &Indicators{TokenAccountExists: false}, nil
	}
	return &ind, nil
}

// DeriveMint returns the deterministic token mint address for a launch.
// Assigned once during launch creation; retries of the same launch always
// resolve to the same mint.
func DeriveMint(launchID string) domain.Address {
	return deriveKey("mint", launchID)
}

// deriveKey builds a stable base58 pseudo-address from the given parts.
func deriveKey(parts ...string) domain.Address {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return domain.Address(base58.Encode(h.Sum(nil)))
}

// ValidAddress reports whether addr is plausibly a base58 account address.
func ValidAddress(addr domain.Address) bool {
	if len(addr) < 16 || len(addr) > 64 {
		return false
	}
	_, err := base58.Decode(string(addr))
	return err == nil
}
