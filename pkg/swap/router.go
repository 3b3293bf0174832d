// Package swap routes and executes token swaps through the configured DEX
// router: path selection via the hub token, output quoting with fee
// deduction, slippage-bounded execution and best-effort post-trade steps.
package swap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tidaldex/dexbot/pkg/blockchain"
	"github.com/tidaldex/dexbot/pkg/config"
	"github.com/tidaldex/dexbot/pkg/logger"
	"github.com/tidaldex/dexbot/pkg/tokens"
	"github.com/tidaldex/dexbot/pkg/txpipe"
)

// deadlineWindow bounds how long a submitted swap stays valid on chain.
const deadlineWindow = 300

// Router quotes and executes swaps against one DEX router contract.
type Router struct {
	chain     *blockchain.Client
	resolver  *tokens.Resolver
	approvals *txpipe.ApprovalManager
	cfg       config.SwapConfig

	router common.Address
	hub    common.Address
	hubAlt common.Address
}

func NewRouter(chain *blockchain.Client, resolver *tokens.Resolver, cfg config.SwapConfig) (*Router, error) {
	if !common.IsHexAddress(cfg.RouterAddress) {
		return nil, ErrNoRouter
	}
	r := &Router{
		chain:     chain,
		resolver:  resolver,
		approvals: txpipe.NewApprovalManager(chain),
		cfg:       cfg,
		router:    common.HexToAddress(cfg.RouterAddress),
	}
	if common.IsHexAddress(cfg.HubToken) {
		r.hub = common.HexToAddress(cfg.HubToken)
	} else {
		r.hub = resolver.WrappedNative()
	}
	if common.IsHexAddress(cfg.HubTokenAlt) {
		r.hubAlt = common.HexToAddress(cfg.HubTokenAlt)
	}
	return r, nil
}

// Quote is one priced swap path.
type Quote struct {
	Path      []common.Address
	AmountIn  *big.Int
	AmountOut *big.Int // gross router output
	Fee       *big.Int // deducted from AmountOut post trade
	NetOut    *big.Int
	Price     decimal.Decimal // net output per input unit, human terms
}

// Result is a settled swap.
type Result struct {
	TxHash   common.Hash
	Path     []common.Address
	AmountIn *big.Int
	NetOut   *big.Int
	MinOut   *big.Int
}

// pathToken maps a token reference onto a router-path address. Native
// aliases become the wrapped-native token; the router only speaks ERC20.
func (r *Router) pathToken(ctx context.Context, reference, userHash string, wallet common.Address) (common.Address, error) {
	if r.resolver.IsNativeAlias(reference) {
		return r.resolver.WrappedNative(), nil
	}
	return r.resolver.Resolve(ctx, reference, userHash, wallet)
}

// Route builds the swap path: direct when either endpoint is the hub token,
// otherwise through the hub.
func (r *Router) Route(ctx context.Context, inputRef, outputRef, userHash string, wallet common.Address) ([]common.Address, error) {
	in, err := r.pathToken(ctx, inputRef, userHash, wallet)
	if err != nil {
		return nil, err
	}
	out, err := r.pathToken(ctx, outputRef, userHash, wallet)
	if err != nil {
		return nil, err
	}
	if in == r.hub || out == r.hub {
		return []common.Address{in, out}, nil
	}
	return []common.Address{in, r.hub, out}, nil
}

// candidatePaths enumerates the routes worth probing, direct first. The
// alternate hub doubles the candidate set when configured. Paths are
// normalized (no consecutive duplicates) and deduplicated.
func (r *Router) candidatePaths(in, out common.Address) [][]common.Address {
	raw := [][]common.Address{
		{in, out},
		{in, r.hub, out},
	}
	if r.hubAlt != (common.Address{}) {
		raw = append(raw,
			[]common.Address{in, r.hubAlt, out},
			[]common.Address{in, r.hub, r.hubAlt, out},
			[]common.Address{in, r.hubAlt, r.hub, out},
		)
	}

	var paths [][]common.Address
	seen := make(map[string]bool)
	for _, cand := range raw {
		norm := normalizePath(cand)
		if len(norm) < 2 {
			continue
		}
		key := pathKey(norm)
		if seen[key] {
			continue
		}
		seen[key] = true
		paths = append(paths, norm)
	}
	return paths
}

// BestRoute probes every candidate path with getAmountsOut and returns the
// one with the highest output. Reverting candidates are skipped; only when
// every candidate fails does the whole lookup fail.
func (r *Router) BestRoute(ctx context.Context, in, out common.Address, amountIn *big.Int) ([]common.Address, *big.Int, error) {
	var (
		bestPath []common.Address
		bestOut  *big.Int
		lastErr  error
	)
	for _, cand := range r.candidatePaths(in, out) {
		amounts, err := r.amountsOut(ctx, cand, amountIn)
		if err != nil {
			lastErr = err
			logger.DebugCF("swap", "route probe failed", map[string]any{
				"path": pathKey(cand), "error": err.Error(),
			})
			continue
		}
		gross := amounts[len(amounts)-1]
		if bestOut == nil || gross.Cmp(bestOut) > 0 {
			bestPath, bestOut = cand, gross
		}
	}
	if bestPath == nil {
		if lastErr != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrNoRoute, lastErr)
		}
		return nil, nil, ErrNoRoute
	}
	return bestPath, bestOut, nil
}

func (r *Router) amountsOut(ctx context.Context, path []common.Address, amountIn *big.Int) ([]*big.Int, error) {
	outputs, err := r.chain.Call(ctx, r.router, RouterABI(), "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, ErrBadQuote
	}
	amounts, ok := outputs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, ErrBadQuote
	}
	return amounts, nil
}

// QuotePath prices a fixed path: gross router output, the configured fee
// share, and the implied human-terms price.
func (r *Router) QuotePath(ctx context.Context, path []common.Address, amountIn *big.Int) (*Quote, error) {
	amounts, err := r.amountsOut(ctx, path, amountIn)
	if err != nil {
		return nil, err
	}
	gross := amounts[len(amounts)-1]

	fee := big.NewInt(0)
	if r.cfg.FeeBps > 0 {
		fee = new(big.Int).Div(new(big.Int).Mul(gross, big.NewInt(r.cfg.FeeBps)), big.NewInt(10_000))
	}
	net := new(big.Int).Sub(gross, fee)

	q := &Quote{
		Path:      path,
		AmountIn:  amountIn,
		AmountOut: gross,
		Fee:       fee,
		NetOut:    net,
	}
	q.Price = r.impliedPrice(ctx, path, amountIn, net)
	return q, nil
}

// impliedPrice is net output per input unit with both sides scaled to human
// terms. Decimals lookups failing leaves the price zero rather than wrong.
func (r *Router) impliedPrice(ctx context.Context, path []common.Address, amountIn, netOut *big.Int) decimal.Decimal {
	if amountIn.Sign() == 0 {
		return decimal.Zero
	}
	inDec, err := r.resolver.Decimals(ctx, path[0])
	if err != nil {
		return decimal.Zero
	}
	outDec, err := r.resolver.Decimals(ctx, path[len(path)-1])
	if err != nil {
		return decimal.Zero
	}
	in := decimal.NewFromBigInt(amountIn, -int32(inDec))
	out := decimal.NewFromBigInt(netOut, -int32(outDec))
	return out.DivRound(in, 18)
}

// QuoteSwap resolves the endpoints, picks the best route and prices it.
func (r *Router) QuoteSwap(ctx context.Context, inputRef, outputRef, userHash string, wallet common.Address, amountIn *big.Int) (*Quote, error) {
	in, err := r.pathToken(ctx, inputRef, userHash, wallet)
	if err != nil {
		return nil, err
	}
	out, err := r.pathToken(ctx, outputRef, userHash, wallet)
	if err != nil {
		return nil, err
	}
	path, _, err := r.BestRoute(ctx, in, out, amountIn)
	if err != nil {
		return nil, err
	}
	return r.QuotePath(ctx, path, amountIn)
}

// Execute runs the full swap: approval when the input is not native, entry
// point chosen by which end is native, minimum output bounded by slippage.
// After on-chain success the fee share is forwarded and the received token
// tracked, both best effort.
func (r *Router) Execute(
	ctx context.Context,
	userHash string,
	owner common.Address,
	signer blockchain.SignerFunc,
	inputRef, outputRef string,
	amountIn *big.Int,
	slippageBps int64,
) (*Result, error) {
	if slippageBps <= 0 {
		slippageBps = r.cfg.SlippageBps
	}
	inputNative := r.resolver.IsNativeAlias(inputRef)
	outputNative := r.resolver.IsNativeAlias(outputRef)

	quote, err := r.QuoteSwap(ctx, inputRef, outputRef, userHash, owner, amountIn)
	if err != nil {
		return nil, err
	}
	minOut := new(big.Int).Div(
		new(big.Int).Mul(quote.AmountOut, big.NewInt(10_000-slippageBps)),
		big.NewInt(10_000),
	)

	if !inputNative {
		if err := r.approvals.Ensure(ctx, owner, r.router, quote.Path[0], amountIn, false, signer); err != nil {
			return nil, err
		}
	}

	deadline := r.deadline(ctx)
	var (
		method string
		args   []any
		value  *big.Int
	)
	switch {
	case inputNative:
		method = "swapExactETHForTokens"
		args = []any{minOut, quote.Path, owner, deadline}
		value = amountIn
	case outputNative:
		method = "swapExactTokensForETH"
		args = []any{amountIn, minOut, quote.Path, owner, deadline}
	default:
		method = "swapExactTokensForTokens"
		args = []any{amountIn, minOut, quote.Path, owner, deadline}
	}

	data, err := RouterABI().Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	tx, err := r.chain.BuildTx(ctx, owner, r.router, value, data)
	if err != nil {
		return nil, err
	}
	hash, err := r.chain.SignAndSend(ctx, tx, signer)
	if err != nil {
		return nil, err
	}
	logger.InfoCF("swap", "swap submitted", map[string]any{
		"method": method, "tx": hash.Hex(), "amount_in": amountIn.String(), "min_out": minOut.String(),
	})

	if _, err := r.chain.WaitForReceipt(ctx, hash); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSwapReverted, hash.Hex(), err)
	}

	// The swap settled; everything past here must not fail it.
	r.forwardFee(ctx, owner, signer, quote, outputNative)
	if !outputNative {
		received := quote.Path[len(quote.Path)-1]
		if _, err := r.resolver.Track(ctx, received.Hex(), userHash, owner); err != nil {
			logger.WarnCF("swap", "auto-track failed", map[string]any{
				"token": received.Hex(), "error": err.Error(),
			})
		}
	}

	return &Result{
		TxHash:   hash,
		Path:     quote.Path,
		AmountIn: amountIn,
		NetOut:   quote.NetOut,
		MinOut:   minOut,
	}, nil
}

// forwardFee sends the quoted fee share to the fee collector. Failures are
// logged only; the swap already succeeded.
func (r *Router) forwardFee(ctx context.Context, owner common.Address, signer blockchain.SignerFunc, quote *Quote, outputNative bool) {
	if r.cfg.FeeBps <= 0 || quote.Fee.Sign() <= 0 || !common.IsHexAddress(r.cfg.FeeCollector) {
		return
	}
	collector := common.HexToAddress(r.cfg.FeeCollector)

	var (
		to    common.Address
		value *big.Int
		data  []byte
		err   error
	)
	if outputNative {
		to, value = collector, quote.Fee
	} else {
		to = quote.Path[len(quote.Path)-1]
		data, err = blockchain.TransferCalldata(collector, quote.Fee)
		if err != nil {
			logger.WarnCF("swap", "fee transfer calldata failed", map[string]any{"error": err.Error()})
			return
		}
	}

	tx, err := r.chain.BuildTx(ctx, owner, to, value, data)
	if err == nil {
		_, err = r.chain.SignAndSend(ctx, tx, signer)
	}
	if err != nil {
		logger.WarnCF("swap", "fee forward failed", map[string]any{
			"collector": collector.Hex(), "fee": quote.Fee.String(), "error": err.Error(),
		})
		return
	}
	logger.InfoCF("swap", "fee forwarded", map[string]any{
		"collector": collector.Hex(), "fee": quote.Fee.String(),
	})
}

// deadline is the on-chain validity bound for a submitted swap.
func (r *Router) deadline(ctx context.Context) *big.Int {
	ts, err := r.chain.BlockTimestamp(ctx)
	if err != nil {
		ts = time.Now().Unix()
	}
	return big.NewInt(ts + deadlineWindow)
}

func normalizePath(path []common.Address) []common.Address {
	if len(path) == 0 {
		return nil
	}
	norm := []common.Address{path[0]}
	for _, a := range path[1:] {
		if a != norm[len(norm)-1] {
			norm = append(norm, a)
		}
	}
	return norm
}

func pathKey(path []common.Address) string {
	key := ""
	for _, a := range path {
		key += a.Hex() + ">"
	}
	return key
}
