package swap

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tidaldex/dexbot/pkg/blockchain"
	"github.com/tidaldex/dexbot/pkg/config"
	"github.com/tidaldex/dexbot/pkg/storage"
	"github.com/tidaldex/dexbot/pkg/tokens"
	"github.com/tidaldex/dexbot/pkg/vault"
)

const (
	swapRouterAddr = "0x00000000000000000000000000000000000000Cc"
	hubAddr        = "0x0000000000000000000000000000000000000011"
	hubAltAddr     = "0x0000000000000000000000000000000000000022"
	wrappedAddr    = "0x00000000000000000000000000000000000000Ee"
	tokenAAddr     = "0x00000000000000000000000000000000000000Aa"
	tokenBAddr     = "0x00000000000000000000000000000000000000Bb"
	collectorAddr  = "0x00000000000000000000000000000000000000Fe"

	testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

// swapBackend quotes getAmountsOut per path and records submitted txs.
type swapBackend struct {
	// quote per path key; missing paths revert.
	quotes    map[string][]*big.Int
	allowance *big.Int
	sent      []*types.Transaction
	sendErr   map[int]error // by submission index
}

func newSwapBackend() *swapBackend {
	return &swapBackend{
		quotes:    make(map[string][]*big.Int),
		allowance: big.NewInt(0),
	}
}

func (f *swapBackend) setQuote(path []common.Address, amounts ...int64) {
	out := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		out[i] = big.NewInt(a)
	}
	f.quotes[pathKey(path)] = out
}

func (f *swapBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(56), nil }

func (f *swapBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}

func (f *swapBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	if m, err := blockchain.ERC20ABI().MethodById(msg.Data[:4]); err == nil {
		switch m.Name {
		case "allowance":
			return m.Outputs.Pack(f.allowance)
		case "decimals":
			return m.Outputs.Pack(uint8(18))
		}
	}
	m, err := RouterABI().MethodById(msg.Data[:4])
	if err != nil || m.Name != "getAmountsOut" {
		return nil, errors.New("unexpected contract call")
	}
	inputs, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	path := inputs[1].([]common.Address)
	amounts, ok := f.quotes[pathKey(path)]
	if !ok {
		return nil, errors.New("execution reverted: INSUFFICIENT_LIQUIDITY")
	}
	return m.Outputs.Pack(amounts)
}

func (f *swapBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *swapBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *swapBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *swapBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := f.sendErr[len(f.sent)]; err != nil {
		return err
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *swapBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func (f *swapBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Time: 1_700_000_000}, nil
}

type swapFixture struct {
	router   *Router
	backend  *swapBackend
	store    *storage.Store
	resolver *tokens.Resolver
	userHash string
	owner    common.Address
	signer   blockchain.SignerFunc
}

func newSwapFixture(t *testing.T, cfg config.SwapConfig) *swapFixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, config.StorageConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	chainCfg := config.ChainConfig{
		Name: "bsc", ChainID: 56, Currency: "BNB", WrappedNative: wrappedAddr,
	}
	backend := newSwapBackend()
	client := blockchain.NewClient(backend, chainCfg)

	list := tokens.NewList([]tokens.ListToken{
		{Address: tokenAAddr, Symbol: "AAA", Name: "Token A", Decimals: 18, ChainID: 56},
		{Address: tokenBAddr, Symbol: "BBB", Name: "Token B", Decimals: 18, ChainID: 56},
		{Address: hubAddr, Symbol: "CZUSD", Name: "CZUSD", Decimals: 18, ChainID: 56},
		{Address: hubAltAddr, Symbol: "CZB", Name: "CZB", Decimals: 18, ChainID: 56},
	})
	resolver := tokens.NewResolver(store, client, list, chainCfg, config.TokensConfig{})

	router, err := NewRouter(client, resolver, cfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("test key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	signer := func(ctx context.Context, chainID int64, tx *types.Transaction) (*types.Transaction, error) {
		return types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(chainID)), key)
	}

	userHash := vault.HashUserID("swap-user")
	if err := store.EnsureUser(ctx, userHash); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	return &swapFixture{
		router:   router,
		backend:  backend,
		store:    store,
		resolver: resolver,
		userHash: userHash,
		owner:    owner,
		signer:   signer,
	}
}

func baseSwapConfig() config.SwapConfig {
	return config.SwapConfig{
		RouterAddress: swapRouterAddr,
		HubToken:      hubAddr,
		SlippageBps:   100,
	}
}

func addrs(hexes ...string) []common.Address {
	out := make([]common.Address, len(hexes))
	for i, h := range hexes {
		out[i] = common.HexToAddress(h)
	}
	return out
}

func TestNewRouter_RequiresAddress(t *testing.T) {
	if _, err := NewRouter(nil, nil, config.SwapConfig{}); !errors.Is(err, ErrNoRouter) {
		t.Fatalf("err = %v, want ErrNoRouter", err)
	}
}

func TestRoute_DirectWhenEndpointIsHub(t *testing.T) {
	fx := newSwapFixture(t, baseSwapConfig())
	ctx := context.Background()

	path, err := fx.router.Route(ctx, "AAA", "CZUSD", fx.userHash, fx.owner)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := addrs(tokenAAddr, hubAddr)
	if len(path) != 2 || path[0] != want[0] || path[1] != want[1] {
		t.Errorf("path = %v, want direct %v", path, want)
	}

	path, err = fx.router.Route(ctx, "CZUSD", "BBB", fx.userHash, fx.owner)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(path) != 2 {
		t.Errorf("path = %v, want direct", path)
	}
}

func TestRoute_ThroughHub(t *testing.T) {
	fx := newSwapFixture(t, baseSwapConfig())

	path, err := fx.router.Route(context.Background(), "AAA", "BBB", fx.userHash, fx.owner)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := addrs(tokenAAddr, hubAddr, tokenBAddr)
	if len(path) != 3 || path[1] != want[1] {
		t.Errorf("path = %v, want via hub %v", path, want)
	}
}

func TestRoute_NativeAliasBecomesWrapped(t *testing.T) {
	fx := newSwapFixture(t, baseSwapConfig())

	path, err := fx.router.Route(context.Background(), "BNB", "AAA", fx.userHash, fx.owner)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if path[0] != common.HexToAddress(wrappedAddr) {
		t.Errorf("path[0] = %s, want wrapped native", path[0])
	}
}

func TestCandidatePaths_DirectFirstAndDeduplicated(t *testing.T) {
	cfg := baseSwapConfig()
	cfg.HubTokenAlt = hubAltAddr
	fx := newSwapFixture(t, cfg)

	paths := fx.router.candidatePaths(common.HexToAddress(tokenAAddr), common.HexToAddress(tokenBAddr))
	if len(paths) != 5 {
		t.Fatalf("got %d candidates, want 5", len(paths))
	}
	if len(paths[0]) != 2 {
		t.Errorf("first candidate = %v, want the direct path", paths[0])
	}

	// Swapping out of the hub itself collapses the hub candidates.
	paths = fx.router.candidatePaths(common.HexToAddress(hubAddr), common.HexToAddress(tokenBAddr))
	seen := make(map[string]bool)
	for _, p := range paths {
		key := pathKey(p)
		if seen[key] {
			t.Errorf("duplicate candidate %s", key)
		}
		seen[key] = true
		for i := 1; i < len(p); i++ {
			if p[i] == p[i-1] {
				t.Errorf("candidate %s has consecutive duplicate", key)
			}
		}
	}
}

func TestBestRoute_PicksHighestOutput(t *testing.T) {
	cfg := baseSwapConfig()
	cfg.HubTokenAlt = hubAltAddr
	fx := newSwapFixture(t, cfg)

	in, out := common.HexToAddress(tokenAAddr), common.HexToAddress(tokenBAddr)
	// Direct reverts; hub route pays 90, alt-hub route pays 95.
	fx.backend.setQuote(addrs(tokenAAddr, hubAddr, tokenBAddr), 100, 100, 90)
	fx.backend.setQuote(addrs(tokenAAddr, hubAltAddr, tokenBAddr), 100, 100, 95)

	path, best, err := fx.router.BestRoute(context.Background(), in, out, big.NewInt(100))
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if best.Cmp(big.NewInt(95)) != 0 {
		t.Errorf("best = %s, want 95", best)
	}
	if path[1] != common.HexToAddress(hubAltAddr) {
		t.Errorf("path = %v, want via alternate hub", path)
	}
}

func TestBestRoute_AllRevertFails(t *testing.T) {
	fx := newSwapFixture(t, baseSwapConfig())

	_, _, err := fx.router.BestRoute(context.Background(),
		common.HexToAddress(tokenAAddr), common.HexToAddress(tokenBAddr), big.NewInt(100))
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestQuotePath_DeductsFee(t *testing.T) {
	cfg := baseSwapConfig()
	cfg.FeeBps = 250 // 2.5%
	fx := newSwapFixture(t, cfg)

	path := addrs(tokenAAddr, hubAddr, tokenBAddr)
	fx.backend.setQuote(path, 1000, 1000, 1000)

	quote, err := fx.router.QuotePath(context.Background(), path, big.NewInt(1000))
	if err != nil {
		t.Fatalf("QuotePath: %v", err)
	}
	if quote.AmountOut.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("gross = %s", quote.AmountOut)
	}
	if quote.Fee.Cmp(big.NewInt(25)) != 0 {
		t.Errorf("fee = %s, want 25", quote.Fee)
	}
	if quote.NetOut.Cmp(big.NewInt(975)) != 0 {
		t.Errorf("net = %s, want 975", quote.NetOut)
	}
}

func TestExecute_TokenToToken(t *testing.T) {
	fx := newSwapFixture(t, baseSwapConfig())
	ctx := context.Background()

	path := addrs(tokenAAddr, hubAddr, tokenBAddr)
	fx.backend.setQuote(path, 1000, 1000, 2000)
	fx.backend.setQuote(addrs(tokenAAddr, tokenBAddr), 1000, 500) // direct pays worse

	res, err := fx.router.Execute(ctx, fx.userHash, fx.owner, fx.signer, "AAA", "BBB", big.NewInt(1000), 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Approval for the router, then the swap.
	if len(fx.backend.sent) != 2 {
		t.Fatalf("sent %d transactions, want approval then swap", len(fx.backend.sent))
	}
	if *fx.backend.sent[0].To() != common.HexToAddress(tokenAAddr) {
		t.Errorf("approval to = %s", fx.backend.sent[0].To())
	}
	swapTx := fx.backend.sent[1]
	if *swapTx.To() != common.HexToAddress(swapRouterAddr) {
		t.Errorf("swap to = %s", swapTx.To())
	}
	swapSel := RouterABI().Methods["swapExactTokensForTokens"].ID
	if string(swapTx.Data()[:4]) != string(swapSel) {
		t.Error("swap entry point is not swapExactTokensForTokens")
	}

	// Default 100 bps slippage off the 2000 gross quote.
	if res.MinOut.Cmp(big.NewInt(1980)) != 0 {
		t.Errorf("minOut = %s, want 1980", res.MinOut)
	}
	if res.TxHash == (common.Hash{}) {
		t.Error("result lost the transaction hash")
	}

	// Received token is now tracked.
	tracked, err := fx.resolver.Tracked(ctx, fx.userHash)
	if err != nil {
		t.Fatalf("Tracked: %v", err)
	}
	if len(tracked) != 1 || tracked[0].Symbol != "BBB" {
		t.Errorf("tracked = %+v, want BBB", tracked)
	}
}

func TestExecute_NativeInputUsesETHEntryPoint(t *testing.T) {
	fx := newSwapFixture(t, baseSwapConfig())
	ctx := context.Background()

	path := addrs(wrappedAddr, hubAddr, tokenBAddr)
	fx.backend.setQuote(path, 1000, 1000, 2000)

	_, err := fx.router.Execute(ctx, fx.userHash, fx.owner, fx.signer, "BNB", "BBB", big.NewInt(1000), 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// No approval for the native asset.
	if len(fx.backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want swap only", len(fx.backend.sent))
	}
	swapTx := fx.backend.sent[0]
	ethSel := RouterABI().Methods["swapExactETHForTokens"].ID
	if string(swapTx.Data()[:4]) != string(ethSel) {
		t.Error("entry point is not swapExactETHForTokens")
	}
	if swapTx.Value().Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("value = %s, want the input amount attached", swapTx.Value())
	}
}

func TestExecute_NativeOutputUsesETHExit(t *testing.T) {
	fx := newSwapFixture(t, baseSwapConfig())
	fx.backend.allowance = big.NewInt(1_000_000)
	ctx := context.Background()

	path := addrs(tokenAAddr, hubAddr, wrappedAddr)
	fx.backend.setQuote(path, 1000, 1000, 2000)

	_, err := fx.router.Execute(ctx, fx.userHash, fx.owner, fx.signer, "AAA", "BNB", big.NewInt(1000), 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(fx.backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want swap only (allowance covers)", len(fx.backend.sent))
	}
	exitSel := RouterABI().Methods["swapExactTokensForETH"].ID
	if string(fx.backend.sent[0].Data()[:4]) != string(exitSel) {
		t.Error("entry point is not swapExactTokensForETH")
	}

	// Native proceeds are not auto-tracked.
	tracked, err := fx.resolver.Tracked(ctx, fx.userHash)
	if err != nil {
		t.Fatalf("Tracked: %v", err)
	}
	if len(tracked) != 0 {
		t.Errorf("tracked = %+v, want none", tracked)
	}
}

func TestExecute_FeeForwardedAfterSwap(t *testing.T) {
	cfg := baseSwapConfig()
	cfg.FeeBps = 100
	cfg.FeeCollector = collectorAddr
	fx := newSwapFixture(t, cfg)
	fx.backend.allowance = big.NewInt(1_000_000)
	ctx := context.Background()

	path := addrs(tokenAAddr, hubAddr, tokenBAddr)
	fx.backend.setQuote(path, 1000, 1000, 2000)

	if _, err := fx.router.Execute(ctx, fx.userHash, fx.owner, fx.signer, "AAA", "BBB", big.NewInt(1000), 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Swap, then the fee transfer on the output token.
	if len(fx.backend.sent) != 2 {
		t.Fatalf("sent %d transactions, want swap then fee transfer", len(fx.backend.sent))
	}
	feeTx := fx.backend.sent[1]
	if *feeTx.To() != common.HexToAddress(tokenBAddr) {
		t.Errorf("fee tx to = %s, want output token", feeTx.To())
	}
	transferSel := blockchain.ERC20ABI().Methods["transfer"].ID
	if string(feeTx.Data()[:4]) != string(transferSel) {
		t.Error("fee tx is not an ERC20 transfer")
	}
}

func TestExecute_FeeForwardFailureDoesNotFailSwap(t *testing.T) {
	cfg := baseSwapConfig()
	cfg.FeeBps = 100
	cfg.FeeCollector = collectorAddr
	fx := newSwapFixture(t, cfg)
	fx.backend.allowance = big.NewInt(1_000_000)
	// First submission is the swap; the second (fee transfer) is rejected.
	fx.backend.sendErr = map[int]error{1: errors.New("nonce too low")}
	ctx := context.Background()

	path := addrs(tokenAAddr, hubAddr, tokenBAddr)
	fx.backend.setQuote(path, 1000, 1000, 2000)

	res, err := fx.router.Execute(ctx, fx.userHash, fx.owner, fx.signer, "AAA", "BBB", big.NewInt(1000), 0)
	if err != nil {
		t.Fatalf("Execute: %v (fee failure must not propagate)", err)
	}
	if res.TxHash == (common.Hash{}) {
		t.Error("swap result lost its hash")
	}
}
