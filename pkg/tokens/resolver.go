package tokens

import (
	"context"
	"math/big"
	"sort"

	"github.com/agnivade/levenshtein"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tidaldex/dexbot/pkg/blockchain"
	"github.com/tidaldex/dexbot/pkg/config"
	"github.com/tidaldex/dexbot/pkg/logger"
	"github.com/tidaldex/dexbot/pkg/storage"
)

const maxSuggestions = 5

// ChainReader is the slice of the chain client the resolver needs.
// *blockchain.Client satisfies it.
type ChainReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenMetadata(ctx context.Context, token common.Address) (*blockchain.TokenMetadata, error)
}

// Resolver maps token references to addresses. The default list is
// authoritative; a user's tracked tokens are the fallback tier.
type Resolver struct {
	store         *storage.Store
	chain         ChainReader
	list          *List
	chainID       int64
	wrappedNative common.Address
	nativeAliases map[string]bool
}

func NewResolver(store *storage.Store, chain ChainReader, list *List, chainCfg config.ChainConfig, tokCfg config.TokensConfig) *Resolver {
	aliases := make(map[string]bool)
	for _, a := range tokCfg.NativeAliases {
		aliases[normalize(a)] = true
	}
	if chainCfg.Currency != "" {
		aliases[normalize(chainCfg.Currency)] = true
	}
	return &Resolver{
		store:         store,
		chain:         chain,
		list:          list,
		chainID:       chainCfg.ChainID,
		wrappedNative: common.HexToAddress(chainCfg.WrappedNative),
		nativeAliases: aliases,
	}
}

// List exposes the default token list for scan and quote callers.
func (r *Resolver) List() *List { return r.list }

// IsNativeAlias reports whether the reference names the chain's native
// asset.
func (r *Resolver) IsNativeAlias(reference string) bool {
	return r.nativeAliases[normalize(reference)]
}

// WrappedNative is the canonical wrapped-native token address.
func (r *Resolver) WrappedNative() common.Address { return r.wrappedNative }

// Balance reads the wallet's balance of a token.
func (r *Resolver) Balance(ctx context.Context, token, wallet common.Address) (*big.Int, error) {
	return r.chain.TokenBalance(ctx, token, wallet)
}

// Resolve maps a reference to an address. Tiers, each authoritative over
// the next: literal address, native alias, default list, tracked tokens.
// Unresolvable references return a *NotFoundError with suggestions.
func (r *Resolver) Resolve(ctx context.Context, reference, userHash string, wallet common.Address) (common.Address, error) {
	if common.IsHexAddress(reference) {
		return common.HexToAddress(reference), nil
	}

	if r.IsNativeAlias(reference) {
		return r.wrappedNative, nil
	}

	if entry, ok := r.list.Lookup(reference); ok {
		if userHash != "" {
			r.cleanupStaleTracked(ctx, userHash, entry)
		}
		return common.HexToAddress(entry.Address), nil
	}

	if userHash != "" {
		if addr, ok, err := r.resolveTracked(ctx, reference, userHash, wallet); err != nil {
			return common.Address{}, err
		} else if ok {
			return addr, nil
		}
	}

	return common.Address{}, &NotFoundError{
		Reference:   reference,
		Suggestions: r.suggest(ctx, reference, userHash, wallet),
	}
}

// ResolvePath resolves every element, failing on the first miss.
func (r *Resolver) ResolvePath(ctx context.Context, references []string, userHash string, wallet common.Address) ([]common.Address, error) {
	path := make([]common.Address, 0, len(references))
	for _, ref := range references {
		addr, err := r.Resolve(ctx, ref, userHash, wallet)
		if err != nil {
			return nil, err
		}
		path = append(path, addr)
	}
	return path, nil
}

// cleanupStaleTracked untracks user entries that shadow a default-list
// symbol at a different address. The default list won; the stale tracked
// address would otherwise resurface when the default entry is ever removed.
func (r *Resolver) cleanupStaleTracked(ctx context.Context, userHash string, entry *ListToken) {
	tracked, err := r.store.ListTrackedTokens(ctx, userHash, r.chainID)
	if err != nil {
		return
	}
	key := normalize(entry.Symbol)
	for _, t := range tracked {
		if normalize(t.Symbol) != key {
			continue
		}
		if common.HexToAddress(t.Address) == common.HexToAddress(entry.Address) {
			continue
		}
		if err := r.store.UntrackToken(ctx, userHash, t.ID); err != nil {
			logger.WarnCF("tokens", "stale tracked cleanup failed", map[string]any{
				"symbol": t.Symbol, "address": t.Address, "error": err.Error(),
			})
			continue
		}
		logger.InfoCF("tokens", "removed stale tracked token", map[string]any{
			"symbol": t.Symbol, "stale": t.Address, "authoritative": entry.Address,
		})
	}
}

// resolveTracked matches the reference against tracked tokens. Multiple
// matches prefer the largest balance for the given wallet, ties going to
// the earliest-tracked entry.
func (r *Resolver) resolveTracked(ctx context.Context, reference, userHash string, wallet common.Address) (common.Address, bool, error) {
	tracked, err := r.store.ListTrackedTokens(ctx, userHash, r.chainID)
	if err != nil {
		return common.Address{}, false, err
	}

	key := normalize(reference)
	var matches []*storage.Token
	for _, t := range tracked {
		if normalize(t.Symbol) == key || normalize(t.Name) == key {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return common.Address{}, false, nil
	case 1:
		return common.HexToAddress(matches[0].Address), true, nil
	}

	if wallet == (common.Address{}) {
		return common.HexToAddress(matches[0].Address), true, nil
	}

	best := matches[0]
	bestBal := r.balanceOrZero(ctx, common.HexToAddress(best.Address), wallet)
	for _, t := range matches[1:] {
		bal := r.balanceOrZero(ctx, common.HexToAddress(t.Address), wallet)
		if bal.Cmp(bestBal) > 0 {
			best, bestBal = t, bal
		}
	}
	return common.HexToAddress(best.Address), true, nil
}

func (r *Resolver) balanceOrZero(ctx context.Context, token, wallet common.Address) *big.Int {
	bal, err := r.chain.TokenBalance(ctx, token, wallet)
	if err != nil {
		return big.NewInt(0)
	}
	return bal
}

type scored struct {
	Suggestion
	distance int
	balance  *big.Int
}

// suggest ranks default-list and tracked candidates by edit distance over
// symbol and name. Equal-distance candidates order by the wallet's balance
// when one is known.
func (r *Resolver) suggest(ctx context.Context, reference, userHash string, wallet common.Address) []Suggestion {
	key := normalize(reference)
	if key == "" {
		return nil
	}
	threshold := len(key)/2 + 1

	seen := make(map[common.Address]bool)
	var candidates []scored

	consider := func(symbol, name, address string) {
		addr := common.HexToAddress(address)
		if seen[addr] {
			return
		}
		d := levenshtein.ComputeDistance(key, normalize(symbol))
		if nd := levenshtein.ComputeDistance(key, normalize(name)); nd < d {
			d = nd
		}
		if d > threshold {
			return
		}
		seen[addr] = true
		candidates = append(candidates, scored{
			Suggestion: Suggestion{Symbol: symbol, Address: address},
			distance:   d,
		})
	}

	for i := range r.list.Tokens {
		t := &r.list.Tokens[i]
		consider(t.Symbol, t.Name, t.Address)
	}
	if userHash != "" {
		if tracked, err := r.store.ListTrackedTokens(ctx, userHash, r.chainID); err == nil {
			for _, t := range tracked {
				consider(t.Symbol, t.Name, t.Address)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if wallet != (common.Address{}) {
		r.breakTiesByBalance(ctx, candidates, wallet)
	}
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	out := make([]Suggestion, len(candidates))
	for i, c := range candidates {
		out[i] = c.Suggestion
	}
	return out
}

// breakTiesByBalance reorders runs of equal-distance candidates so the ones
// the wallet actually holds come first. candidates must already be sorted by
// distance; balances are fetched only for tied runs.
func (r *Resolver) breakTiesByBalance(ctx context.Context, candidates []scored, wallet common.Address) {
	for start := 0; start < len(candidates); {
		end := start + 1
		for end < len(candidates) && candidates[end].distance == candidates[start].distance {
			end++
		}
		if end-start > 1 {
			group := candidates[start:end]
			for i := range group {
				group[i].balance = r.balanceOrZero(ctx, common.HexToAddress(group[i].Address), wallet)
			}
			sort.SliceStable(group, func(i, j int) bool {
				return group[i].balance.Cmp(group[j].balance) > 0
			})
		}
		start = end
	}
}
