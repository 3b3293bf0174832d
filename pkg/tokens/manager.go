package tokens

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tidaldex/dexbot/pkg/logger"
	"github.com/tidaldex/dexbot/pkg/storage"
)

// Track resolves the reference and adds the token to the user's tracked
// set. Metadata comes from the default list when present, otherwise from
// the contract.
func (r *Resolver) Track(ctx context.Context, reference, userHash string, wallet common.Address) (*storage.Token, error) {
	addr, err := r.Resolve(ctx, reference, userHash, wallet)
	if err != nil {
		return nil, err
	}

	tok := &storage.Token{Address: addr.Hex(), ChainID: r.chainID}
	if entry, ok := r.list.ByAddress(addr.Hex()); ok {
		tok.Symbol = entry.Symbol
		tok.Name = entry.Name
		tok.Decimals = entry.Decimals
	} else {
		md, err := r.chain.TokenMetadata(ctx, addr)
		if err != nil {
			return nil, err
		}
		tok.Symbol = md.Symbol
		tok.Name = md.Name
		tok.Decimals = int(md.Decimals)
	}

	id, err := r.store.UpsertToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if err := r.store.TrackToken(ctx, userHash, id); err != nil {
		return nil, err
	}
	logger.InfoCF("tokens", "token tracked", map[string]any{
		"symbol": tok.Symbol, "address": tok.Address,
	})
	return tok, nil
}

// Untrack removes the resolved token from the user's tracked set.
func (r *Resolver) Untrack(ctx context.Context, reference, userHash string, wallet common.Address) error {
	addr, err := r.Resolve(ctx, reference, userHash, wallet)
	if err != nil {
		return err
	}
	tok, err := r.store.GetTokenByAddress(ctx, addr.Hex(), r.chainID)
	if err != nil {
		return err
	}
	return r.store.UntrackToken(ctx, userHash, tok.ID)
}

// Tracked returns the user's tracked tokens.
func (r *Resolver) Tracked(ctx context.Context, userHash string) ([]*storage.Token, error) {
	return r.store.ListTrackedTokens(ctx, userHash, r.chainID)
}

// ScanResult pairs a discovered token with the wallet's balance.
type ScanResult struct {
	Token   *storage.Token
	Balance *big.Int
}

// Scan walks the default list and tracks every token the wallet holds a
// non-zero balance of. Balance-read failures skip the token.
func (r *Resolver) Scan(ctx context.Context, userHash string, wallet common.Address) ([]ScanResult, error) {
	var found []ScanResult
	for i := range r.list.Tokens {
		entry := &r.list.Tokens[i]
		addr := common.HexToAddress(entry.Address)
		bal, err := r.chain.TokenBalance(ctx, addr, wallet)
		if err != nil {
			logger.DebugCF("tokens", "scan balance read failed", map[string]any{
				"symbol": entry.Symbol, "error": err.Error(),
			})
			continue
		}
		if bal.Sign() <= 0 {
			continue
		}

		tok := &storage.Token{
			Address:  entry.Address,
			Symbol:   entry.Symbol,
			Name:     entry.Name,
			Decimals: entry.Decimals,
			ChainID:  r.chainID,
		}
		id, err := r.store.UpsertToken(ctx, tok)
		if err != nil {
			return found, err
		}
		if err := r.store.TrackToken(ctx, userHash, id); err != nil {
			return found, err
		}
		found = append(found, ScanResult{Token: tok, Balance: bal})
	}
	logger.InfoCF("tokens", "scan complete", map[string]any{
		"wallet": wallet.Hex(), "found": len(found),
	})
	return found, nil
}

// Decimals returns the token's decimals, preferring the default list and
// stored rows over a contract call.
func (r *Resolver) Decimals(ctx context.Context, token common.Address) (int, error) {
	if entry, ok := r.list.ByAddress(token.Hex()); ok {
		return entry.Decimals, nil
	}
	if tok, err := r.store.GetTokenByAddress(ctx, token.Hex(), r.chainID); err == nil {
		return tok.Decimals, nil
	}
	md, err := r.chain.TokenMetadata(ctx, token)
	if err != nil {
		return 0, err
	}
	return int(md.Decimals), nil
}
