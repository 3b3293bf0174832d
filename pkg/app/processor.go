package app

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tidaldex/dexbot/pkg/tokens"
)

// OwnWalletSentinel marks a parameter defaulted to "the wallet's own
// address". The transaction pipeline substitutes the concrete address once
// the wallet is known; no other component may interpret it.
type OwnWalletSentinel struct{}

// OwnWalletAddress is the sentinel value injected by DefaultOwnWallet rules.
var OwnWalletAddress = OwnWalletSentinel{}

// amountSuffixes are the magnitude shorthands accepted in human amounts.
var amountSuffixes = map[byte]int32{
	'k': 3, 'm': 6, 'b': 9, 't': 12, 'q': 15,
}

// Processor turns raw user parameters into contract-ready values per the
// method's declared rules.
type Processor struct {
	resolver *tokens.Resolver
	window   time.Duration
	now      func() time.Time
}

func NewProcessor(resolver *tokens.Resolver, deadlineWindow time.Duration) *Processor {
	if deadlineWindow <= 0 {
		deadlineWindow = 5 * time.Minute
	}
	return &Processor{resolver: resolver, window: deadlineWindow, now: time.Now}
}

// Process applies the method's parameter rules. Path parameters resolve
// first since amount-decimal lookups depend on resolved path endpoints.
// Every declared input must be present afterwards or processing fails.
func (p *Processor) Process(ctx context.Context, m *Method, raw map[string]any, userHash string, wallet common.Address) (map[string]any, error) {
	processed := make(map[string]any, len(raw))
	for k, v := range raw {
		processed[k] = v
	}

	for _, pathParam := range m.PathParams {
		val, ok := processed[pathParam]
		if !ok {
			continue
		}
		refs, err := toStringSlice(val)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", pathParam, err)
		}
		path, err := p.resolver.ResolvePath(ctx, refs, userHash, wallet)
		if err != nil {
			return nil, err
		}
		processed[pathParam] = path
	}

	for param, rule := range m.Processing {
		val, present := processed[param]
		if !present {
			switch rule.DefaultKind {
			case DefaultOwnWallet:
				processed[param] = OwnWalletAddress
			case DefaultDeadline:
				processed[param] = big.NewInt(p.now().Unix() + int64(p.window.Seconds()))
			case DefaultLiteral:
				processed[param] = rule.DefaultLiteral
			}
			continue
		}

		switch rule.Type {
		case "token_amount":
			if !rule.ConvertFromHuman {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(toString(val)), "all") {
				amount, err := p.fullBalance(ctx, rule.GetDecimalsFrom, processed, userHash, wallet)
				if err != nil {
					return nil, fmt.Errorf("parameter %q: %w", param, err)
				}
				processed[param] = amount
				continue
			}
			decimals, err := p.decimalsFor(ctx, rule.GetDecimalsFrom, processed, userHash, wallet)
			if err != nil {
				return nil, fmt.Errorf("parameter %q decimals: %w", param, err)
			}
			amount, err := ParseHumanAmount(toString(val), decimals)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", param, err)
			}
			processed[param] = amount
		case "timestamp":
			ts, err := toInt64(val)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", param, err)
			}
			processed[param] = big.NewInt(ts)
		case "token":
			addr, err := p.resolver.Resolve(ctx, toString(val), userHash, wallet)
			if err != nil {
				return nil, err
			}
			processed[param] = addr
		case "address":
			ref := toString(val)
			if !common.IsHexAddress(ref) {
				return nil, fmt.Errorf("parameter %q: %q is not an address", param, ref)
			}
			processed[param] = common.HexToAddress(ref)
		}
	}

	for _, input := range m.Inputs {
		if _, ok := processed[input]; !ok {
			return nil, &MissingParamError{Param: input}
		}
	}
	return processed, nil
}

// OrderedArgs lays out processed values per the method's input list.
func (m *Method) OrderedArgs(processed map[string]any) ([]any, error) {
	args := make([]any, 0, len(m.Inputs))
	for _, input := range m.Inputs {
		val, ok := processed[input]
		if !ok {
			return nil, &MissingParamError{Param: input}
		}
		args = append(args, val)
	}
	return args, nil
}

// tokenFor resolves a get_decimals_from style reference to a token address.
// "path[0]"/"path[-1]" references index an already-resolved path parameter;
// a bare name reads another parameter; anything else is a token reference.
// Empty and native references have no contract; ok is false for them.
func (p *Processor) tokenFor(ctx context.Context, ref string, processed map[string]any, userHash string, wallet common.Address) (common.Address, bool, error) {
	if ref == "" || p.resolver.IsNativeAlias(ref) {
		return common.Address{}, false, nil
	}

	var token common.Address
	switch {
	case strings.Contains(ref, "["):
		addr, err := IndexedAddress(ref, processed)
		if err != nil {
			return common.Address{}, false, err
		}
		token = addr
	default:
		if val, ok := processed[ref]; ok {
			switch v := val.(type) {
			case common.Address:
				token = v
			case string:
				addr, err := p.resolver.Resolve(ctx, v, userHash, wallet)
				if err != nil {
					return common.Address{}, false, err
				}
				token = addr
			default:
				return common.Address{}, false, fmt.Errorf("reference %q has unsupported type %T", ref, val)
			}
		} else {
			addr, err := p.resolver.Resolve(ctx, ref, userHash, wallet)
			if err != nil {
				return common.Address{}, false, err
			}
			token = addr
		}
	}
	return token, true, nil
}

func (p *Processor) decimalsFor(ctx context.Context, ref string, processed map[string]any, userHash string, wallet common.Address) (int, error) {
	token, ok, err := p.tokenFor(ctx, ref, processed, userHash, wallet)
	if err != nil {
		return 0, err
	}
	if !ok || token == p.resolver.WrappedNative() {
		return 18, nil
	}
	return p.resolver.Decimals(ctx, token)
}

// fullBalance resolves the "all" amount keyword to the wallet's entire
// balance of the referenced token.
func (p *Processor) fullBalance(ctx context.Context, ref string, processed map[string]any, userHash string, wallet common.Address) (*big.Int, error) {
	token, ok, err := p.tokenFor(ctx, ref, processed, userHash, wallet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: \"all\" requires a token reference", ErrInvalidAmount)
	}
	if wallet == (common.Address{}) {
		return nil, fmt.Errorf("%w: \"all\" requires a wallet", ErrInvalidAmount)
	}
	return p.resolver.Balance(ctx, token, wallet)
}

// IndexedAddress reads references of the form name[0] or name[-1] against a
// resolved address-slice parameter.
func IndexedAddress(ref string, processed map[string]any) (common.Address, error) {
	open := strings.Index(ref, "[")
	end := strings.Index(ref, "]")
	if open < 0 || end < open {
		return common.Address{}, fmt.Errorf("malformed reference %q", ref)
	}
	name := ref[:open]
	idx, err := strconv.Atoi(ref[open+1 : end])
	if err != nil {
		return common.Address{}, fmt.Errorf("malformed reference %q", ref)
	}

	val, ok := processed[name]
	if !ok {
		return common.Address{}, fmt.Errorf("reference %q: parameter %q not present", ref, name)
	}
	path, ok := val.([]common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("reference %q: parameter %q is not a resolved path", ref, name)
	}
	if idx < 0 {
		idx += len(path)
	}
	if idx < 0 || idx >= len(path) {
		return common.Address{}, fmt.Errorf("reference %q: index out of range", ref)
	}
	return path[idx], nil
}

// ParseHumanAmount converts a human-readable amount ("1.5", "2k", "1,000",
// "0.5m") into smallest-unit integer terms for the given decimals.
func ParseHumanAmount(s string, decimals int) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	var shift int32
	last := s[len(s)-1]
	if mag, ok := amountSuffixes[last|0x20]; ok && !(last >= '0' && last <= '9') {
		shift = mag
		s = s[:len(s)-1]
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}

	scaled := d.Shift(shift).Shift(int32(decimals))
	// Sub-smallest-unit precision is silently truncated.
	return scaled.Truncate(0).BigInt(), nil
}

func toStringSlice(val any) ([]string, error) {
	switch v := val.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			out[i] = toString(e)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", val)
	}
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64(val any) (int64, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case *big.Int:
		return v.Int64(), nil
	default:
		return 0, fmt.Errorf("cannot interpret %T as timestamp", val)
	}
}
