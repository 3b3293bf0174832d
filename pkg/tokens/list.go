// Package tokens resolves user token references (addresses, aliases,
// symbols, names) to contract addresses and manages per-user tracked tokens.
package tokens

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ListToken is one entry of the curated default token list.
type ListToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	ChainID  int64  `json:"chainId"`
}

// List is the authoritative default token list. Lookups are normalized:
// case, whitespace and common punctuation are ignored.
type List struct {
	Tokens   []ListToken
	bySymbol map[string]*ListToken
	byName   map[string]*ListToken
}

type listFile struct {
	Tokens []ListToken `json:"tokens"`
}

// LoadList reads a token list JSON file, keeping only entries for chainID.
// A missing path yields an empty list, not an error.
func LoadList(path string, chainID int64) (*List, error) {
	l := &List{
		bySymbol: make(map[string]*ListToken),
		byName:   make(map[string]*ListToken),
	}
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read token list: %w", err)
	}

	var f listFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse token list %s: %w", path, err)
	}

	for _, t := range f.Tokens {
		if t.ChainID != 0 && t.ChainID != chainID {
			continue
		}
		l.add(t)
	}
	return l, nil
}

// NewList builds a list from in-memory entries; used by tests and seeds.
func NewList(entries []ListToken) *List {
	l := &List{
		bySymbol: make(map[string]*ListToken),
		byName:   make(map[string]*ListToken),
	}
	for _, t := range entries {
		l.add(t)
	}
	return l
}

func (l *List) add(t ListToken) {
	l.Tokens = append(l.Tokens, t)
	entry := &l.Tokens[len(l.Tokens)-1]
	// First entry wins on collision; the list is ordered by authority.
	if key := normalize(t.Symbol); key != "" {
		if _, ok := l.bySymbol[key]; !ok {
			l.bySymbol[key] = entry
		}
	}
	if key := normalize(t.Name); key != "" {
		if _, ok := l.byName[key]; !ok {
			l.byName[key] = entry
		}
	}
}

// Lookup finds a default-list entry by normalized symbol or name.
func (l *List) Lookup(reference string) (*ListToken, bool) {
	key := normalize(reference)
	if t, ok := l.bySymbol[key]; ok {
		return t, true
	}
	if t, ok := l.byName[key]; ok {
		return t, true
	}
	return nil, false
}

// ByAddress finds a default-list entry by address, case-insensitive.
func (l *List) ByAddress(address string) (*ListToken, bool) {
	for i := range l.Tokens {
		if strings.EqualFold(l.Tokens[i].Address, address) {
			return &l.Tokens[i], true
		}
	}
	return nil, false
}

// normalize folds case and strips separators so "Cl8y", "CL8Y" and "cl-8y"
// all collide.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '-', '_', '.', '$':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
