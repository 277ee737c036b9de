package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"zhunleme/internal/domain"
	"zhunleme/internal/store"
)

// maxTokenRunes bounds a token; longer tokens cannot name a listed stock.
const maxTokenRunes = 32

// Resolver maps free-form user tokens (codes, partial codes, names) onto
// stocks in the store.
type Resolver struct {
	stocks store.StockStore
}

// NewResolver creates a Resolver over stocks.
func NewResolver(stocks store.StockStore) *Resolver {
	return &Resolver{stocks: stocks}
}

// Resolve returns the stocks matched by tokens in input order. A token with
// digits is tried as a code first (zero-padded to six); otherwise, or when the
// code misses, it is matched by exact name. Unmatched and over-long tokens
// are dropped without error. A stock matched by several tokens is kept once,
// at its first position, rather than once per token. Store errors other than
// not-found are returned.
func (r *Resolver) Resolve(ctx context.Context, tokens []string) ([]domain.Stock, error) {
	var (
		out  []domain.Stock
		seen = make(map[string]struct{}, len(tokens))
	)
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" || utf8.RuneCountInString(tok) > maxTokenRunes {
			continue
		}

		st, err := r.resolveOne(ctx, tok)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", tok, err)
		}
		if st == nil {
			continue
		}
		if _, dup := seen[st.Code]; dup {
			continue
		}
		seen[st.Code] = struct{}{}
		out = append(out, *st)
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, tok string) (*domain.Stock, error) {
	if code := NormalizeCode(tok); code != "" {
		st, err := r.stocks.GetStock(ctx, code)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	st, err := r.stocks.FindStockByName(ctx, tok)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return st, err
}

// NormalizeCode keeps the ASCII digits of tok and left-pads them to six.
// Longer digit runs are returned unchanged; no digits yields "".
func NormalizeCode(tok string) string {
	var b strings.Builder
	for _, r := range tok {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) < 6 {
		digits = strings.Repeat("0", 6-len(digits)) + digits
	}
	return digits
}
