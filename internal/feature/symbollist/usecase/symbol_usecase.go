// Package usecase implements the watchlist operations.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	candleentity "twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/symbollist/domain/entity"
)

var (
	ErrInvalidSymbol  = errors.New("invalid symbol")
	ErrInvalidMarket  = errors.New("invalid market")
	ErrSymbolNotFound = errors.New("symbol not in watchlist")
)

// SymbolRepository abstracts the persistence layer for watchlist symbols.
// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).
type SymbolRepository interface {
	ListActive(ctx context.Context) ([]entity.Symbol, error)
	ListActiveCodes(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, s entity.Symbol) error
	Deactivate(ctx context.Context, code string) error
}

// SymbolUsecase provides business logic for the watchlist.
type SymbolUsecase struct {
	repo SymbolRepository
}

func NewSymbolUsecase(r SymbolRepository) *SymbolUsecase {
	return &SymbolUsecase{repo: r}
}

// ListActiveSymbols returns all active symbols in display order.
func (u *SymbolUsecase) ListActiveSymbols(ctx context.Context) ([]entity.Symbol, error) {
	return u.repo.ListActive(ctx)
}

// ActiveCodes returns the codes the warm-up job should refresh.
func (u *SymbolUsecase) ActiveCodes(ctx context.Context) ([]string, error) {
	return u.repo.ListActiveCodes(ctx)
}

// Add registers code (re-activating it if it was removed).
func (u *SymbolUsecase) Add(ctx context.Context, code, name, market string) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	switch market {
	case "", entity.MarketTWSE, entity.MarketTPEx:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMarket, market)
	}
	return u.repo.Upsert(ctx, entity.Symbol{Code: code, Name: strings.TrimSpace(name), Market: market})
}

// Remove deactivates code.
func (u *SymbolUsecase) Remove(ctx context.Context, code string) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	return u.repo.Deactivate(ctx, code)
}

// Seed adds every code in order. Invalid codes are skipped with a warning.
func (u *SymbolUsecase) Seed(ctx context.Context, codes []string) error {
	for _, raw := range codes {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := u.Add(ctx, raw, "", ""); err != nil {
			if errors.Is(err, ErrInvalidSymbol) {
				slog.Warn("skipping invalid watch symbol", "symbol", raw, "error", err)
				continue
			}
			return fmt.Errorf("seed %s: %w", raw, err)
		}
	}
	return nil
}

// NormalizeCode trims and upper-cases a ticker (e.g. " 00632r " -> "00632R").
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := candleentity.ValidateSymbol(code); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	return code, nil
}
