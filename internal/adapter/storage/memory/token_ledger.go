package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"htlc-escrow/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// TokenLedger implements ports.TokenLedger.
type TokenLedger struct {
	store *Store
}

// NewTokenLedger creates a token ledger over store.
func NewTokenLedger(store *Store) *TokenLedger {
	return &TokenLedger{store: store}
}

func nowUTC() time.Time { return time.Now().UTC() }

// GetAccountForUpdate returns the account as seen by tx, or nil if absent.
func (l *TokenLedger) GetAccountForUpdate(_ context.Context, tx pgx.Tx, address domain.Pubkey) (*domain.TokenAccount, error) {
	mtx, err := l.store.asTx(tx)
	if err != nil {
		return nil, err
	}
	acc, ok := mtx.account(address)
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

// GetAccount returns the committed account, or nil if absent.
func (l *TokenLedger) GetAccount(_ context.Context, address domain.Pubkey) (*domain.TokenAccount, error) {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	acc, ok := l.store.accounts[address]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

// CreateAccount stages a new account.
func (l *TokenLedger) CreateAccount(_ context.Context, tx pgx.Tx, acc *domain.TokenAccount) error {
	mtx, err := l.store.asTx(tx)
	if err != nil {
		return err
	}
	if _, ok := mtx.account(acc.Address); ok {
		return domain.ErrTokenAccountExists
	}
	mtx.accounts[acc.Address] = *acc
	return nil
}

// Transfer stages a balance move from one account to another.
func (l *TokenLedger) Transfer(_ context.Context, tx pgx.Tx, from, to, authority domain.Pubkey, amount uint64) error {
	mtx, err := l.store.asTx(tx)
	if err != nil {
		return err
	}
	src, ok := mtx.account(from)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTokenAccountNotFound, from)
	}
	dst, ok := mtx.account(to)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTokenAccountNotFound, to)
	}
	if src.Owner != authority {
		return domain.ErrOwnerMismatch
	}
	if src.Mint != dst.Mint {
		return domain.ErrMintMismatch
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	if dst.Amount+amount < dst.Amount {
		return domain.ErrBalanceOverflow
	}

	now := nowUTC()
	src.Amount -= amount
	src.UpdatedAt = now
	dst.Amount += amount
	dst.UpdatedAt = now
	mtx.accounts[from] = src
	mtx.accounts[to] = dst
	return nil
}

// Mint stages new tokens on an existing account.
func (l *TokenLedger) Mint(_ context.Context, tx pgx.Tx, to domain.Pubkey, amount uint64) error {
	mtx, err := l.store.asTx(tx)
	if err != nil {
		return err
	}
	acc, ok := mtx.account(to)
	if !ok {
		return domain.ErrTokenAccountNotFound
	}
	if acc.Amount+amount < acc.Amount {
		return domain.ErrBalanceOverflow
	}
	acc.Amount += amount
	acc.UpdatedAt = nowUTC()
	mtx.accounts[to] = acc
	return nil
}

// ListByOwner returns every committed account held by owner.
func (l *TokenLedger) ListByOwner(_ context.Context, owner domain.Pubkey) ([]domain.TokenAccount, error) {
	l.store.mu.RLock()
	var out []domain.TokenAccount
	for _, acc := range l.store.accounts {
		if acc.Owner == owner {
			out = append(out, acc)
		}
	}
	l.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
