package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"htlc-escrow/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// TokenLedger implements ports.TokenLedger on the token_accounts table.
// Balances are stored as BIGINT, so no balance may exceed math.MaxInt64;
// a create, transfer or mint past it fails with domain.ErrBalanceOverflow
// before any balance is written.
type TokenLedger struct {
	pool Pool
}

// NewTokenLedger creates a new TokenLedger.
func NewTokenLedger(pool Pool) *TokenLedger {
	return &TokenLedger{pool: pool}
}

const tokenAccountColumns = `address, owner, mint, amount, created_at, updated_at`

// GetAccountForUpdate fetches a token account with a row lock.
// This MUST be called within a transaction.
func (l *TokenLedger) GetAccountForUpdate(ctx context.Context, tx pgx.Tx, address domain.Pubkey) (*domain.TokenAccount, error) {
	query := `SELECT ` + tokenAccountColumns + ` FROM token_accounts WHERE address = $1 FOR UPDATE`

	acc, err := scanTokenAccount(tx.QueryRow(ctx, query, address.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get token account for update: %w", translate(err, nil))
	}
	return acc, nil
}

// GetAccount fetches a token account (non-locking read).
func (l *TokenLedger) GetAccount(ctx context.Context, address domain.Pubkey) (*domain.TokenAccount, error) {
	query := `SELECT ` + tokenAccountColumns + ` FROM token_accounts WHERE address = $1`

	acc, err := scanTokenAccount(l.pool.QueryRow(ctx, query, address.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get token account: %w", err)
	}
	return acc, nil
}

// CreateAccount opens an empty or pre-funded token account.
func (l *TokenLedger) CreateAccount(ctx context.Context, tx pgx.Tx, acc *domain.TokenAccount) error {
	if acc.Amount > math.MaxInt64 {
		return domain.ErrBalanceOverflow
	}
	query := `INSERT INTO token_accounts (` + tokenAccountColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		acc.Address.String(), acc.Owner.String(), acc.Mint.String(),
		int64(acc.Amount), acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token account: %w", translate(err, domain.ErrTokenAccountExists))
	}
	// Zero rows means the address is taken, possibly by a transaction that
	// committed after our FOR UPDATE read found nothing.
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenAccountExists
	}
	return nil
}

// Transfer moves amount from one account to another. authority must own the
// source and both accounts must hold the same mint.
func (l *TokenLedger) Transfer(ctx context.Context, tx pgx.Tx, from, to, authority domain.Pubkey, amount uint64) error {
	src, dst, err := l.lockPair(ctx, tx, from, to)
	if err != nil {
		return err
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
	if dst.Amount+amount > math.MaxInt64 || dst.Amount+amount < dst.Amount {
		return domain.ErrBalanceOverflow
	}

	debit := `UPDATE token_accounts SET amount = amount - $1, updated_at = NOW() WHERE address = $2`
	if _, err := tx.Exec(ctx, debit, int64(amount), from.String()); err != nil {
		return fmt.Errorf("debit token account: %w", err)
	}
	credit := `UPDATE token_accounts SET amount = amount + $1, updated_at = NOW() WHERE address = $2`
	if _, err := tx.Exec(ctx, credit, int64(amount), to.String()); err != nil {
		return fmt.Errorf("credit token account: %w", err)
	}
	return nil
}

// Mint credits new tokens to an existing account.
func (l *TokenLedger) Mint(ctx context.Context, tx pgx.Tx, to domain.Pubkey, amount uint64) error {
	acc, err := l.GetAccountForUpdate(ctx, tx, to)
	if err != nil {
		return err
	}
	if acc == nil {
		return domain.ErrTokenAccountNotFound
	}
	if acc.Amount+amount > math.MaxInt64 || acc.Amount+amount < acc.Amount {
		return domain.ErrBalanceOverflow
	}

	query := `UPDATE token_accounts SET amount = amount + $1, updated_at = NOW() WHERE address = $2`
	if _, err := tx.Exec(ctx, query, int64(amount), to.String()); err != nil {
		return fmt.Errorf("mint to token account: %w", err)
	}
	return nil
}

// ListByOwner returns every token account held by owner.
func (l *TokenLedger) ListByOwner(ctx context.Context, owner domain.Pubkey) ([]domain.TokenAccount, error) {
	query := `SELECT ` + tokenAccountColumns + ` FROM token_accounts WHERE owner = $1 ORDER BY created_at`

	rows, err := l.pool.Query(ctx, query, owner.String())
	if err != nil {
		return nil, fmt.Errorf("list token accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.TokenAccount
	for rows.Next() {
		acc, err := scanTokenAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token account: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// lockPair locks both accounts in address order so concurrent transfers in
// opposite directions cannot deadlock.
func (l *TokenLedger) lockPair(ctx context.Context, tx pgx.Tx, from, to domain.Pubkey) (*domain.TokenAccount, *domain.TokenAccount, error) {
	first, second := from, to
	if bytes.Compare(from[:], to[:]) > 0 {
		first, second = to, from
	}

	a, err := l.GetAccountForUpdate(ctx, tx, first)
	if err != nil {
		return nil, nil, err
	}
	b := a
	if second != first {
		if b, err = l.GetAccountForUpdate(ctx, tx, second); err != nil {
			return nil, nil, err
		}
	}
	if a == nil || b == nil {
		return nil, nil, domain.ErrTokenAccountNotFound
	}

	if first == from {
		return a, b, nil
	}
	return b, a, nil
}

func scanTokenAccount(row pgx.Row) (*domain.TokenAccount, error) {
	var (
		address, owner, mint string
		amount               int64
		acc                  domain.TokenAccount
	)
	if err := row.Scan(&address, &owner, &mint, &amount, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if acc.Address, err = domain.ParsePubkey(address); err != nil {
		return nil, err
	}
	if acc.Owner, err = domain.ParsePubkey(owner); err != nil {
		return nil, err
	}
	if acc.Mint, err = domain.ParsePubkey(mint); err != nil {
		return nil, err
	}
	acc.Amount = uint64(amount)
	return &acc, nil
}
