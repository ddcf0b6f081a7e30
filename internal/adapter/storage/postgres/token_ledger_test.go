package postgres

import (
	"context"
	"math"
	"testing"
	"time"

	"htlc-escrow/internal/core/domain"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenCols = []string{"address", "owner", "mint", "amount", "created_at", "updated_at"}

func expectLockedAccount(mock pgxmock.PgxPoolIface, addr, owner, mint domain.Pubkey, amount int64) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	mock.ExpectQuery("SELECT .+ FROM token_accounts WHERE address = \\$1 FOR UPDATE").
		WithArgs(addr.String()).
		WillReturnRows(pgxmock.NewRows(tokenCols).
			AddRow(addr.String(), owner.String(), mint.String(), amount, now, now))
}

func TestTokenLedger_Transfer_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewTokenLedger(mock)
	from, to := filledKey(1), filledKey(2)
	owner, mint := filledKey(10), filledKey(20)

	mock.ExpectBegin()
	expectLockedAccount(mock, from, owner, mint, 500)
	expectLockedAccount(mock, to, filledKey(11), mint, 0)
	mock.ExpectExec("UPDATE token_accounts SET amount = amount -").
		WithArgs(int64(200), from.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE token_accounts SET amount = amount \\+").
		WithArgs(int64(200), to.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = ledger.Transfer(context.Background(), tx, from, to, owner, 200)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenLedger_Transfer_LocksInAddressOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewTokenLedger(mock)
	from, to := filledKey(9), filledKey(2)
	owner, mint := filledKey(10), filledKey(20)

	mock.ExpectBegin()
	expectLockedAccount(mock, to, filledKey(11), mint, 0)
	expectLockedAccount(mock, from, owner, mint, 50)
	mock.ExpectExec("UPDATE token_accounts SET amount = amount -").
		WithArgs(int64(50), from.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE token_accounts SET amount = amount \\+").
		WithArgs(int64(50), to.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, ledger.Transfer(context.Background(), tx, from, to, owner, 50))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenLedger_Transfer_Rejections(t *testing.T) {
	from, to := filledKey(1), filledKey(2)
	owner, mint := filledKey(10), filledKey(20)

	tests := []struct {
		name      string
		authority domain.Pubkey
		dstMint   domain.Pubkey
		balance   int64
		amount    uint64
		want      error
	}{
		{"wrong authority", filledKey(99), mint, 500, 10, domain.ErrOwnerMismatch},
		{"mint mismatch", owner, filledKey(21), 500, 10, domain.ErrMintMismatch},
		{"insufficient funds", owner, mint, 5, 10, domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			ledger := NewTokenLedger(mock)
			mock.ExpectBegin()
			expectLockedAccount(mock, from, owner, mint, tt.balance)
			expectLockedAccount(mock, to, filledKey(11), tt.dstMint, 0)

			tx, err := mock.Begin(context.Background())
			require.NoError(t, err)

			err = ledger.Transfer(context.Background(), tx, from, to, tt.authority, tt.amount)
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTokenLedger_Transfer_MissingAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewTokenLedger(mock)
	from, to := filledKey(1), filledKey(2)

	mock.ExpectBegin()
	expectLockedAccount(mock, from, filledKey(10), filledKey(20), 100)
	mock.ExpectQuery("SELECT .+ FROM token_accounts WHERE address = \\$1 FOR UPDATE").
		WithArgs(to.String()).
		WillReturnRows(pgxmock.NewRows(tokenCols))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = ledger.Transfer(context.Background(), tx, from, to, filledKey(10), 1)
	assert.ErrorIs(t, err, domain.ErrTokenAccountNotFound)
}

func TestTokenLedger_CreateAccount_Exists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewTokenLedger(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	acc := &domain.TokenAccount{
		Address:   filledKey(1),
		Owner:     filledKey(2),
		Mint:      filledKey(3),
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO token_accounts").
		WithArgs(acc.Address.String(), acc.Owner.String(), acc.Mint.String(), int64(0), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = ledger.CreateAccount(context.Background(), tx, acc)
	assert.ErrorIs(t, err, domain.ErrTokenAccountExists)
}

func TestTokenLedger_Mint(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewTokenLedger(mock)
	addr := filledKey(1)

	mock.ExpectBegin()
	expectLockedAccount(mock, addr, filledKey(2), filledKey(3), 10)
	mock.ExpectExec("UPDATE token_accounts SET amount = amount \\+").
		WithArgs(int64(90), addr.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, ledger.Mint(context.Background(), tx, addr, 90))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenLedger_GetAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewTokenLedger(mock)
	addr, owner, mint := filledKey(1), filledKey(2), filledKey(3)
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM token_accounts WHERE address").
		WithArgs(addr.String()).
		WillReturnRows(pgxmock.NewRows(tokenCols).
			AddRow(addr.String(), owner.String(), mint.String(), int64(42), now, now))

	acc, err := ledger.GetAccount(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, owner, acc.Owner)
	assert.Equal(t, mint, acc.Mint)
	assert.Equal(t, uint64(42), acc.Amount)
}

func TestTokenLedger_BalanceCap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger := NewTokenLedger(mock)
	addr := filledKey(1)

	mock.ExpectBegin()
	expectLockedAccount(mock, addr, filledKey(2), filledKey(3), math.MaxInt64-5)

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.CreateAccount(context.Background(), tx,
		&domain.TokenAccount{Address: filledKey(4), Amount: math.MaxInt64 + 1}), domain.ErrBalanceOverflow)
	assert.ErrorIs(t, ledger.Mint(context.Background(), tx, addr, 6), domain.ErrBalanceOverflow)
	assert.NoError(t, mock.ExpectationsWereMet(), "no write reaches the table")
}
