package transaction_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/ledger/internal/transaction"
)

func TestTransaction_TooOldToCancel(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		transacted time.Time
		want       bool
	}{
		{name: "SameDay", transacted: at, want: false},
		{name: "ElevenMonths", transacted: at.AddDate(0, -11, 0), want: false},
		{name: "ExactlyOneYear", transacted: at.AddDate(-1, 0, 0), want: false},
		{name: "ThirteenMonths", transacted: at.AddDate(0, -13, 0), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &transaction.Transaction{TransactedAt: tt.transacted}
			assert.Equal(t, tt.want, tx.TooOldToCancel(at))
		})
	}
}

func TestTransaction_Cancellable(t *testing.T) {
	assert.True(t, (&transaction.Transaction{Type: transaction.TypeUse, Result: transaction.ResultSuccess}).Cancellable())
	assert.False(t, (&transaction.Transaction{Type: transaction.TypeUse, Result: transaction.ResultFailed}).Cancellable())
	assert.False(t, (&transaction.Transaction{Type: transaction.TypeCancel, Result: transaction.ResultSuccess}).Cancellable())
}

func TestNewToken(t *testing.T) {
	a := transaction.NewToken()
	b := transaction.NewToken()

	assert.Len(t, a, 32)
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, transaction.TypeUse.Valid())
	assert.True(t, transaction.TypeCancel.Valid())
	assert.False(t, transaction.Type("refund").Valid())
	assert.True(t, transaction.ResultSuccess.Valid())
	assert.False(t, transaction.ResultType("").Valid())
}

func TestParseEnums(t *testing.T) {
	typ, err := transaction.ParseType("cancel")
	require.NoError(t, err)
	assert.Equal(t, transaction.TypeCancel, typ)

	_, err = transaction.ParseType("refund")
	assert.Error(t, err)

	result, err := transaction.ParseResultType("failed")
	require.NoError(t, err)
	assert.Equal(t, transaction.ResultFailed, result)

	_, err = transaction.ParseResultType("SUCCESS")
	assert.Error(t, err)
}
