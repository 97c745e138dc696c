package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSignTable(t *testing.T) {
	cases := []struct {
		account AccountType
		tx      TransactionType
		want    int
	}{
		{AccountTypeAsset, Debit, 1},
		{AccountTypeExpense, Debit, 1},
		{AccountTypeLiability, Debit, -1},
		{AccountTypeEquity, Debit, -1},
		{AccountTypeRevenue, Debit, -1},
		{AccountTypeAsset, Credit, -1},
		{AccountTypeExpense, Credit, -1},
		{AccountTypeLiability, Credit, 1},
		{AccountTypeEquity, Credit, 1},
		{AccountTypeRevenue, Credit, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.account)+"/"+string(tc.tx), func(t *testing.T) {
			got, err := Sign(tc.account, tc.tx)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestApplyBalance(t *testing.T) {
	bal, err := Apply(AccountTypeAsset, Debit, decimal.NewFromInt(100), decimal.NewFromInt(50))
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.NewFromInt(150)))

	bal, err = Apply(AccountTypeAsset, Credit, bal, decimal.NewFromInt(30))
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.NewFromInt(120)))

	_, err = Apply("bogus", Debit, bal, decimal.NewFromInt(1))
	require.Error(t, err)
	_, err = Apply(AccountTypeAsset, "bogus", bal, decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrInvalidTransactionType)
}

func TestJournalEntryTotals(t *testing.T) {
	entry := JournalEntry{Lines: []JournalLine{
		{Type: Debit, Amount: decimal.RequireFromString("100.10")},
		{Type: Debit, Amount: decimal.RequireFromString("0.20")},
		{Type: Credit, Amount: decimal.RequireFromString("100.30")},
	}}
	require.True(t, entry.TotalDebit().Equal(decimal.RequireFromString("100.30")))
	require.True(t, entry.IsBalanced())

	entry.Lines[2].Amount = decimal.RequireFromString("100.29")
	require.False(t, entry.IsBalanced())
}
