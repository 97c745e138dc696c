package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// Sign returns +1 when a transaction of txType increases the balance of an
// account of accountType and -1 when it decreases it. Debits increase asset and
// expense accounts; credits increase liability, equity and revenue accounts.
func Sign(accountType AccountType, txType TransactionType) (int, error) {
	if !accountType.Valid() {
		return 0, shared.Validation(fmt.Sprintf("ledger: invalid account type %q", accountType))
	}
	if !txType.Valid() {
		return 0, ErrInvalidTransactionType
	}
	debitNormal := accountType == AccountTypeAsset || accountType == AccountTypeExpense
	if debitNormal == (txType == Debit) {
		return 1, nil
	}
	return -1, nil
}

// Apply returns the balance after applying amount on the given side.
func Apply(accountType AccountType, txType TransactionType, balance, amount decimal.Decimal) (decimal.Decimal, error) {
	sign, err := Sign(accountType, txType)
	if err != nil {
		return balance, err
	}
	if sign > 0 {
		return balance.Add(amount), nil
	}
	return balance.Sub(amount), nil
}
