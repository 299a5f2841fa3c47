package models

import "time"

// Account holds a user's spendable balance in internal credits.
type Account struct {
	UserID    string    `gorm:"primaryKey;type:varchar(64)" json:"userId"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Account) TableName() string {
	return "account"
}

// LedgerEntry is an append-only record of one debit or credit.
// Amount is negative for debits.
type LedgerEntry struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string    `gorm:"type:varchar(64);index" json:"userId"`
	RunID         string    `gorm:"type:varchar(64)" json:"runId,omitempty"`
	OperationKind string    `gorm:"type:varchar(32)" json:"operationKind"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balanceAfter"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
