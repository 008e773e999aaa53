package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Credit transaction types. Amount is always stored as a positive magnitude;
// the type carries the direction.
const (
	CreditTxEarn  = "earn"
	CreditTxSpend = "spend"
)

// Credit transaction sources.
const (
	CreditSourceBonus        = "bonus"
	CreditSourceReferral     = "referral"
	CreditSourceSubscription = "subscription"
	CreditSourcePurchase     = "purchase"
	CreditSourceAPICall      = "api_call"
	CreditSourceAdmin        = "admin"
	CreditSourceRefund       = "refund"
)

var validCreditSources = map[string]bool{
	CreditSourceBonus:        true,
	CreditSourceReferral:     true,
	CreditSourceSubscription: true,
	CreditSourcePurchase:     true,
	CreditSourceAPICall:      true,
	CreditSourceAdmin:        true,
	CreditSourceRefund:       true,
}

// IsValidCreditSource reports whether s is a known transaction source.
func IsValidCreditSource(s string) bool { return validCreditSources[s] }

// CreditAccount is the denormalized balance record, one per user.
type CreditAccount struct {
	UserID        uuid.UUID `json:"user_id"`
	Balance       int64     `json:"balance"`
	FrozenBalance int64     `json:"frozen_balance"`
	TotalEarned   int64     `json:"total_earned"`
	TotalSpent    int64     `json:"total_spent"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available returns the spendable part of the balance.
func (a *CreditAccount) Available() int64 {
	return a.Balance - a.FrozenBalance
}

// CreditTransaction is one append-only ledger entry.
type CreditTransaction struct {
	ID           uuid.UUID       `json:"id"`
	Seq          int64           `json:"seq"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         string          `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Source       string          `json:"source"`
	Description  string          `json:"description"`
	ReferenceID  string          `json:"reference_id"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SignedAmount returns the balance delta this entry represents.
func (t *CreditTransaction) SignedAmount() int64 {
	if t.Type == CreditTxSpend {
		return -t.Amount
	}
	return t.Amount
}
