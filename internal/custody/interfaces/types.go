// Package interfaces defines shared types for the custody module
package interfaces

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset represents a supported asset class
type Asset string

const (
	AssetBTC  Asset = "BTC"
	AssetETH  Asset = "ETH"
	AssetUSDC Asset = "USDC"
	AssetUSDT Asset = "USDT"
)

// SupportedAssets lists every asset class the engine accepts
var SupportedAssets = []Asset{AssetBTC, AssetETH, AssetUSDC, AssetUSDT}

// Valid reports whether the asset is part of the closed enumeration
func (a Asset) Valid() bool {
	switch a {
	case AssetBTC, AssetETH, AssetUSDC, AssetUSDT:
		return true
	}
	return false
}

// Chain represents a blockchain network an asset can settle on
type Chain string

const (
	ChainBitcoin  Chain = "Bitcoin"
	ChainEthereum Chain = "Ethereum"
	ChainPolygon  Chain = "Polygon"
)

// WithdrawalStatus represents the settlement pipeline state
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusFailed     WithdrawalStatus = "failed"
)

// Terminal reports whether the status is final and immutable
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusFailed
}

// WhitelistAddress is a user-declared withdrawal destination
type WhitelistAddress struct {
	ID            uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID        uuid.UUID  `json:"user_id" gorm:"type:uuid;index"`
	Address       string     `json:"address" gorm:"size:100;index"`
	Asset         Asset      `json:"asset" gorm:"size:10;index"`
	Label         string     `json:"label" gorm:"size:64"`
	IsVerified    bool       `json:"is_verified" gorm:"default:false"`
	IsPrimary     bool       `json:"is_primary" gorm:"default:false"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Active reports whether the address has not been soft-deactivated
func (a *WhitelistAddress) Active() bool {
	return a.DeactivatedAt == nil
}

// AddressVerification is a single-use verification credential bound to one address.
// The plaintext token is never stored: LookupHash is a deterministic digest used
// to resolve the record, TokenDigest is the salted form checked on redemption.
type AddressVerification struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	AddressID   uuid.UUID  `json:"address_id" gorm:"type:uuid;index"`
	LookupHash  string     `json:"-" gorm:"size:64;uniqueIndex"`
	TokenDigest string     `json:"-" gorm:"size:128"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"index"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Withdrawal is one settlement request against the custody provider.
// ToAddress is copied from the whitelist row at creation time so later
// address edits never alter a submitted withdrawal.
type Withdrawal struct {
	ID             uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID        `json:"user_id" gorm:"type:uuid;index"`
	AddressID      uuid.UUID        `json:"address_id" gorm:"type:uuid;index"`
	Asset          Asset            `json:"asset" gorm:"size:10;index"`
	Chain          Chain            `json:"chain" gorm:"size:20"`
	Amount         decimal.Decimal  `json:"amount" gorm:"type:decimal(20,8)"`
	Fee            decimal.Decimal  `json:"fee" gorm:"type:decimal(20,8)"`
	ReceivedAmount decimal.Decimal  `json:"received_amount" gorm:"type:decimal(20,8)"`
	ToAddress      string           `json:"to_address" gorm:"size:100"`
	Status         WithdrawalStatus `json:"status" gorm:"size:20;index"`
	TxHash         string           `json:"tx_hash,omitempty" gorm:"size:100;index"`
	ProviderTxID   string           `json:"provider_tx_id,omitempty" gorm:"size:100;index"`
	FailureReason  string           `json:"failure_reason,omitempty" gorm:"type:text"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// AddAddressResult is returned when a new address enters the whitelist.
// PlaintextToken is handed out exactly once for out-of-band delivery.
type AddAddressResult struct {
	Address        *WhitelistAddress
	Verification   *AddressVerification
	PlaintextToken string
}

// FeeQuote is the outcome of a fee calculation
type FeeQuote struct {
	Asset          Asset           `json:"asset"`
	Chain          Chain           `json:"chain"`
	Fee            decimal.Decimal `json:"fee"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
}

// WithdrawalRequest is the validated input for initiating a withdrawal
type WithdrawalRequest struct {
	UserID    uuid.UUID       `json:"user_id"`
	AddressID uuid.UUID       `json:"address_id"`
	Asset     Asset           `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	// Chain is optional; empty means the asset's default chain
	Chain Chain `json:"chain,omitempty"`
}

// HistoryFilter selects a page of a user's withdrawals
type HistoryFilter struct {
	Status WithdrawalStatus `json:"status,omitempty"`
	Asset  Asset            `json:"asset,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// HistoryPage is one server-side filtered page plus paging metadata
type HistoryPage struct {
	Withdrawals []*Withdrawal `json:"withdrawals"`
	Total       int64         `json:"total"`
	HasMore     bool          `json:"has_more"`
}

// WithdrawalDetails joins a withdrawal with its source address snapshot
type WithdrawalDetails struct {
	Withdrawal *Withdrawal       `json:"withdrawal"`
	Address    *WhitelistAddress `json:"address"`
}

// PayoutRequest is the provider-facing settlement instruction
type PayoutRequest struct {
	VaultAccountID string
	AssetID        string
	Amount         decimal.Decimal
	Destination    string
	Memo           string
}

// PayoutResult is the provider's answer to a payout instruction
type PayoutResult struct {
	Status       string
	TxHash       string
	ProviderTxID string
}

// Submitted reports whether the provider accepted the payout as final
func (r *PayoutResult) Submitted() bool {
	switch r.Status {
	case "COMPLETED", "CONFIRMED":
		return true
	}
	return false
}
