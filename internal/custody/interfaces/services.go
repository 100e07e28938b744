package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WhitelistService manages withdrawal destinations and their verification
type WhitelistService interface {
	AddAddress(ctx context.Context, userID uuid.UUID, address string, asset Asset, label string) (*AddAddressResult, error)
	ReissueVerificationToken(ctx context.Context, userID, addressID uuid.UUID) (*AddAddressResult, error)
	VerifyAddress(ctx context.Context, userID uuid.UUID, token string) (*WhitelistAddress, error)
	SetPrimaryAddress(ctx context.Context, userID, addressID uuid.UUID) error
	DeactivateAddress(ctx context.Context, userID, addressID uuid.UUID) error
	ListAddresses(ctx context.Context, userID uuid.UUID) ([]*WhitelistAddress, error)
	ListVerifiedForWithdrawal(ctx context.Context, userID uuid.UUID) ([]*WhitelistAddress, error)
}

// WithdrawalService drives withdrawals through the settlement pipeline
type WithdrawalService interface {
	InitiateWithdrawal(ctx context.Context, req *WithdrawalRequest) (*Withdrawal, error)
	InitiateWithdrawalWith2FA(ctx context.Context, req *WithdrawalRequest, code string) (*Withdrawal, error)
	GetWithdrawalHistory(ctx context.Context, userID uuid.UUID, filter HistoryFilter) (*HistoryPage, error)
	GetWithdrawalDetails(ctx context.Context, userID, withdrawalID uuid.UUID) (*WithdrawalDetails, error)
	Settle(ctx context.Context, withdrawalID uuid.UUID) error
}

// FeeCalculator computes the fee schedule for an asset/chain pair
type FeeCalculator interface {
	Calculate(asset Asset, amount decimal.Decimal, chain Chain) (*FeeQuote, error)
	DefaultChain(asset Asset) (Chain, error)
}

// TokenIssuer creates single-use verification credentials
type TokenIssuer interface {
	Issue(addressID uuid.UUID) (plaintext string, rec *AddressVerification, err error)
	LookupHash(plaintext string) string
	Matches(plaintext string, rec *AddressVerification) bool
}

// SettlementClient is the boundary adapter to the custody provider
type SettlementClient interface {
	AssetID(asset Asset, chain Chain) (string, error)
	Payout(ctx context.Context, req *PayoutRequest) (*PayoutResult, error)
	HealthCheck(ctx context.Context) error
}

// SettlementQueue hands withdrawals off to the asynchronous settlement path.
// The queue carries only IDs; the PENDING row is the durable record, so a
// durable broker can replace the in-process implementation.
type SettlementQueue interface {
	Enqueue(ctx context.Context, withdrawalID uuid.UUID) error
}

// TwoFactorVerifier checks a second-factor code for a user
type TwoFactorVerifier interface {
	Verify(ctx context.Context, userID uuid.UUID, code string) (bool, error)
}

// Notifier delivers out-of-band messages. Delivery failures must never roll
// back the write that triggered them.
type Notifier interface {
	SendVerificationToken(ctx context.Context, userID uuid.UUID, address *WhitelistAddress, token string) error
	SendWithdrawalUpdate(ctx context.Context, w *Withdrawal) error
}

// EventPublisher fans engine events out to the configured destinations
type EventPublisher interface {
	Publish(ctx context.Context, event *EngineEvent) error
}

// EngineEvent is the envelope published for observable state changes
type EngineEvent struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	UserID    uuid.UUID         `json:"user_id"`
	EntityID  uuid.UUID         `json:"entity_id"`
	Asset     Asset             `json:"asset,omitempty"`
	Status    string            `json:"status,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event types emitted by the engine
const (
	EventAddressAdded        = "custody.address.added"
	EventAddressVerified     = "custody.address.verified"
	EventAddressPrimarySet   = "custody.address.primary_set"
	EventAddressDeactivated  = "custody.address.deactivated"
	EventWithdrawalInitiated = "custody.withdrawal.initiated"
	EventWithdrawalSettling  = "custody.withdrawal.settling"
	EventWithdrawalCompleted = "custody.withdrawal.completed"
	EventWithdrawalFailed    = "custody.withdrawal.failed"
)

// Repository is the data access layer for the custody engine
type Repository interface {
	// Whitelist addresses
	CreateAddress(ctx context.Context, addr *WhitelistAddress) error
	GetAddress(ctx context.Context, addressID uuid.UUID) (*WhitelistAddress, error)
	GetActiveAddressByValue(ctx context.Context, userID uuid.UUID, address string, asset Asset) (*WhitelistAddress, error)
	ListUserAddresses(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*WhitelistAddress, error)
	ListVerifiedAddresses(ctx context.Context, userID uuid.UUID) ([]*WhitelistAddress, error)
	PromotePrimaryAddress(ctx context.Context, userID, addressID uuid.UUID) error
	DeactivateAddress(ctx context.Context, addressID uuid.UUID, at time.Time) error

	// Verification records
	CreateVerification(ctx context.Context, rec *AddressVerification) error
	GetVerificationByLookupHash(ctx context.Context, lookupHash string) (*AddressVerification, error)
	ConsumeVerification(ctx context.Context, verificationID, addressID uuid.UUID, at time.Time) (bool, error)

	// Withdrawals
	CreateWithdrawal(ctx context.Context, w *Withdrawal) error
	GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID uuid.UUID, filter HistoryFilter) ([]*Withdrawal, int64, error)
	ListStaleWithdrawals(ctx context.Context, olderThan time.Time) ([]*Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, withdrawalID uuid.UUID, from, to WithdrawalStatus, updates map[string]interface{}) (bool, error)

	// Transaction support and lifecycle
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	AutoMigrate() error
	HealthCheck(ctx context.Context) error
}
