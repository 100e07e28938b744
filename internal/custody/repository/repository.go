// Package repository provides the data access layer for the custody engine
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

// Repository implements interfaces.Repository on top of gorm
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository creates a new custody repository
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Whitelist address operations

// CreateAddress inserts a new whitelist address
func (r *Repository) CreateAddress(ctx context.Context, addr *interfaces.WhitelistAddress) error {
	return r.db.WithContext(ctx).Create(addr).Error
}

// GetAddress retrieves an address by ID
func (r *Repository) GetAddress(ctx context.Context, addressID uuid.UUID) (*interfaces.WhitelistAddress, error) {
	var addr interfaces.WhitelistAddress
	err := r.db.WithContext(ctx).Where("id = ?", addressID).First(&addr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return &addr, nil
}

// GetActiveAddressByValue finds a non-deactivated address by its
// (user, address, asset) tuple. Used for duplicate detection: deactivated
// rows do not count, so a removed address can be re-added.
func (r *Repository) GetActiveAddressByValue(ctx context.Context, userID uuid.UUID, address string, asset interfaces.Asset) (*interfaces.WhitelistAddress, error) {
	var addr interfaces.WhitelistAddress
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND address = ? AND asset = ? AND deactivated_at IS NULL", userID, address, asset).
		First(&addr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return &addr, nil
}

// ListUserAddresses retrieves a user's addresses, newest first
func (r *Repository) ListUserAddresses(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*interfaces.WhitelistAddress, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("deactivated_at IS NULL")
	}
	var addresses []*interfaces.WhitelistAddress
	err := q.Order("created_at DESC").Find(&addresses).Error
	return addresses, err
}

// ListVerifiedAddresses retrieves the user's verified, non-deactivated addresses
func (r *Repository) ListVerifiedAddresses(ctx context.Context, userID uuid.UUID) ([]*interfaces.WhitelistAddress, error) {
	var addresses []*interfaces.WhitelistAddress
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_verified = ? AND deactivated_at IS NULL", userID, true).
		Order("created_at DESC").
		Find(&addresses).Error
	return addresses, err
}

// PromotePrimaryAddress clears every primary flag the user holds and sets it
// on the target, inside one transaction. Concurrent promotions for the same
// user serialize on the row writes; a reader never observes two primaries.
func (r *Repository) PromotePrimaryAddress(ctx context.Context, userID, addressID uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&interfaces.WhitelistAddress{}).
			Where("user_id = ? AND is_primary = ?", userID, true).
			Updates(map[string]interface{}{"is_primary": false, "updated_at": now}).Error; err != nil {
			return err
		}

		res := tx.Model(&interfaces.WhitelistAddress{}).
			Where("id = ? AND user_id = ? AND deactivated_at IS NULL", addressID, userID).
			Updates(map[string]interface{}{"is_primary": true, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// DeactivateAddress soft-deletes the address and clears its primary flag in
// a single atomic update, preserving the row for withdrawal audit trails.
func (r *Repository) DeactivateAddress(ctx context.Context, addressID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&interfaces.WhitelistAddress{}).
		Where("id = ? AND deactivated_at IS NULL", addressID).
		Updates(map[string]interface{}{
			"deactivated_at": at,
			"is_primary":     false,
			"updated_at":     at,
		}).Error
}

// Verification operations

// CreateVerification inserts a new verification record
func (r *Repository) CreateVerification(ctx context.Context, rec *interfaces.AddressVerification) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// GetVerificationByLookupHash resolves a presented token's lookup form
func (r *Repository) GetVerificationByLookupHash(ctx context.Context, lookupHash string) (*interfaces.AddressVerification, error) {
	var rec interfaces.AddressVerification
	err := r.db.WithContext(ctx).Where("lookup_hash = ?", lookupHash).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ConsumeVerification marks a verification record as used and flips its
// address to verified, in one transaction so a crash cannot burn the token
// without verifying the address. The conditional predicate
// (verified_at IS NULL) is the exclusivity point: under concurrent redemption
// exactly one caller sees true.
func (r *Repository) ConsumeVerification(ctx context.Context, verificationID, addressID uuid.UUID, at time.Time) (bool, error) {
	var consumed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&interfaces.AddressVerification{}).
			Where("id = ? AND verified_at IS NULL", verificationID).
			Update("verified_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		consumed = true
		return tx.Model(&interfaces.WhitelistAddress{}).
			Where("id = ?", addressID).
			Updates(map[string]interface{}{
				"is_verified": true,
				"verified_at": at,
				"updated_at":  at,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

// Withdrawal operations

// CreateWithdrawal inserts a new withdrawal row
func (r *Repository) CreateWithdrawal(ctx context.Context, w *interfaces.Withdrawal) error {
	return r.db.WithContext(ctx).Create(w).Error
}

// GetWithdrawal retrieves a withdrawal by ID
func (r *Repository) GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*interfaces.Withdrawal, error) {
	var w interfaces.Withdrawal
	err := r.db.WithContext(ctx).Where("id = ?", withdrawalID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// ListWithdrawals returns a filtered page of a user's withdrawals plus the
// total count matching the filter, both computed server-side.
func (r *Repository) ListWithdrawals(ctx context.Context, userID uuid.UUID, filter interfaces.HistoryFilter) ([]*interfaces.Withdrawal, int64, error) {
	q := r.db.WithContext(ctx).Model(&interfaces.Withdrawal{}).Where("user_id = ?", userID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Asset != "" {
		q = q.Where("asset = ?", filter.Asset)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var withdrawals []*interfaces.Withdrawal
	err := q.Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&withdrawals).Error
	return withdrawals, total, err
}

// ListStaleWithdrawals returns non-terminal rows older than the cutoff:
// PENDING rows whose enqueue was lost, and PROCESSING rows abandoned by a
// crash between transition and settlement.
func (r *Repository) ListStaleWithdrawals(ctx context.Context, olderThan time.Time) ([]*interfaces.Withdrawal, error) {
	var withdrawals []*interfaces.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]interfaces.WithdrawalStatus{interfaces.WithdrawalStatusPending, interfaces.WithdrawalStatusProcessing},
			olderThan).
		Order("updated_at ASC").
		Find(&withdrawals).Error
	return withdrawals, err
}

// TransitionWithdrawal moves a withdrawal from one status to another as a
// single guarded update. Returns false when the row was not in the expected
// source status, which keeps terminal states immutable.
func (r *Repository) TransitionWithdrawal(ctx context.Context, withdrawalID uuid.UUID, from, to interfaces.WithdrawalStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).
		Model(&interfaces.Withdrawal{}).
		Where("id = ? AND status = ?", withdrawalID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Lifecycle operations

// WithTx runs fn inside a database transaction
func (r *Repository) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// AutoMigrate creates or updates the engine's tables
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&interfaces.WhitelistAddress{},
		&interfaces.AddressVerification{},
		&interfaces.Withdrawal{},
	)
}

// HealthCheck pings the database
func (r *Repository) HealthCheck(ctx context.Context) error {
	var result int
	return r.db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error
}
