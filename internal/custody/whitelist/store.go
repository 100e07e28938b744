// Package whitelist manages user withdrawal destinations and their
// verification lifecycle.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
	"github.com/orbitax/custody/internal/custody/validator"
	"github.com/orbitax/custody/pkg/metrics"
)

const maxLabelLength = 64

// Store implements interfaces.WhitelistService. It owns the single-primary
// invariant and is the only writer of is_verified / is_primary.
type Store struct {
	repository interfaces.Repository
	issuer     interfaces.TokenIssuer
	notifier   interfaces.Notifier
	events     interfaces.EventPublisher
	logger     *zap.Logger
}

// NewStore creates a whitelist store
func NewStore(
	repository interfaces.Repository,
	issuer interfaces.TokenIssuer,
	notifier interfaces.Notifier,
	events interfaces.EventPublisher,
	logger *zap.Logger,
) *Store {
	return &Store{
		repository: repository,
		issuer:     issuer,
		notifier:   notifier,
		events:     events,
		logger:     logger,
	}
}

// AddAddress validates and inserts a new unverified, non-primary address,
// issues a verification token, and dispatches it out-of-band. The plaintext
// token is also returned to the caller; it is never retrievable again.
func (s *Store) AddAddress(ctx context.Context, userID uuid.UUID, address string, asset interfaces.Asset, label string) (*interfaces.AddAddressResult, error) {
	if !asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q: %w", asset, interfaces.ErrValidation)
	}
	if !validator.Validate(address, asset) {
		return nil, fmt.Errorf("malformed %s address: %w", asset, interfaces.ErrValidation)
	}
	if len(label) > maxLabelLength {
		return nil, fmt.Errorf("label exceeds %d characters: %w", maxLabelLength, interfaces.ErrValidation)
	}

	if _, err := s.repository.GetActiveAddressByValue(ctx, userID, address, asset); err == nil {
		return nil, interfaces.ErrDuplicateAddress
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}

	now := time.Now()
	addr := &interfaces.WhitelistAddress{
		ID:        uuid.New(),
		UserID:    userID,
		Address:   address,
		Asset:     asset,
		Label:     label,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repository.CreateAddress(ctx, addr); err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}

	plaintext, rec, err := s.issuer.Issue(addr.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue verification token: %w", err)
	}
	if err := s.repository.CreateVerification(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist verification record: %w", err)
	}
	metrics.VerificationTokensIssued.Inc()

	// The address write already succeeded: delivery problems are logged,
	// never propagated.
	if err := s.notifier.SendVerificationToken(ctx, userID, addr, plaintext); err != nil {
		s.logger.Warn("failed to send verification token",
			zap.String("address_id", addr.ID.String()),
			zap.Error(err),
		)
	}

	s.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventAddressAdded,
		UserID:    userID,
		EntityID:  addr.ID,
		Asset:     asset,
		Timestamp: now,
	})

	s.logger.Info("whitelist address added",
		zap.String("address_id", addr.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("asset", string(asset)),
	)

	return &interfaces.AddAddressResult{
		Address:        addr,
		Verification:   rec,
		PlaintextToken: plaintext,
	}, nil
}

// ReissueVerificationToken issues a fresh token for an unverified address
// whose original token was lost. Earlier records stay in place; the address
// becomes verified by whichever token redeems first.
func (s *Store) ReissueVerificationToken(ctx context.Context, userID, addressID uuid.UUID) (*interfaces.AddAddressResult, error) {
	addr, err := s.repository.GetAddress(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if addr.UserID != userID || !addr.Active() {
		return nil, interfaces.ErrNotFound
	}
	if addr.IsVerified {
		return nil, fmt.Errorf("address already verified: %w", interfaces.ErrValidation)
	}

	plaintext, rec, err := s.issuer.Issue(addr.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue verification token: %w", err)
	}
	if err := s.repository.CreateVerification(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist verification record: %w", err)
	}
	metrics.VerificationTokensIssued.Inc()

	if err := s.notifier.SendVerificationToken(ctx, userID, addr, plaintext); err != nil {
		s.logger.Warn("failed to send verification token",
			zap.String("address_id", addr.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("verification token reissued",
		zap.String("address_id", addr.ID.String()),
		zap.String("user_id", userID.String()),
	)

	return &interfaces.AddAddressResult{
		Address:        addr,
		Verification:   rec,
		PlaintextToken: plaintext,
	}, nil
}

// VerifyAddress redeems a verification token. Exactly one concurrent
// redemption of the same token can succeed; the consumption update on the
// verification record is the exclusivity point.
func (s *Store) VerifyAddress(ctx context.Context, userID uuid.UUID, token string) (*interfaces.WhitelistAddress, error) {
	rec, err := s.repository.GetVerificationByLookupHash(ctx, s.issuer.LookupHash(token))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrInvalidToken
		}
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}
	if !s.issuer.Matches(token, rec) {
		return nil, interfaces.ErrInvalidToken
	}

	now := time.Now()
	if now.After(rec.ExpiresAt) {
		return nil, interfaces.ErrTokenExpired
	}

	addr, err := s.repository.GetAddress(ctx, rec.AddressID)
	if err != nil {
		return nil, fmt.Errorf("failed to load address for token: %w", err)
	}
	if addr.UserID != userID {
		return nil, interfaces.ErrUnauthorized
	}

	// Token consumption and the verified flip commit together; a failure on
	// either side leaves the token redeemable.
	consumed, err := s.repository.ConsumeVerification(ctx, rec.ID, addr.ID, now)
	if err != nil {
		return nil, fmt.Errorf("token consumption failed: %w", err)
	}
	if !consumed {
		// Someone else redeemed it first.
		return nil, interfaces.ErrInvalidToken
	}
	metrics.VerificationTokensRedeemed.Inc()

	s.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventAddressVerified,
		UserID:    userID,
		EntityID:  addr.ID,
		Asset:     addr.Asset,
		Timestamp: now,
	})

	s.logger.Info("whitelist address verified",
		zap.String("address_id", addr.ID.String()),
		zap.String("user_id", userID.String()),
	)

	return s.repository.GetAddress(ctx, addr.ID)
}

// SetPrimaryAddress promotes a verified address to primary, demoting every
// other address the user holds within one atomic unit.
func (s *Store) SetPrimaryAddress(ctx context.Context, userID, addressID uuid.UUID) error {
	addr, err := s.repository.GetAddress(ctx, addressID)
	if err != nil {
		return err
	}
	// Ownership mismatch and a soft-deleted row both read as absent.
	if addr.UserID != userID || !addr.Active() {
		return interfaces.ErrNotFound
	}
	if !addr.IsVerified {
		return interfaces.ErrNotVerified
	}

	if err := s.repository.PromotePrimaryAddress(ctx, userID, addressID); err != nil {
		return fmt.Errorf("primary promotion failed: %w", err)
	}

	s.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventAddressPrimarySet,
		UserID:    userID,
		EntityID:  addressID,
		Asset:     addr.Asset,
		Timestamp: time.Now(),
	})
	return nil
}

// DeactivateAddress soft-deletes an address, clearing its primary flag.
// Re-deactivating an already-deactivated address is a no-op.
func (s *Store) DeactivateAddress(ctx context.Context, userID, addressID uuid.UUID) error {
	addr, err := s.repository.GetAddress(ctx, addressID)
	if err != nil {
		return err
	}
	if addr.UserID != userID {
		return interfaces.ErrNotFound
	}
	if !addr.Active() {
		return nil
	}

	if err := s.repository.DeactivateAddress(ctx, addressID, time.Now()); err != nil {
		return fmt.Errorf("deactivation failed: %w", err)
	}

	s.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventAddressDeactivated,
		UserID:    userID,
		EntityID:  addressID,
		Asset:     addr.Asset,
		Timestamp: time.Now(),
	})
	return nil
}

// ListAddresses returns the user's non-deactivated addresses
func (s *Store) ListAddresses(ctx context.Context, userID uuid.UUID) ([]*interfaces.WhitelistAddress, error) {
	return s.repository.ListUserAddresses(ctx, userID, true)
}

// ListVerifiedForWithdrawal returns only addresses eligible as withdrawal
// destinations: verified and not deactivated.
func (s *Store) ListVerifiedForWithdrawal(ctx context.Context, userID uuid.UUID) ([]*interfaces.WhitelistAddress, error) {
	return s.repository.ListVerifiedAddresses(ctx, userID)
}

func (s *Store) publish(ctx context.Context, event *interfaces.EngineEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}
