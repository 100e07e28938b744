// Package withdrawal drives withdrawal requests through the settlement
// pipeline: PENDING -> PROCESSING -> {COMPLETED, FAILED}.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
	"github.com/orbitax/custody/pkg/metrics"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Orchestrator implements interfaces.WithdrawalService. It is the sole
// writer of withdrawal status; every transition is a single guarded update,
// so terminal states are immutable and readers always observe a well-defined
// state.
type Orchestrator struct {
	repository interfaces.Repository
	fees       interfaces.FeeCalculator
	client     interfaces.SettlementClient
	queue      interfaces.SettlementQueue
	twoFactor  interfaces.TwoFactorVerifier
	notifier   interfaces.Notifier
	events     interfaces.EventPublisher
	logger     *zap.Logger
}

// NewOrchestrator creates a withdrawal orchestrator
func NewOrchestrator(
	repository interfaces.Repository,
	fees interfaces.FeeCalculator,
	client interfaces.SettlementClient,
	queue interfaces.SettlementQueue,
	twoFactor interfaces.TwoFactorVerifier,
	notifier interfaces.Notifier,
	events interfaces.EventPublisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		repository: repository,
		fees:       fees,
		client:     client,
		queue:      queue,
		twoFactor:  twoFactor,
		notifier:   notifier,
		events:     events,
		logger:     logger,
	}
}

// InitiateWithdrawal validates the request, computes fees, and persists one
// PENDING row with the destination address copied at this instant. The
// settlement step is handed to the queue; the caller never blocks on it.
func (o *Orchestrator) InitiateWithdrawal(ctx context.Context, req *interfaces.WithdrawalRequest) (*interfaces.Withdrawal, error) {
	if !req.Asset.Valid() {
		return nil, fmt.Errorf("unsupported asset %q: %w", req.Asset, interfaces.ErrValidation)
	}

	addr, err := o.repository.GetAddress(ctx, req.AddressID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrAddressNotEligible
		}
		return nil, fmt.Errorf("failed to load destination address: %w", err)
	}
	if addr.UserID != req.UserID || !addr.IsVerified || !addr.Active() {
		return nil, interfaces.ErrAddressNotEligible
	}
	if addr.Asset != req.Asset {
		return nil, fmt.Errorf("address is whitelisted for %s, not %s: %w", addr.Asset, req.Asset, interfaces.ErrValidation)
	}

	chain := req.Chain
	if chain == "" {
		chain, err = o.fees.DefaultChain(req.Asset)
		if err != nil {
			return nil, err
		}
	}

	// Fee failures abort before any record is written.
	quote, err := o.fees.Calculate(req.Asset, req.Amount, chain)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	w := &interfaces.Withdrawal{
		ID:             uuid.New(),
		UserID:         req.UserID,
		AddressID:      addr.ID,
		Asset:          req.Asset,
		Chain:          quote.Chain,
		Amount:         req.Amount,
		Fee:            quote.Fee,
		ReceivedAmount: quote.ReceivedAmount,
		ToAddress:      addr.Address,
		Status:         interfaces.WithdrawalStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.repository.CreateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}
	metrics.WithdrawalsByStatus.WithLabelValues(string(interfaces.WithdrawalStatusPending)).Inc()

	o.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventWithdrawalInitiated,
		UserID:    req.UserID,
		EntityID:  w.ID,
		Asset:     req.Asset,
		Status:    string(w.Status),
		Timestamp: now,
	})

	o.logger.Info("withdrawal initiated",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("asset", string(req.Asset)),
		zap.String("chain", string(quote.Chain)),
		zap.String("amount", req.Amount.String()),
		zap.String("fee", quote.Fee.String()),
	)

	// The PENDING row is the durable record: when the enqueue fails, the
	// stale sweep re-enqueues the row instead of failing the accepted
	// request.
	if err := o.queue.Enqueue(ctx, w.ID); err != nil {
		o.logger.Error("failed to enqueue settlement",
			zap.String("withdrawal_id", w.ID.String()),
			zap.Error(err),
		)
	}

	return w, nil
}

// InitiateWithdrawalWith2FA checks the second factor before initiating.
// A failed check performs no writes.
func (o *Orchestrator) InitiateWithdrawalWith2FA(ctx context.Context, req *interfaces.WithdrawalRequest, code string) (*interfaces.Withdrawal, error) {
	ok, err := o.twoFactor.Verify(ctx, req.UserID, code)
	if err != nil {
		return nil, fmt.Errorf("2FA verification failed: %w", err)
	}
	if !ok {
		return nil, interfaces.ErrInvalid2FACode
	}
	return o.InitiateWithdrawal(ctx, req)
}

// Settle executes the asynchronous settlement step for one withdrawal. It
// never returns provider failures to the caller: those terminate the record
// as FAILED with a human-readable reason, and no automatic retry happens —
// resubmission is an explicit operator action.
func (o *Orchestrator) Settle(ctx context.Context, withdrawalID uuid.UUID) error {
	w, err := o.repository.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return fmt.Errorf("failed to load withdrawal %s: %w", withdrawalID, err)
	}

	ok, err := o.repository.TransitionWithdrawal(ctx, w.ID,
		interfaces.WithdrawalStatusPending, interfaces.WithdrawalStatusProcessing, nil)
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal %s to processing: %w", w.ID, err)
	}
	if !ok {
		// Already picked up or already terminal; nothing to do.
		return nil
	}
	metrics.WithdrawalsByStatus.WithLabelValues(string(interfaces.WithdrawalStatusProcessing)).Inc()

	o.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventWithdrawalSettling,
		UserID:    w.UserID,
		EntityID:  w.ID,
		Asset:     w.Asset,
		Status:    string(interfaces.WithdrawalStatusProcessing),
		Timestamp: time.Now(),
	})

	assetID, err := o.client.AssetID(w.Asset, w.Chain)
	if err != nil {
		return o.failWithdrawal(ctx, w, fmt.Sprintf("no provider asset mapping: %v", err))
	}

	// The memo is a stable reference so retried settlement attempts remain
	// distinguishable on the provider side.
	result, err := o.client.Payout(ctx, &interfaces.PayoutRequest{
		AssetID:     assetID,
		Amount:      w.ReceivedAmount,
		Destination: w.ToAddress,
		Memo:        fmt.Sprintf("Withdrawal #%s", w.ID),
	})
	if err != nil {
		return o.failWithdrawal(ctx, w, summarizePayoutError(err))
	}

	if !result.Submitted() {
		// Provider reported an intermediate status; record identifiers and
		// stay PROCESSING until an operator or reconciler resolves it.
		_, err = o.repository.TransitionWithdrawal(ctx, w.ID,
			interfaces.WithdrawalStatusProcessing, interfaces.WithdrawalStatusProcessing,
			map[string]interface{}{
				"tx_hash":        result.TxHash,
				"provider_tx_id": result.ProviderTxID,
			})
		if err != nil {
			return fmt.Errorf("failed to record provider reference for %s: %w", w.ID, err)
		}
		o.logger.Info("withdrawal awaiting provider confirmation",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("provider_status", result.Status),
		)
		return nil
	}

	now := time.Now()
	ok, err = o.repository.TransitionWithdrawal(ctx, w.ID,
		interfaces.WithdrawalStatusProcessing, interfaces.WithdrawalStatusCompleted,
		map[string]interface{}{
			"tx_hash":        result.TxHash,
			"provider_tx_id": result.ProviderTxID,
			"completed_at":   now,
		})
	if err != nil {
		return fmt.Errorf("failed to complete withdrawal %s: %w", w.ID, err)
	}
	if !ok {
		o.logger.Warn("withdrawal no longer processing at completion",
			zap.String("withdrawal_id", w.ID.String()))
		return nil
	}
	metrics.WithdrawalsByStatus.WithLabelValues(string(interfaces.WithdrawalStatusCompleted)).Inc()

	o.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventWithdrawalCompleted,
		UserID:    w.UserID,
		EntityID:  w.ID,
		Asset:     w.Asset,
		Status:    string(interfaces.WithdrawalStatusCompleted),
		TxHash:    result.TxHash,
		Timestamp: now,
	})
	o.notifyUpdate(ctx, w.ID)

	o.logger.Info("withdrawal completed",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("tx_hash", result.TxHash),
	)
	return nil
}

// GetWithdrawalHistory returns a filtered, paginated view of the user's
// withdrawals. Filtering and paging are pushed to the datastore.
func (o *Orchestrator) GetWithdrawalHistory(ctx context.Context, userID uuid.UUID, filter interfaces.HistoryFilter) (*interfaces.HistoryPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	withdrawals, total, err := o.repository.ListWithdrawals(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}

	return &interfaces.HistoryPage{
		Withdrawals: withdrawals,
		Total:       total,
		HasMore:     int64(filter.Offset+len(withdrawals)) < total,
	}, nil
}

// GetWithdrawalDetails returns one withdrawal joined with its source address
// snapshot. Foreign ownership reads as absent.
func (o *Orchestrator) GetWithdrawalDetails(ctx context.Context, userID, withdrawalID uuid.UUID) (*interfaces.WithdrawalDetails, error) {
	w, err := o.repository.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, interfaces.ErrNotFound
	}

	addr, err := o.repository.GetAddress(ctx, w.AddressID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source address: %w", err)
	}

	return &interfaces.WithdrawalDetails{
		Withdrawal: w,
		Address:    addr,
	}, nil
}

func (o *Orchestrator) failWithdrawal(ctx context.Context, w *interfaces.Withdrawal, reason string) error {
	ok, err := o.repository.TransitionWithdrawal(ctx, w.ID,
		interfaces.WithdrawalStatusProcessing, interfaces.WithdrawalStatusFailed,
		map[string]interface{}{"failure_reason": reason})
	if err != nil {
		return fmt.Errorf("failed to mark withdrawal %s failed: %w", w.ID, err)
	}
	if !ok {
		return nil
	}
	metrics.WithdrawalsByStatus.WithLabelValues(string(interfaces.WithdrawalStatusFailed)).Inc()

	o.publish(ctx, &interfaces.EngineEvent{
		ID:        uuid.New(),
		Type:      interfaces.EventWithdrawalFailed,
		UserID:    w.UserID,
		EntityID:  w.ID,
		Asset:     w.Asset,
		Status:    string(interfaces.WithdrawalStatusFailed),
		Timestamp: time.Now(),
		Metadata:  map[string]string{"reason": reason},
	})
	o.notifyUpdate(ctx, w.ID)

	o.logger.Warn("withdrawal failed",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (o *Orchestrator) notifyUpdate(ctx context.Context, withdrawalID uuid.UUID) {
	if o.notifier == nil {
		return
	}
	w, err := o.repository.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		o.logger.Warn("failed to reload withdrawal for notification", zap.Error(err))
		return
	}
	if err := o.notifier.SendWithdrawalUpdate(ctx, w); err != nil {
		o.logger.Warn("failed to send withdrawal notification",
			zap.String("withdrawal_id", withdrawalID.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, event *interfaces.EngineEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Warn("failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}

func summarizePayoutError(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrProviderRejected):
		return fmt.Sprintf("provider rejected payout: %v", err)
	case errors.Is(err, interfaces.ErrProviderUnavailable):
		return fmt.Sprintf("provider unavailable: %v", err)
	default:
		return fmt.Sprintf("settlement error: %v", err)
	}
}
