package custody

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

// ChannelQueue is an in-process settlement queue. It carries only withdrawal
// IDs; the PENDING row is the durable record, so an ID dropped at shutdown
// is re-enqueued by the stale sweep.
//
// The buffer channel is never closed: producers send on it concurrently with
// Close, so shutdown is signalled through done instead.
type ChannelQueue struct {
	ch   chan uuid.UUID
	done chan struct{}
	once sync.Once
}

// NewChannelQueue creates a bounded in-process queue
func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ChannelQueue{
		ch:   make(chan uuid.UUID, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue hands a withdrawal ID to the settlement workers. Blocks when the
// queue is full until there is room, the queue closes, or the context ends.
func (q *ChannelQueue) Enqueue(ctx context.Context, withdrawalID uuid.UUID) error {
	select {
	case <-q.done:
		return fmt.Errorf("settlement queue is closed")
	default:
	}

	select {
	case q.ch <- withdrawalID:
		return nil
	case <-q.done:
		return fmt.Errorf("settlement queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new IDs and lets consumers drain the remainder.
// Idempotent.
func (q *ChannelQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

// SettlementWorker consumes the queue and executes the settlement step for
// each withdrawal.
type SettlementWorker struct {
	queue   *ChannelQueue
	settler interfaces.WithdrawalService
	log     *zap.Logger
	workers int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Name implements Worker
func (w *SettlementWorker) Name() string { return "settlement" }

// Start launches the consumer pool
func (w *SettlementWorker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	n := w.workers
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run(runCtx, i)
	}
	return nil
}

func (w *SettlementWorker) run(ctx context.Context, id int) {
	defer w.wg.Done()
	for {
		select {
		case withdrawalID := <-w.queue.ch:
			w.settle(ctx, id, withdrawalID)
		case <-w.queue.done:
			// Queue closed: drain what is already buffered, then exit.
			for {
				select {
				case withdrawalID := <-w.queue.ch:
					w.settle(ctx, id, withdrawalID)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *SettlementWorker) settle(ctx context.Context, id int, withdrawalID uuid.UUID) {
	if err := w.settler.Settle(ctx, withdrawalID); err != nil {
		w.log.Error("settlement attempt failed",
			zap.Int("consumer", id),
			zap.String("withdrawal_id", withdrawalID.String()),
			zap.Error(err),
		)
	}
}

// Stop closes the queue and waits for in-flight settlements to finish
func (w *SettlementWorker) Stop(ctx context.Context) error {
	w.queue.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Deadline hit: cut the consumers loose. Interrupted settlements
		// leave PENDING or PROCESSING rows for the sweep.
		if w.cancel != nil {
			w.cancel()
		}
		<-done
	}
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

// StaleWithdrawalWorker periodically sweeps withdrawals that stopped moving.
// A stale PENDING row means the enqueue was lost (crash, or the queue was
// rejecting at submit time), so it is handed back to the settlement workers.
// A stale PROCESSING row means the process died mid-settlement; the provider
// outcome is unknown, so it is only reported.
type StaleWithdrawalWorker struct {
	repository interfaces.Repository
	queue      interfaces.SettlementQueue
	log        *zap.Logger
	age        time.Duration
	interval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Name implements Worker
func (w *StaleWithdrawalWorker) Name() string { return "stale-withdrawal-sweep" }

// Start launches the periodic sweep
func (w *StaleWithdrawalWorker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	interval := w.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.sweep(runCtx)
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

func (w *StaleWithdrawalWorker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.age)
	stale, err := w.repository.ListStaleWithdrawals(ctx, cutoff)
	if err != nil {
		w.log.Error("stale sweep query failed", zap.Error(err))
		return
	}
	for _, wd := range stale {
		switch wd.Status {
		case interfaces.WithdrawalStatusPending:
			// Re-enqueue is safe: the guarded PENDING to PROCESSING
			// transition makes a duplicate delivery a no-op.
			if err := w.queue.Enqueue(ctx, wd.ID); err != nil {
				w.log.Error("failed to re-enqueue stale pending withdrawal",
					zap.String("withdrawal_id", wd.ID.String()),
					zap.Error(err),
				)
				continue
			}
			w.log.Info("re-enqueued stale pending withdrawal",
				zap.String("withdrawal_id", wd.ID.String()),
				zap.Time("updated_at", wd.UpdatedAt),
			)
		case interfaces.WithdrawalStatusProcessing:
			// Surfaced for operators; the provider outcome is unknown, so no
			// automatic state change is safe here.
			w.log.Warn("withdrawal stuck in processing",
				zap.String("withdrawal_id", wd.ID.String()),
				zap.String("user_id", wd.UserID.String()),
				zap.String("provider_tx_id", wd.ProviderTxID),
				zap.Time("updated_at", wd.UpdatedAt),
			)
		}
	}
}

// Stop halts the sweep
func (w *StaleWithdrawalWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
