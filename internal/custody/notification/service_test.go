package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

type staticDirectory map[uuid.UUID]string

func (d staticDirectory) EmailFor(ctx context.Context, userID uuid.UUID) (string, error) {
	email, ok := d[userID]
	if !ok {
		return "", fmt.Errorf("no email for user %s", userID)
	}
	return email, nil
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(dir Directory) (*Service, *capturedMail) {
	captured := &capturedMail{}
	svc := NewService(EmailConfig{
		SMTPHost:    "mail.example.com",
		SMTPPort:    587,
		FromAddress: "noreply@example.com",
		FromName:    "Custody",
	}, dir, zap.NewNop())
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = string(msg)
		return nil
	}
	return svc, captured
}

func TestSendVerificationToken(t *testing.T) {
	userID := uuid.New()
	svc, mail := newCapturingService(staticDirectory{userID: "alice@example.com"})

	addr := &interfaces.WhitelistAddress{
		ID:      uuid.New(),
		UserID:  userID,
		Address: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
		Asset:   interfaces.AssetETH,
	}

	require.NoError(t, svc.SendVerificationToken(context.Background(), userID, addr, "deadbeef"))

	assert.Equal(t, "mail.example.com:587", mail.addr)
	assert.Equal(t, "noreply@example.com", mail.from)
	assert.Equal(t, []string{"alice@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "deadbeef")
	assert.Contains(t, mail.msg, addr.Address)
}

func TestSendVerificationTokenUnknownUser(t *testing.T) {
	svc, _ := newCapturingService(staticDirectory{})
	addr := &interfaces.WhitelistAddress{ID: uuid.New(), Asset: interfaces.AssetBTC}
	assert.Error(t, svc.SendVerificationToken(context.Background(), uuid.New(), addr, "tok"))
}

func TestSendWithdrawalUpdate(t *testing.T) {
	userID := uuid.New()
	svc, mail := newCapturingService(staticDirectory{userID: "bob@example.com"})

	now := time.Now()
	w := &interfaces.Withdrawal{
		ID:          uuid.New(),
		UserID:      userID,
		Asset:       interfaces.AssetBTC,
		Amount:      decimal.RequireFromString("0.5"),
		ToAddress:   "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		Status:      interfaces.WithdrawalStatusCompleted,
		TxHash:      "f4184fc5...",
		CompletedAt: &now,
	}

	require.NoError(t, svc.SendWithdrawalUpdate(context.Background(), w))
	assert.Contains(t, mail.msg, "completed")
	assert.Contains(t, mail.msg, w.TxHash)

	failed := &interfaces.Withdrawal{
		ID:            uuid.New(),
		UserID:        userID,
		Asset:         interfaces.AssetBTC,
		Amount:        decimal.RequireFromString("0.5"),
		Status:        interfaces.WithdrawalStatusFailed,
		FailureReason: "provider rejected payout",
	}
	require.NoError(t, svc.SendWithdrawalUpdate(context.Background(), failed))
	assert.Contains(t, mail.msg, "provider rejected payout")
}
