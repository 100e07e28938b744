// Package twofa checks time-based one-time passwords for withdrawal
// authorization.
package twofa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// replayWindow is how long a redeemed code stays blocked. It covers the
// 30-second TOTP step plus the validator's clock skew allowance.
const replayWindow = 90 * time.Second

// SecretSource resolves a user's enrolled TOTP secret. The engine stores no
// user credentials; the embedding platform supplies this.
type SecretSource interface {
	TOTPSecret(ctx context.Context, userID uuid.UUID) (string, error)
}

// Verifier implements interfaces.TwoFactorVerifier using TOTP. When a Redis
// client is configured, each accepted code is single-use within the replay
// window.
type Verifier struct {
	secrets SecretSource
	redis   *redis.Client
	logger  *zap.Logger
}

// NewVerifier creates a TOTP verifier. redisClient may be nil, which
// disables replay protection.
func NewVerifier(secrets SecretSource, redisClient *redis.Client, logger *zap.Logger) *Verifier {
	return &Verifier{
		secrets: secrets,
		redis:   redisClient,
		logger:  logger,
	}
}

// Verify reports whether the code is currently valid for the user
func (v *Verifier) Verify(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	secret, err := v.secrets.TOTPSecret(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve TOTP secret: %w", err)
	}

	if !totp.Validate(code, secret) {
		v.logger.Debug("TOTP validation failed", zap.String("user_id", userID.String()))
		return false, nil
	}

	if v.redis != nil {
		key := fmt.Sprintf("custody:2fa:%s:%s", userID, code)
		fresh, err := v.redis.SetNX(ctx, key, 1, replayWindow).Result()
		if err != nil {
			return false, fmt.Errorf("replay check failed: %w", err)
		}
		if !fresh {
			v.logger.Warn("TOTP code replay rejected", zap.String("user_id", userID.String()))
			return false, nil
		}
	}

	return true, nil
}
