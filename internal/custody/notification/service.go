// Package notification delivers out-of-band messages to users: verification
// tokens at address registration and status updates as withdrawals settle.
package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

// EmailConfig holds the SMTP server settings
type EmailConfig struct {
	SMTPHost    string `mapstructure:"smtp_host" json:"smtp_host"`
	SMTPPort    int    `mapstructure:"smtp_port" json:"smtp_port"`
	Username    string `mapstructure:"username" json:"username"`
	Password    string `mapstructure:"password" json:"password"`
	FromAddress string `mapstructure:"from_address" json:"from_address"`
	FromName    string `mapstructure:"from_name" json:"from_name"`
}

// Directory resolves a user ID to a deliverable email address. The engine
// stores no user profiles; the embedding platform supplies this.
type Directory interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
}

// sendFunc matches smtp.SendMail, injectable for tests
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service implements interfaces.Notifier over SMTP
type Service struct {
	cfg       EmailConfig
	directory Directory
	logger    *zap.Logger
	send      sendFunc
}

// NewService creates an email notification service
func NewService(cfg EmailConfig, directory Directory, logger *zap.Logger) *Service {
	return &Service{
		cfg:       cfg,
		directory: directory,
		logger:    logger,
		send:      smtp.SendMail,
	}
}

// SendVerificationToken mails the plaintext verification token to the
// address owner. The token appears in the message body and nowhere else.
func (s *Service) SendVerificationToken(ctx context.Context, userID uuid.UUID, addr *interfaces.WhitelistAddress, token string) error {
	email, err := s.directory.EmailFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	subject := fmt.Sprintf("Verify your new %s withdrawal address", addr.Asset)
	body := fmt.Sprintf(
		"A new %s withdrawal address was added to your account:\r\n\r\n"+
			"  %s\r\n\r\n"+
			"Verification code (valid for 24 hours):\r\n\r\n"+
			"  %s\r\n\r\n"+
			"If you did not add this address, contact support immediately.\r\n",
		addr.Asset, addr.Address, token,
	)

	if err := s.sendEmail(email, subject, body); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	s.logger.Info("verification token sent",
		zap.String("user_id", userID.String()),
		zap.String("address_id", addr.ID.String()),
	)
	return nil
}

// SendWithdrawalUpdate mails a withdrawal status change to its owner
func (s *Service) SendWithdrawalUpdate(ctx context.Context, w *interfaces.Withdrawal) error {
	email, err := s.directory.EmailFor(ctx, w.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	subject := fmt.Sprintf("Withdrawal %s: %s %s", w.Status, w.Amount, w.Asset)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Your withdrawal of %s %s to %s is now %s.\r\n",
		w.Amount, w.Asset, w.ToAddress, w.Status)
	if w.TxHash != "" {
		fmt.Fprintf(&sb, "\r\nTransaction hash: %s\r\n", w.TxHash)
	}
	if w.Status == interfaces.WithdrawalStatusFailed && w.FailureReason != "" {
		fmt.Fprintf(&sb, "\r\nReason: %s\r\n", w.FailureReason)
	}

	if err := s.sendEmail(email, subject, sb.String()); err != nil {
		return fmt.Errorf("failed to send withdrawal update: %w", err)
	}

	s.logger.Info("withdrawal update sent",
		zap.String("user_id", w.UserID.String()),
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("status", string(w.Status)),
	)
	return nil
}

func (s *Service) sendEmail(to, subject, body string) error {
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}

	msg := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, s.cfg.FromAddress)
	msg += fmt.Sprintf("To: %s\r\n", to)
	msg += fmt.Sprintf("Subject: %s\r\n", subject)
	msg += "MIME-Version: 1.0\r\n"
	msg += "Content-Type: text/plain; charset=UTF-8\r\n\r\n"
	msg += body

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	return s.send(addr, auth, s.cfg.FromAddress, []string{to}, []byte(msg))
}
