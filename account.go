package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"chmsapp/pkg/mailer"
	"chmsapp/pkg/token"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordPolicy is returned for passwords below the minimum length.
var ErrPasswordPolicy = errors.New("password too short (min 6)")

// MailDispatcher is the slice of pkg/mailer the account service needs.
type MailDispatcher interface {
	Dispatch(env mailer.Envelope) mailer.Receipt
}

// AccountService orchestrates the forgot-password and reset-password flows
// across the credential store, the token service and the notification
// gateway. It holds no user state; reset tokens are single-use, tracked by
// nonce until their nominal expiry.
type AccountService struct {
	store   UserStore
	tokens  *token.Service
	mail    MailDispatcher
	baseURL string
	from    string
	expose  bool // DebugConfig.ExposeResetToken
	log     *zap.Logger
	used    usedTokens
}

func NewAccountService(store UserStore, tokens *token.Service, mail MailDispatcher, cfg *Config, log *zap.Logger) *AccountService {
	return &AccountService{
		store:   store,
		tokens:  tokens,
		mail:    mail,
		baseURL: cfg.BaseURL,
		from:    cfg.Mail.From,
		expose:  cfg.Debug.ExposeResetToken,
		log:     log,
		used:    usedTokens{seen: map[string]time.Time{}},
	}
}

// ForgotPassword issues a reset token for the user registered under username
// (exact match) and mails them the reset link. It returns a confirmation
// carrying the delivery reference of the queued mail. No token is issued and
// no mail is sent for unknown usernames.
func (s *AccountService) ForgotPassword(ctx context.Context, username string) (string, error) {
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	name := user.Contact.FullName()
	if name == "" {
		name = user.Username
	}

	tok, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", err
	}
	link := fmt.Sprintf("%s/resetPassword?token=%s", s.baseURL, url.QueryEscape(tok))

	html := fmt.Sprintf(`<h3>Hello %s,</h3>
<h4>Here is a link to reset your password.</h4>
<a href=%q>Reset Password</a>
<p>** This link expires in %d minutes **</p>`, name, link, int(s.tokens.TTL().Minutes()))
	if s.expose {
		html += fmt.Sprintf("\n<p>Debug token: %s</p>", tok)
	}

	receipt := s.mail.Dispatch(mailer.Envelope{
		From:    s.from,
		To:      user.Username,
		Subject: "Reset Password",
		HTML:    html,
	})
	s.log.Info("reset link queued",
		zap.String("username", user.Username),
		zap.String("message_id", receipt.MessageID))

	msg := fmt.Sprintf("Email with reset link sent! Delivery reference: %s", receipt.MessageID)
	if s.expose {
		msg = fmt.Sprintf("%s Token: %s", msg, tok)
	}
	return msg, nil
}

// ResetPassword verifies the reset token, stores a new password hash for the
// bound user and mails a confirmation. The token is consumed on first use;
// replays fail even inside the validity window. Only the password column is
// written, so roles and all other fields stay untouched.
func (s *AccountService) ResetPassword(ctx context.Context, tok, newPassword string) (string, error) {
	claims, err := s.tokens.Decode(tok)
	if err != nil {
		return "", err
	}
	if len(newPassword) < 6 {
		return "", ErrPasswordPolicy
	}
	// Consume the nonce only once the input is acceptable, so a rejected
	// password leaves the link usable for a retry.
	if !s.used.consume(claims.ID, claims.ExpiresAt.Time) {
		return "", token.ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateFields(ctx, claims.UserID, map[string]any{"password_hash": hash}); err != nil {
		return "", err
	}
	user, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrUpdateFailed
		}
		return "", err
	}
	name := user.Contact.FullName()
	if name == "" {
		name = user.Username
	}

	receipt := s.mail.Dispatch(mailer.Envelope{
		From:    s.from,
		To:      user.Username,
		Subject: "Password Change Confirmation",
		HTML: fmt.Sprintf(`<h3>Hello %s,</h3>
<h4>Your password has been changed successfully.</h4>`, name),
	})
	s.log.Info("password reset",
		zap.Uint("user_id", user.ID),
		zap.String("message_id", receipt.MessageID))

	return fmt.Sprintf("Password change successful! Delivery reference: %s", receipt.MessageID), nil
}

// usedTokens is the short-lived denylist of consumed token nonces. Entries
// are swept once the token they belong to would have expired anyway.
type usedTokens struct {
	mu   sync.Mutex
	seen map[string]time.Time // jti -> token expiry
}

// consume records jti and reports whether it was fresh.
func (u *usedTokens) consume(jti string, expiry time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := time.Now()
	for id, exp := range u.seen {
		if now.After(exp) {
			delete(u.seen, id)
		}
	}
	if _, dup := u.seen[jti]; dup {
		return false
	}
	u.seen[jti] = expiry
	return true
}
