// Package mailer sends transactional mail (invitations, password resets)
// over SMTP. The transport is resolved from the admin-managed settings bag
// first, then from the environment-level fallback.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/wneessen/go-mail"

	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/config"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// ErrNotConfigured is returned when mail sending is requested but no SMTP
// transport is enabled.
var ErrNotConfigured = errors.New("smtp is not configured")

// transport is a resolved SMTP endpoint.
type transport struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Secure   bool
}

func (t transport) fingerprint() string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%t", t.Host, t.Port, t.User, t.Password, t.From, t.Secure)
}

// Mailer resolves the SMTP transport and sends mail. The go-mail client is
// cached and rebuilt only when the resolved transport changes.
type Mailer struct {
	store    *store.GORMStore
	fallback config.EmailConfig

	mu          sync.Mutex
	client      *mail.Client
	fingerprint string
}

// New creates a mailer backed by the settings bag with the given
// environment fallback.
func New(st *store.GORMStore, fallback config.EmailConfig) *Mailer {
	return &Mailer{store: st, fallback: fallback}
}

// Invalidate drops the cached client. Call after the SMTP settings change.
func (m *Mailer) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = nil
	m.fingerprint = ""
}

// Enabled reports whether any SMTP transport is currently enabled.
func (m *Mailer) Enabled(ctx context.Context) bool {
	_, err := m.resolve(ctx)
	return err == nil
}

// resolve picks the active transport: settings bag when smtp.enabled is
// true, otherwise the environment fallback when email is enabled there.
func (m *Mailer) resolve(ctx context.Context) (transport, error) {
	enabled, err := m.store.GetSetting(ctx, models.SettingSMTPEnabled)
	if err == nil && parseBool(enabled) {
		t, err := m.settingsTransport(ctx)
		if err != nil {
			return transport{}, err
		}
		return t, nil
	}

	if m.fallback.Enabled && m.fallback.SMTPHost != "" {
		return transport{
			Host:     m.fallback.SMTPHost,
			Port:     m.fallback.SMTPPort,
			User:     m.fallback.SMTPUser,
			Password: m.fallback.SMTPPassword,
			From:     m.fallback.SMTPFrom,
			Secure:   m.fallback.SMTPSecure,
		}, nil
	}
	return transport{}, ErrNotConfigured
}

func (m *Mailer) settingsTransport(ctx context.Context) (transport, error) {
	get := func(key string) string {
		v, err := m.store.GetSetting(ctx, key)
		if err != nil {
			return ""
		}
		return v
	}

	t := transport{
		Host:     get(models.SettingSMTPHost),
		User:     get(models.SettingSMTPUser),
		Password: get(models.SettingSMTPPassword),
		From:     get(models.SettingSMTPFrom),
		Secure:   parseBool(get(models.SettingSMTPSecure)),
	}
	if t.Host == "" {
		return transport{}, ErrNotConfigured
	}
	t.Port, _ = strconv.Atoi(get(models.SettingSMTPPort))
	if t.Port == 0 {
		t.Port = config.DefaultSMTPPort
	}
	return t, nil
}

// clientFor returns a go-mail client for the transport, reusing the cached
// one when the transport has not changed.
func (m *Mailer) clientFor(t transport) (*mail.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := t.fingerprint()
	if m.client != nil && m.fingerprint == fp {
		return m.client, nil
	}

	opts := []mail.Option{
		mail.WithPort(t.Port),
	}
	if t.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.User),
			mail.WithPassword(t.Password),
		)
	}
	if t.Secure {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(t.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	m.client = client
	m.fingerprint = fp
	return client, nil
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	t, err := m.resolve(ctx)
	if err != nil {
		return err
	}
	client, err := m.clientFor(t)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(t.From); err != nil {
		return fmt.Errorf("invalid from address %q: %w", t.From, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	logger.Debug("mail sent", "to", to, "subject", subject)
	return nil
}

// SendInvitation mails a registration invitation link.
func (m *Mailer) SendInvitation(ctx context.Context, to, inviterName, link string) error {
	body := fmt.Sprintf(
		"%s invited you to join Strongbox.\n\n"+
			"Create your account here:\n%s\n\n"+
			"The link expires, so register soon.\n",
		inviterName, link)
	return m.send(ctx, to, "You have been invited to Strongbox", body)
}

// SendPasswordReset mails a password reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, link string) error {
	body := fmt.Sprintf(
		"A password reset was requested for your Strongbox account.\n\n"+
			"Reset your password here:\n%s\n\n"+
			"If you did not request this, you can ignore this message.\n",
		link)
	return m.send(ctx, to, "Reset your Strongbox password", body)
}

// SendTest sends a short test message so admins can verify the SMTP
// configuration.
func (m *Mailer) SendTest(ctx context.Context, to string) error {
	return m.send(ctx, to, "Strongbox SMTP test",
		"This is a test message. Your SMTP configuration works.\n")
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
