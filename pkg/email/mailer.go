package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/badoux/checkmail"
	"github.com/go-gomail/gomail"
	"github.com/jpillora/backoff"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

const (
	xMailer            = "powfaucet"
	defaultSendRetries = 3
)

var (
	errInvalidMessage    = errors.New("mail message is not valid")
	errInvalidEmail      = errors.New("email address is not valid")
	errInvalidSMTPURL    = errors.New("unsupported SMTP endpoint")
	errSMTPNotConfigured = errors.New("SMTP endpoint is not configured")
)

type Message struct {
	Subject  string
	Text     string
	HTML     string
	To       string
	From     string
	FromName string
}

func (m *Message) Valid() bool {
	return (m != nil) &&
		len(m.To) > 0 &&
		len(m.From) > 0 &&
		(len(m.HTML) > 0 || len(m.Text) > 0)
}

func (m *Message) validateAddresses() error {
	for _, addr := range []string{m.To, m.From} {
		if err := checkmail.ValidateFormat(addr); err != nil {
			return fmt.Errorf("%w: %q: %w", errInvalidEmail, addr, err)
		}
	}

	return nil
}

func (m *Message) check() error {
	if !m.Valid() {
		return errInvalidMessage
	}

	return m.validateAddresses()
}

func (m *Message) compose() *gomail.Message {
	gm := gomail.NewMessage()

	gm.SetAddressHeader("To", m.To, "")
	gm.SetAddressHeader("From", m.From, m.FromName)
	gm.SetHeader("Subject", m.Subject)
	gm.SetHeader("X-Mailer", xMailer)

	switch {
	case len(m.Text) > 0 && len(m.HTML) > 0:
		gm.SetBody("text/plain", m.Text)
		gm.AddAlternative("text/html", m.HTML)
	case len(m.Text) > 0:
		gm.SetBody("text/plain", m.Text)
	default:
		gm.SetBody("text/html", m.HTML)
	}

	return gm
}

type Sender interface {
	SendEmail(ctx context.Context, msg *Message) error
}

type smtpEndpoint struct {
	host string
	port int
	ssl  bool
}

// parseSMTPEndpoint accepts smtp://host[:port] (STARTTLS when offered,
// port 587 by default) and smtps://host[:port] (implicit TLS, 465).
func parseSMTPEndpoint(rawURL string) (*smtpEndpoint, error) {
	if len(rawURL) == 0 {
		return nil, errSMTPNotConfigured
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidSMTPURL, err)
	}

	ep := &smtpEndpoint{host: u.Hostname()}

	switch u.Scheme {
	case "smtp":
		ep.port = 587
	case "smtps":
		ep.port, ep.ssl = 465, true
	default:
		return nil, fmt.Errorf("%w: %q", errInvalidSMTPURL, u.Scheme)
	}

	if len(ep.host) == 0 {
		return nil, fmt.Errorf("%w: empty host", errInvalidSMTPURL)
	}

	if p := u.Port(); len(p) > 0 {
		if ep.port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("%w: port %q", errInvalidSMTPURL, p)
		}
	}

	return ep, nil
}

// transient failures are network errors and 4xx SMTP replies
func isTransient(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// SMTPSender delivers messages through the relay configured in PC_SMTP_*.
// The endpoint is re-read on every send, so config reloads apply.
type SMTPSender struct {
	endpoint common.ConfigItem
	username common.ConfigItem
	password common.ConfigItem
	Retries  int
	// delay between retries, grows exponentially
	MinBackoff time.Duration
}

var _ Sender = (*SMTPSender)(nil)

func NewMailSender(cfg common.ConfigStore) *SMTPSender {
	return &SMTPSender{
		endpoint:   cfg.Get(common.SmtpEndpointKey),
		username:   cfg.Get(common.SmtpUsernameKey),
		password:   cfg.Get(common.SmtpPasswordKey),
		Retries:    defaultSendRetries,
		MinBackoff: 2 * time.Second,
	}
}

func (s *SMTPSender) dialer() (*gomail.Dialer, error) {
	ep, err := parseSMTPEndpoint(s.endpoint.Value())
	if err != nil {
		return nil, err
	}

	d := gomail.NewDialer(ep.host, ep.port, s.username.Value(), s.password.Value())
	d.SSL = ep.ssl

	return d, nil
}

func (s *SMTPSender) SendEmail(ctx context.Context, msg *Message) error {
	if err := msg.check(); err != nil {
		return err
	}

	d, err := s.dialer()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to configure SMTP", common.ErrAttr(err))
		return err
	}

	b := &backoff.Backoff{Min: s.MinBackoff, Max: 10 * s.MinBackoff, Factor: 2, Jitter: true}
	gm := msg.compose()

	for attempt := 0; ; attempt++ {
		err = d.DialAndSend(gm)
		if err == nil {
			slog.DebugContext(ctx, "Sent email", "email", msg.To, "attempt", attempt)
			return nil
		}

		slog.WarnContext(ctx, "Failed to send an email", "email", msg.To, "host", d.Host, "port", d.Port,
			"attempt", attempt, common.ErrAttr(err))

		if (attempt+1 >= s.Retries) || !isTransient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}
