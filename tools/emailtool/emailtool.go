// Package emailtool provides tools to send email over SMTP.
package emailtool

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
	"github.com/wneessen/go-mail"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "emailtool")

// Config is the SMTP configuration
type Config struct {
	Host     string
	Port     int
	Secure   bool
	User     string
	Password string
}

type SendEmailRequest struct {
	To      string `json:"to" jsonschema:"description=Recipient email address"`
	Subject string `json:"subject" jsonschema:"description=Email subject"`
	Text    string `json:"text" jsonschema:"description=Email plain text body"`
	HTML    string `json:"html,omitempty" jsonschema:"description=Optional HTML body"`
}

type VerifyConnectionRequest struct{}

// Sender delivers messages, implemented by *mail.Client
type Sender interface {
	DialWithContext(ctx context.Context) error
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
	Close() error
}

// Option configures the email tools
type Option func(*Tools)

// WithSender replaces the SMTP client
func WithSender(sender Sender) Option {
	return func(t *Tools) {
		t.sender = sender
	}
}

// Tools is the group of email tools
type Tools struct {
	cfg    Config
	sender Sender
}

var _ tools.Group = (*Tools)(nil)

// New returns the email tools for the SMTP configuration
func New(cfg Config, opts ...Option) (*Tools, error) {
	t := &Tools{cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	if t.sender == nil {
		client, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		t.sender = client
	}
	return t, nil
}

// NewClient returns SMTP client for the configuration
func NewClient(cfg Config) (*mail.Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("SMTP host is required")
	}
	var opts []mail.Option
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	// the port policy sets a default port, an explicit one must follow it
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create SMTP client")
	}
	return client, nil
}

func (t *Tools) Name() string {
	return "email"
}

func (t *Tools) Description() string {
	return "Send email using SMTP"
}

func (t *Tools) RegisterTools(r tools.Registrar) error {
	if err := r.RegisterTool("sendEmail", "Send an email using SMTP", t.SendEmail); err != nil {
		return err
	}
	return r.RegisterTool("verifyEmailConnection", "Verify SMTP connection is working", t.VerifyConnection)
}

func (t *Tools) SendEmail(ctx context.Context, req SendEmailRequest) (*mcp.ToolResponse, error) {
	msg, err := t.buildMessage(req)
	if err == nil {
		err = t.sender.DialAndSendWithContext(ctx, msg)
	}
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "send_failed", "to", req.To, "err", err.Error())
		return tools.Textf("❌ Failed to send email: %s", err.Error()), nil
	}

	var messageID string
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		messageID = ids[0]
	}
	return tools.Textf("✅ Email sent successfully to %s. Message ID: %s", req.To, messageID), nil
}

func (t *Tools) buildMessage(req SendEmailRequest) (*mail.Msg, error) {
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Subject) == "" || (req.Text == "" && req.HTML == "") {
		return nil, errors.New("Missing required email fields")
	}
	if t.cfg.User == "" {
		return nil, errors.New("SMTP user is not configured")
	}

	msg := mail.NewMsg()
	if err := msg.From(t.cfg.User); err != nil {
		return nil, errors.Wrap(err, "invalid sender")
	}
	if err := msg.To(req.To); err != nil {
		return nil, errors.Wrap(err, "invalid recipient")
	}
	msg.Subject(req.Subject)
	msg.SetMessageID()
	msg.SetDate()

	switch {
	case req.Text != "" && req.HTML != "":
		msg.SetBodyString(mail.TypeTextPlain, req.Text)
		msg.AddAlternativeString(mail.TypeTextHTML, req.HTML)
	case req.HTML != "":
		msg.SetBodyString(mail.TypeTextHTML, req.HTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, req.Text)
	}
	return msg, nil
}

func (t *Tools) VerifyConnection(ctx context.Context, _ VerifyConnectionRequest) (*mcp.ToolResponse, error) {
	if err := t.sender.DialWithContext(ctx); err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "verify_failed", "err", err.Error())
		return tools.Textf("❌ SMTP verification failed: %s", err.Error()), nil
	}
	_ = t.sender.Close()
	return tools.Textf("✅ SMTP connection verified successfully!"), nil
}
