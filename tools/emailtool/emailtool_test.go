package emailtool_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/mcp"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/toolchat/tools/emailtool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type fakeSender struct {
	sent    []*mail.Msg
	dialErr error
	sendErr error
	closed  bool
}

func (f *fakeSender) DialWithContext(context.Context) error {
	return f.dialErr
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

var testConfig = emailtool.Config{
	Host: "smtp.example.com",
	Port: 587,
	User: "bot@example.com",
}

func TestSendEmail(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	et, err := emailtool.New(testConfig, emailtool.WithSender(sender))
	require.NoError(t, err)

	res, err := et.SendEmail(ctx, emailtool.SendEmailRequest{
		To:      "alice@example.com",
		Subject: "Status",
		Text:    "All good",
		HTML:    "<p>All good</p>",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Text(), "✅ Email sent successfully to alice@example.com. Message ID: ")

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"Status"}, msg.GetGenHeader(mail.HeaderSubject))
	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, rcpts)
}

func TestSendEmail_Failures(t *testing.T) {
	ctx := context.Background()

	tcases := []struct {
		name   string
		cfg    emailtool.Config
		sender *fakeSender
		req    emailtool.SendEmailRequest
		exp    string
	}{
		{
			name:   "missing fields",
			cfg:    testConfig,
			sender: &fakeSender{},
			req:    emailtool.SendEmailRequest{To: "alice@example.com"},
			exp:    "❌ Failed to send email: Missing required email fields",
		},
		{
			name:   "no user",
			cfg:    emailtool.Config{Host: "smtp.example.com", Port: 587},
			sender: &fakeSender{},
			req:    emailtool.SendEmailRequest{To: "alice@example.com", Subject: "s", Text: "t"},
			exp:    "❌ Failed to send email: SMTP user is not configured",
		},
		{
			name:   "smtp error",
			cfg:    testConfig,
			sender: &fakeSender{sendErr: errors.New("connection refused")},
			req:    emailtool.SendEmailRequest{To: "alice@example.com", Subject: "s", Text: "t"},
			exp:    "❌ Failed to send email: connection refused",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			et, err := emailtool.New(tc.cfg, emailtool.WithSender(tc.sender))
			require.NoError(t, err)
			res, err := et.SendEmail(ctx, tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.exp, res.Text())
			assert.Empty(t, tc.sender.sent)
		})
	}
}

func TestVerifyConnection(t *testing.T) {
	ctx := context.Background()

	sender := &fakeSender{}
	et, err := emailtool.New(testConfig, emailtool.WithSender(sender))
	require.NoError(t, err)
	res, err := et.VerifyConnection(ctx, emailtool.VerifyConnectionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "✅ SMTP connection verified successfully!", res.Text())
	assert.True(t, sender.closed)

	et, err = emailtool.New(testConfig, emailtool.WithSender(&fakeSender{dialErr: errors.New("auth failed")}))
	require.NoError(t, err)
	res, err = et.VerifyConnection(ctx, emailtool.VerifyConnectionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "❌ SMTP verification failed: auth failed", res.Text())
}

func TestNewClient(t *testing.T) {
	_, err := emailtool.NewClient(emailtool.Config{})
	assert.EqualError(t, err, "SMTP host is required")

	client, err := emailtool.NewClient(emailtool.Config{Host: "smtp.example.com", Port: 465, Secure: true, User: "u", Password: "p"})
	require.NoError(t, err)
	assert.NotNil(t, client)

	et, err := emailtool.New(testConfig)
	require.NoError(t, err)

	server := mcp.NewServer("test", "1.0.0")
	require.NoError(t, tools.Register(server, et))
	assert.Equal(t, []string{"sendEmail", "verifyEmailConnection"}, server.ToolNames())
}
