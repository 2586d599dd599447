// Package twiliowhatsapp sends WhatsApp replies through Twilio and verifies
// inbound webhook signatures.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MaxBodyLength is the longest body Twilio accepts for one WhatsApp message.
const MaxBodyLength = 1600

const whatsappPrefix = "whatsapp:"

// Sender delivers a text reply to a WhatsApp number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used for signature checks.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	api       messageCreator
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

var _ Sender = (*Client)(nil)

// NewClient creates a Client. Missing options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	cfg := resolve(opts)
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{api: client.Api, fromWhats: WhatsAppAddress(cfg.FromWhats)}, nil
}

func resolve(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	return cfg
}

// SendMessage sends body to a WhatsApp number, split into as many messages
// as the Twilio body limit requires.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	for i, part := range SplitBody(body, MaxBodyLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(WhatsAppAddress(to))
		params.SetFrom(c.fromWhats)
		params.SetBody(part)

		if _, err := c.api.CreateMessage(params); err != nil {
			slog.Error("Client.SendMessage: Twilio request failed", "to", to, "part", i, "error", err)
			return fmt.Errorf("failed to send message to %s: %w", to, err)
		}
	}
	slog.Debug("Client.SendMessage: message sent", "to", to)
	return nil
}

// WhatsAppAddress adds the "whatsapp:" channel prefix when missing.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

// PhoneNumber strips the "whatsapp:" channel prefix.
func PhoneNumber(address string) string {
	return strings.TrimPrefix(strings.TrimSpace(address), whatsappPrefix)
}

// SplitBody cuts body into parts of at most limit bytes, preferring line
// breaks. A part never splits a UTF-8 sequence.
func SplitBody(body string, limit int) []string {
	body = strings.TrimSpace(body)
	if len(body) <= limit {
		return []string{body}
	}
	var parts []string
	for len(body) > limit {
		cut := strings.LastIndex(body[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8RuneStart(body[cut]) {
				cut--
			}
		}
		parts = append(parts, strings.TrimSpace(body[:cut]))
		body = strings.TrimSpace(body[cut:])
	}
	if body != "" {
		parts = append(parts, body)
	}
	return parts
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Validator checks the X-Twilio-Signature header of inbound webhooks.
type Validator struct {
	validator twilioclient.RequestValidator
	publicURL string
}

// NewValidator creates a Validator for authToken. publicURL is the webhook
// URL as configured in Twilio; when empty it is rebuilt from the request.
func NewValidator(authToken, publicURL string) *Validator {
	return &Validator{
		validator: twilioclient.NewRequestValidator(authToken),
		publicURL: publicURL,
	}
}

// SignatureHeader carries the Twilio request signature.
const SignatureHeader = "X-Twilio-Signature"

// Validate reports whether r carries a valid signature. r.ParseForm must
// have been called.
func (v *Validator) Validate(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, vals := range r.PostForm {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}
	return v.validator.Validate(v.requestURL(r), params, r.Header.Get(SignatureHeader))
}

func (v *Validator) requestURL(r *http.Request) string {
	if v.publicURL != "" {
		return v.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// MockClient records sent messages for tests.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
