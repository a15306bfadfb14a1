package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/config"
)

const providerTimeout = 10 * time.Second

// SMSProvider sends text messages through a Fast2SMS-style bulk JSON API.
type SMSProvider struct {
	client      *resty.Client
	route       string
	countryCode string
	logger      *zap.Logger
}

type smsRequest struct {
	Route   string `json:"route"`
	Numbers string `json:"numbers"`
	Message string `json:"message"`
}

type smsResponse struct {
	Return  bool `json:"return"`
	Message any  `json:"message"`
}

// NewSMSProvider creates an SMS provider
func NewSMSProvider(cfg config.SMSConfig, countryCode string, logger *zap.Logger) *SMSProvider {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(providerTimeout).
		SetHeader("authorization", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SMSProvider{
		client:      client,
		route:       cfg.Route,
		countryCode: countryCode,
		logger:      logger.Named("sms"),
	}
}

// Send posts the message to the gateway.
func (p *SMSProvider) Send(ctx context.Context, msg *Message) error {
	phone, err := NormalizePhone(msg.Phone, p.countryCode)
	if err != nil {
		return err
	}

	var out smsResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(smsRequest{Route: p.route, Numbers: digitsOnly(phone), Message: msg.Body}).
		SetResult(&out).
		Post("/dev/bulkV2")
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway: status %d", resp.StatusCode())
	}
	if !out.Return {
		return fmt.Errorf("sms gateway rejected message: %v", out.Message)
	}

	p.logger.Debug("sms sent", zap.String("message_id", msg.ID))
	return nil
}

// WhatsAppProvider sends text messages through the WhatsApp Cloud API.
type WhatsAppProvider struct {
	client        *resty.Client
	phoneNumberID string
	countryCode   string
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

// NewWhatsAppProvider creates a WhatsApp provider
func NewWhatsAppProvider(cfg config.WhatsAppConfig, countryCode string) *WhatsAppProvider {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(providerTimeout).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &WhatsAppProvider{
		client:        client,
		phoneNumberID: cfg.PhoneNumberID,
		countryCode:   countryCode,
	}
}

// Send posts a text message.
func (p *WhatsAppProvider) Send(ctx context.Context, msg *Message) error {
	phone, err := NormalizePhone(msg.Phone, p.countryCode)
	if err != nil {
		return err
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("phoneNumberID", p.phoneNumberID).
		SetBody(whatsAppRequest{
			MessagingProduct: "whatsapp",
			To:               digitsOnly(phone),
			Type:             "text",
			Text:             whatsAppText{Body: msg.Body},
		}).
		Post("/{phoneNumberID}/messages")
	if err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("whatsapp: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// VoiceProvider places outbound IVR calls through the Twilio REST API. The
// call context is stored first so the IVR webhooks can look it up by id.
type VoiceProvider struct {
	client      *resty.Client
	accountSID  string
	from        string
	publicURL   string
	countryCode string
	calls       CallStore
	logger      *zap.Logger
}

type voiceCallResponse struct {
	SID string `json:"sid"`
}

// NewVoiceProvider creates a voice provider
func NewVoiceProvider(cfg config.VoiceConfig, countryCode string, calls CallStore, logger *zap.Logger) *VoiceProvider {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(providerTimeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &VoiceProvider{
		client:      client,
		accountSID:  cfg.AccountSID,
		from:        cfg.FromNumber,
		publicURL:   cfg.PublicURL,
		countryCode: countryCode,
		calls:       calls,
		logger:      logger.Named("voice"),
	}
}

// Send stores the call context and places the call.
func (p *VoiceProvider) Send(ctx context.Context, msg *Message) error {
	phone, err := NormalizePhone(msg.Phone, p.countryCode)
	if err != nil {
		return err
	}

	call := CallContext{Message: msg.Body}
	if msg.Call != nil {
		call = *msg.Call
		if call.Message == "" {
			call.Message = msg.Body
		}
	}
	cid, err := p.calls.Put(ctx, call)
	if err != nil {
		return fmt.Errorf("store call context: %w", err)
	}

	var out voiceCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("accountSID", p.accountSID).
		SetFormData(map[string]string{
			"To":     phone,
			"From":   p.from,
			"Url":    fmt.Sprintf("%s/voice/ivr?cid=%s", p.publicURL, cid),
			"Method": "GET",
		}).
		SetResult(&out).
		Post("/2010-04-01/Accounts/{accountSID}/Calls.json")
	if err != nil {
		return fmt.Errorf("voice call: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("voice call: status %d: %s", resp.StatusCode(), resp.String())
	}

	p.logger.Info("voice call placed",
		zap.String("message_id", msg.ID),
		zap.String("call_sid", out.SID),
		zap.String("cid", cid),
	)
	return nil
}

// ConsoleProvider logs messages instead of sending them. Used in development
// when no gateway credentials are configured.
type ConsoleProvider struct {
	channel Channel
	logger  *zap.Logger
}

// NewConsoleProvider creates a console provider for ch
func NewConsoleProvider(ch Channel, logger *zap.Logger) *ConsoleProvider {
	return &ConsoleProvider{channel: ch, logger: logger.Named("console")}
}

// Send logs the message.
func (p *ConsoleProvider) Send(_ context.Context, msg *Message) error {
	p.logger.Info("notification",
		zap.String("channel", string(p.channel)),
		zap.String("to", msg.Phone),
		zap.String("body", msg.Body),
	)
	return nil
}

// MockProvider records messages and can be told to fail. For tests.
type MockProvider struct {
	mu       sync.Mutex
	sent     []Message
	failures int
	err      error
}

// NewMockProvider creates a mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// FailNext makes the next n sends return err.
func (p *MockProvider) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
	p.err = err
}

// Send records msg unless a failure is pending.
func (p *MockProvider) Send(_ context.Context, msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures > 0 {
		p.failures--
		return p.err
	}
	p.sent = append(p.sent, *msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (p *MockProvider) Sent() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// RegisterConfigured binds the gateways enabled in cfg. Text channels fall
// back to the console provider when their gateway is disabled; voice has no
// fallback.
func RegisterConfigured(d *Dispatcher, cfg config.NotificationConfig, calls CallStore, logger *zap.Logger) {
	if cfg.SMS.Enabled {
		d.Register(ChannelSMS, NewSMSProvider(cfg.SMS, cfg.DefaultCountryCode, logger))
	} else {
		d.Register(ChannelSMS, NewConsoleProvider(ChannelSMS, logger))
	}

	if cfg.WhatsApp.Enabled {
		d.Register(ChannelWhatsApp, NewWhatsAppProvider(cfg.WhatsApp, cfg.DefaultCountryCode))
	} else {
		d.Register(ChannelWhatsApp, NewConsoleProvider(ChannelWhatsApp, logger))
	}

	if cfg.Voice.Enabled {
		d.Register(ChannelVoice, NewVoiceProvider(cfg.Voice, cfg.DefaultCountryCode, calls, logger))
	}
}
