package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodbridge/platform/internal/shared/config"
	"github.com/bloodbridge/platform/internal/shared/types"
)

func TestSMSProviderSend(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dev/bulkV2", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"return": true, "message": ["SMS sent successfully."]}`))
	}))
	defer srv.Close()

	p := NewSMSProvider(config.SMSConfig{BaseURL: srv.URL, APIKey: "secret", Route: "q"}, "91", zap.NewNop())
	err := p.Send(context.Background(), &Message{Phone: "98765 43210", Body: "Urgent: O+ needed"})
	require.NoError(t, err)

	assert.Equal(t, smsRequest{Route: "q", Numbers: "919876543210", Message: "Urgent: O+ needed"}, got)
}

func TestSMSProviderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"return": false, "message": "Invalid Authentication"}`))
	}))
	defer srv.Close()

	p := NewSMSProvider(config.SMSConfig{BaseURL: srv.URL, APIKey: "bad", Route: "q"}, "91", zap.NewNop())
	err := p.Send(context.Background(), &Message{Phone: "9876543210", Body: "x"})
	assert.ErrorContains(t, err, "Invalid Authentication")
}

func TestWhatsAppProviderSend(t *testing.T) {
	var got whatsAppRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewWhatsAppProvider(config.WhatsAppConfig{BaseURL: srv.URL, Token: "tok", PhoneNumberID: "12345"}, "91")
	require.NoError(t, p.Send(context.Background(), &Message{Phone: "9876543210", Body: "hi"}))

	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "919876543210", got.To)
	assert.Equal(t, "hi", got.Text.Body)
}

func TestVoiceProviderStoresContextAndCalls(t *testing.T) {
	calls := NewMemoryCallStore(time.Minute)
	var form map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Calls.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "token", pass)

		assert.NoError(t, r.ParseForm())
		form = map[string]string{
			"To":   r.PostForm.Get("To"),
			"From": r.PostForm.Get("From"),
			"Url":  r.PostForm.Get("Url"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "CA123"}`))
	}))
	defer srv.Close()

	p := NewVoiceProvider(config.VoiceConfig{
		BaseURL:    srv.URL,
		AccountSID: "AC1",
		AuthToken:  "token",
		FromNumber: "+15550001111",
		PublicURL:  "https://example.org",
	}, "91", calls, zap.NewNop())

	requestID := types.NewID()
	err := p.Send(context.Background(), &Message{
		Phone: "9876543210",
		Body:  "Urgent request",
		Call:  &CallContext{DonorName: "Meera", RequestID: requestID, DonorID: types.NewID()},
	})
	require.NoError(t, err)

	assert.Equal(t, "+919876543210", form["To"])
	assert.Equal(t, "+15550001111", form["From"])
	require.Contains(t, form["Url"], "https://example.org/voice/ivr?cid=")

	cid := form["Url"][len("https://example.org/voice/ivr?cid="):]
	stored, err := calls.Get(context.Background(), cid)
	require.NoError(t, err)
	assert.Equal(t, "Meera", stored.DonorName)
	assert.Equal(t, "Urgent request", stored.Message)
	assert.Equal(t, requestID, stored.RequestID)
}

func TestRegisterConfigured(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), zap.NewNop())
	RegisterConfigured(d, config.NotificationConfig{DefaultCountryCode: "91"}, NewMemoryCallStore(time.Minute), zap.NewNop())

	assert.True(t, d.Supports(ChannelSMS))
	assert.True(t, d.Supports(ChannelWhatsApp))
	assert.False(t, d.Supports(ChannelVoice))
}
