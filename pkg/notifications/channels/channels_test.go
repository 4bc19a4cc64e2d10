package channels

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Rito-w/drone/pkg/notifications"
)

type fakeTwilio struct {
	messages []*twilioApi.CreateMessageParams
	calls    []*twilioApi.CreateCallParams
	reply    *twilioApi.ApiV2010Message
	err      error
}

func (f *fakeTwilio) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.messages = append(f.messages, p)
	return f.reply, f.err
}

func (f *fakeTwilio) CreateCall(p *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.calls = append(f.calls, p)
	return &twilioApi.ApiV2010Call{}, f.err
}

type fakeMessenger struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "projects/x/messages/1", f.err
}

func smsNotification() notifications.Notification {
	return notifications.Notification{
		ID:               uuid.New(),
		Title:            "Delivery",
		Content:          "Drone lands in 5 minutes",
		Category:         notifications.CategoryDelivery,
		Level:            notifications.LevelUrgent,
		Channel:          notifications.ChannelSMS,
		RecipientAddress: "+15550001111",
		BusinessID:       "ORD-1001",
		BusinessType:     "order",
		TemplateParams:   map[string]string{"eta": "5m"},
	}
}

func TestTwilioSMS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("sends title and content", func(t *testing.T) {
		t.Parallel()
		api := &fakeTwilio{reply: &twilioApi.ApiV2010Message{}}
		res := NewTwilioSMS(api, "+15559990000").Send(ctx, smsNotification())

		assert.Equal(t, notifications.Delivered(), res)
		require.Len(t, api.messages, 1)
		assert.Equal(t, "+15550001111", *api.messages[0].To)
		assert.Equal(t, "+15559990000", *api.messages[0].From)
		assert.Equal(t, "Delivery: Drone lands in 5 minutes", *api.messages[0].Body)
	})

	t.Run("provider error is the fail reason", func(t *testing.T) {
		t.Parallel()
		api := &fakeTwilio{err: errors.New("21211 invalid 'To' number")}
		res := NewTwilioSMS(api, "+1").Send(ctx, smsNotification())

		assert.False(t, res.OK)
		assert.Equal(t, "21211 invalid 'To' number", res.Reason)
	})

	t.Run("error message in reply", func(t *testing.T) {
		t.Parallel()
		reason := "queue overflow"
		api := &fakeTwilio{reply: &twilioApi.ApiV2010Message{ErrorMessage: &reason}}
		res := NewTwilioSMS(api, "+1").Send(ctx, smsNotification())

		assert.Equal(t, notifications.Failed(reason), res)
	})

	t.Run("missing phone", func(t *testing.T) {
		t.Parallel()
		api := &fakeTwilio{}
		n := smsNotification()
		n.RecipientAddress = ""

		assert.Equal(t, notifications.Failed(ReasonMissingPhone), NewTwilioSMS(api, "+1").Send(ctx, n))
		assert.Empty(t, api.messages)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		api := &fakeTwilio{}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		assert.False(t, NewTwilioSMS(api, "+1").Send(cctx, smsNotification()).OK)
		assert.Empty(t, api.messages)
	})
}

func TestTwilioVoice(t *testing.T) {
	t.Parallel()

	api := &fakeTwilio{}
	n := smsNotification()
	n.Content = "Gate <3> & ready"

	res := NewTwilioVoice(api, "+15559990000", "").Send(context.Background(), n)
	assert.True(t, res.OK)
	require.Len(t, api.calls, 1)
	assert.Equal(t, `<Response><Say voice="alice">Delivery: Gate &lt;3&gt; &amp; ready</Say></Response>`, *api.calls[0].Twiml)

	api.err = errors.New("busy")
	assert.Equal(t, notifications.Failed("busy"), NewTwilioVoice(api, "+1", "man").Send(context.Background(), n))
}

func TestFCMPush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := smsNotification()
	n.Channel = notifications.ChannelPush
	n.RecipientAddress = "device-token"

	client := &fakeMessenger{}
	assert.True(t, NewFCMPush(client).Send(ctx, n).OK)

	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, "device-token", msg.Token)
	assert.Equal(t, "Delivery", msg.Notification.Title)
	assert.Equal(t, "high", msg.Android.Priority)
	assert.Equal(t, map[string]string{
		"eta":             "5m",
		"notification_id": n.ID.String(),
		"category":        "delivery",
		"business_id":     "ORD-1001",
		"business_type":   "order",
	}, msg.Data)

	client.err = errors.New("quota exceeded")
	assert.Equal(t, notifications.Failed("quota exceeded"), NewFCMPush(client).Send(ctx, n))

	n.RecipientAddress = ""
	assert.Equal(t, notifications.Failed(ReasonMissingDeviceToken), NewFCMPush(client).Send(ctx, n))
}

func TestConfigEnabled(t *testing.T) {
	t.Parallel()

	assert.False(t, TwilioConfig{AccountSID: "AC1"}.Enabled())
	assert.True(t, TwilioConfig{AccountSID: "AC1", AuthToken: "t", FromNumber: "+1"}.Enabled())
	assert.False(t, FCMConfig{}.Enabled())
	assert.False(t, WeChatConfig{WebhookURL: "https://example.com"}.Enabled())
	assert.True(t, WeChatConfig{WebhookURL: "https://example.com", Enable: true}.Enabled())

	_, err := NewTwilioClient(TwilioConfig{})
	assert.ErrorIs(t, err, ErrTwilioNotConfigured)
	_, err = NewFCMClient(context.Background(), FCMConfig{})
	assert.ErrorIs(t, err, ErrFCMNotConfigured)
}
