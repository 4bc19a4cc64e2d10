package channels

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Rito-w/drone/pkg/notifications"
)

// MessageCreator is the Twilio messages API. (*twilio.RestClient).Api
// satisfies it.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// CallCreator is the Twilio calls API. (*twilio.RestClient).Api satisfies it.
type CallCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// NewTwilioClient builds a REST client from cfg.
func NewTwilioClient(cfg TwilioConfig) (*twilio.RestClient, error) {
	if !cfg.Enabled() {
		return nil, ErrTwilioNotConfigured
	}
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	}), nil
}

// TwilioSMS sends the notification content as a text message to
// RecipientAddress, an E.164 phone number.
type TwilioSMS struct {
	api  MessageCreator
	from string
}

var _ notifications.ChannelSender = (*TwilioSMS)(nil)

func NewTwilioSMS(api MessageCreator, from string) *TwilioSMS {
	return &TwilioSMS{api: api, from: from}
}

func (s *TwilioSMS) Send(ctx context.Context, n notifications.Notification) notifications.Result {
	if err := ctx.Err(); err != nil {
		return notifications.Failed(err.Error())
	}
	if n.RecipientAddress == "" {
		return notifications.Failed(ReasonMissingPhone)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.RecipientAddress)
	params.SetFrom(s.from)
	params.SetBody(smsBody(n))

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		return notifications.Failed(err.Error())
	}
	if msg != nil && msg.ErrorMessage != nil && *msg.ErrorMessage != "" {
		return notifications.Failed(*msg.ErrorMessage)
	}
	return notifications.Delivered()
}

func smsBody(n notifications.Notification) string {
	if n.Title == "" {
		return n.Content
	}
	return n.Title + ": " + n.Content
}

// TwilioVoice places a call that reads the notification aloud.
type TwilioVoice struct {
	api   CallCreator
	from  string
	voice string
}

var _ notifications.ChannelSender = (*TwilioVoice)(nil)

func NewTwilioVoice(api CallCreator, from, voice string) *TwilioVoice {
	if voice == "" {
		voice = "alice"
	}
	return &TwilioVoice{api: api, from: from, voice: voice}
}

func (s *TwilioVoice) Send(ctx context.Context, n notifications.Notification) notifications.Result {
	if err := ctx.Err(); err != nil {
		return notifications.Failed(err.Error())
	}
	if n.RecipientAddress == "" {
		return notifications.Failed(ReasonMissingPhone)
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(n.RecipientAddress)
	params.SetFrom(s.from)
	params.SetTwiml(twiml(s.voice, smsBody(n)))

	if _, err := s.api.CreateCall(params); err != nil {
		return notifications.Failed(err.Error())
	}
	return notifications.Delivered()
}

func twiml(voice, text string) string {
	var b strings.Builder
	b.WriteString(`<Response><Say voice="`)
	_ = xml.EscapeText(&b, []byte(voice))
	b.WriteString(`">`)
	_ = xml.EscapeText(&b, []byte(text))
	b.WriteString(`</Say></Response>`)
	return b.String()
}
