package notifications

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"sync"

	"github.com/Rito-w/drone/pkg/email"
	"github.com/Rito-w/drone/pkg/logger"
)

// ReasonUnsupportedChannel is reported for channels without a sender.
const ReasonUnsupportedChannel = "unsupported channel"

// Result is the outcome of one delivery attempt.
type Result struct {
	OK     bool
	Reason string
}

func Delivered() Result { return Result{OK: true} }

func Failed(reason string) Result { return Result{Reason: reason} }

// ChannelSender performs one delivery attempt over a single channel.
type ChannelSender interface {
	Send(ctx context.Context, n Notification) Result
}

// SenderFunc adapts a function to ChannelSender.
type SenderFunc func(ctx context.Context, n Notification) Result

func (f SenderFunc) Send(ctx context.Context, n Notification) Result { return f(ctx, n) }

// Senders maps channels to their sender. Adding a channel means registering
// a sender, not editing the dispatcher.
type Senders struct {
	mu        sync.RWMutex
	byChannel map[Channel]ChannelSender
}

func NewSenders() *Senders {
	return &Senders{byChannel: make(map[Channel]ChannelSender)}
}

// Register replaces any sender already bound to ch.
func (s *Senders) Register(ch Channel, sender ChannelSender) *Senders {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChannel[ch] = sender
	return s
}

func (s *Senders) Lookup(ch Channel) (ChannelSender, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sender, ok := s.byChannel[ch]
	return sender, ok
}

// Send routes n to the sender of its channel.
func (s *Senders) Send(ctx context.Context, n Notification) Result {
	sender, ok := s.Lookup(n.Channel)
	if !ok || sender == nil {
		return Failed(ReasonUnsupportedChannel)
	}
	return sender.Send(ctx, n)
}

// DefaultSenders wires in-app delivery, email through mailer and logging
// stubs for the remaining channels. A nil mailer leaves email unsupported.
func DefaultSenders(inApp *InAppSender, mailer email.EmailSender, log *slog.Logger) *Senders {
	s := NewSenders().Register(ChannelInApp, inApp)
	if mailer != nil {
		s.Register(ChannelEmail, NewEmailSender(mailer))
	}
	for _, ch := range []Channel{ChannelSMS, ChannelPush, ChannelWechat, ChannelVoice} {
		s.Register(ch, NewStubSender(ch, log))
	}
	return s
}

// InAppSender always succeeds: the content is already stored and readable.
// Live subscribers of the recipient get a copy without blocking delivery.
type InAppSender struct {
	mu     sync.RWMutex
	subs   map[Recipient]map[chan Notification]struct{}
	buffer int
}

func NewInAppSender(buffer int) *InAppSender {
	if buffer < 1 {
		buffer = 16
	}
	return &InAppSender{
		subs:   make(map[Recipient]map[chan Notification]struct{}),
		buffer: buffer,
	}
}

func (s *InAppSender) Send(_ context.Context, n Notification) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subs[n.Recipient()] {
		select {
		case ch <- n.Clone():
		default:
			// slow subscriber; it can still read the stored record
		}
	}
	return Delivered()
}

// Subscribe streams in-app notifications of r until ctx is done.
func (s *InAppSender) Subscribe(ctx context.Context, r Recipient) <-chan Notification {
	ch := make(chan Notification, s.buffer)

	s.mu.Lock()
	if s.subs[r] == nil {
		s.subs[r] = make(map[chan Notification]struct{})
	}
	s.subs[r][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[r], ch)
		if len(s.subs[r]) == 0 {
			delete(s.subs, r)
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch
}

// EmailSender delivers through an email.EmailSender such as Postmark.
type EmailSender struct {
	mailer email.EmailSender
}

func NewEmailSender(mailer email.EmailSender) *EmailSender {
	return &EmailSender{mailer: mailer}
}

func (s *EmailSender) Send(ctx context.Context, n Notification) Result {
	if n.RecipientAddress == "" {
		return Failed("missing recipient email address")
	}

	err := s.mailer.SendEmail(ctx, email.SendEmailParams{
		SendTo:   n.RecipientAddress,
		Subject:  n.Title,
		BodyHTML: "<p>" + strings.ReplaceAll(html.EscapeString(n.Content), "\n", "<br>") + "</p>",
		BodyText: n.Content,
		Tag:      n.Category.String(),
	})
	if err != nil {
		return Failed(err.Error())
	}
	return Delivered()
}

// StubSender logs and reports success. It stands in for providers that are
// not configured.
type StubSender struct {
	channel Channel
	logger  *slog.Logger
}

func NewStubSender(ch Channel, log *slog.Logger) *StubSender {
	if log == nil {
		log = slog.Default()
	}
	return &StubSender{channel: ch, logger: log}
}

func (s *StubSender) Send(ctx context.Context, n Notification) Result {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "stub channel accepted notification",
		logger.NotificationID(n.ID),
		logger.Channel(s.channel.String()),
		logger.Recipient(n.RecipientID, n.RecipientType.String()))
	return Delivered()
}
