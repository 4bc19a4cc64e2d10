package notifications

import "fmt"

// Category groups notifications by the business area that raised them.
type Category int8

const (
	CategorySystem    Category = 1
	CategoryOrder     Category = 2
	CategoryPayment   Category = 3
	CategoryDelivery  Category = 4
	CategoryMarketing Category = 5
)

func (c Category) Valid() bool { return c >= CategorySystem && c <= CategoryMarketing }

func (c Category) String() string {
	switch c {
	case CategorySystem:
		return "system"
	case CategoryOrder:
		return "order"
	case CategoryPayment:
		return "payment"
	case CategoryDelivery:
		return "delivery"
	case CategoryMarketing:
		return "marketing"
	}
	return fmt.Sprintf("category(%d)", int8(c))
}

// Level is the notification severity.
type Level int8

const (
	LevelNormal    Level = 1
	LevelImportant Level = 2
	LevelUrgent    Level = 3
)

func (l Level) Valid() bool { return l >= LevelNormal && l <= LevelUrgent }

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelImportant:
		return "important"
	case LevelUrgent:
		return "urgent"
	}
	return fmt.Sprintf("level(%d)", int8(l))
}

// Channel is the transport a notification is delivered through.
type Channel int8

const (
	ChannelInApp  Channel = 1
	ChannelSMS    Channel = 2
	ChannelEmail  Channel = 3
	ChannelPush   Channel = 4
	ChannelWechat Channel = 5
	ChannelVoice  Channel = 6
)

// Channels lists every supported channel in code order.
var Channels = []Channel{ChannelInApp, ChannelSMS, ChannelEmail, ChannelPush, ChannelWechat, ChannelVoice}

func (c Channel) Valid() bool { return c >= ChannelInApp && c <= ChannelVoice }

func (c Channel) String() string {
	switch c {
	case ChannelInApp:
		return "in_app"
	case ChannelSMS:
		return "sms"
	case ChannelEmail:
		return "email"
	case ChannelPush:
		return "push"
	case ChannelWechat:
		return "wechat"
	case ChannelVoice:
		return "voice"
	}
	return fmt.Sprintf("channel(%d)", int8(c))
}

// RecipientType tells which user population RecipientID belongs to.
type RecipientType int8

const (
	RecipientCustomer RecipientType = 1
	RecipientPilot    RecipientType = 2
	RecipientAdmin    RecipientType = 3
)

func (t RecipientType) Valid() bool { return t >= RecipientCustomer && t <= RecipientAdmin }

func (t RecipientType) String() string {
	switch t {
	case RecipientCustomer:
		return "customer"
	case RecipientPilot:
		return "pilot"
	case RecipientAdmin:
		return "admin"
	}
	return fmt.Sprintf("recipient_type(%d)", int8(t))
}

// SendStatus is the delivery lifecycle state.
type SendStatus int8

const (
	SendPending SendStatus = 1
	SendSending SendStatus = 2
	SendSent    SendStatus = 3
	SendFailed  SendStatus = 4
)

func (s SendStatus) Valid() bool { return s >= SendPending && s <= SendFailed }

func (s SendStatus) String() string {
	switch s {
	case SendPending:
		return "pending"
	case SendSending:
		return "sending"
	case SendSent:
		return "sent"
	case SendFailed:
		return "failed"
	}
	return fmt.Sprintf("send_status(%d)", int8(s))
}

// ReadStatus is independent of SendStatus; Read is terminal.
type ReadStatus int8

const (
	Unread ReadStatus = 0
	Read   ReadStatus = 1
)

func (s ReadStatus) String() string {
	if s == Read {
		return "read"
	}
	return "unread"
}

// Ptr returns a pointer to s, for Filter.ReadStatus.
func (s ReadStatus) Ptr() *ReadStatus { return &s }
