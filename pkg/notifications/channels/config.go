package channels

import "time"

type TwilioConfig struct {
	AccountSID string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	FromNumber string `env:"TWILIO_PHONE_NUMBER"`
	VoiceName  string `env:"TWILIO_VOICE" envDefault:"alice"`
}

// Enabled reports whether SMS and voice can go through Twilio.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

type FCMConfig struct {
	CredentialsFile string `env:"FIREBASE_CREDENTIALS_PATH"`
	ProjectID       string `env:"FIREBASE_PROJECT_ID"`
}

// Enabled reports whether push can go through Firebase Cloud Messaging.
func (c FCMConfig) Enabled() bool {
	return c.CredentialsFile != ""
}

type WeChatConfig struct {
	WebhookURL string        `env:"WECHAT_ROBOT_URL" envDefault:"https://qyapi.weixin.qq.com/cgi-bin/webhook/send"`
	Enable     bool          `env:"WECHAT_ROBOT_ENABLED" envDefault:"false"`
	Timeout    time.Duration `env:"WECHAT_ROBOT_TIMEOUT" envDefault:"10s"`

	BreakerFailures  int           `env:"WECHAT_BREAKER_FAILURES" envDefault:"5"`
	BreakerSuccesses int           `env:"WECHAT_BREAKER_SUCCESSES" envDefault:"2"`
	BreakerCooldown  time.Duration `env:"WECHAT_BREAKER_COOLDOWN" envDefault:"30s"`
}

// Enabled reports whether WeChat goes through the group robot API.
func (c WeChatConfig) Enabled() bool {
	return c.Enable && c.WebhookURL != ""
}
