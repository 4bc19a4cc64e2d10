package email

// Config holds email service configuration. Without Postmark tokens the
// notifier falls back to a DevSender writing into DevOutputDir.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"noreply@example.com"`
	SupportEmail         string `env:"SUPPORT_EMAIL"` // Reply-To; optional
	TrackOpens           bool   `env:"POSTMARK_TRACK_OPENS" envDefault:"false"`
	DevOutputDir         string `env:"EMAIL_DEV_DIR" envDefault:"./var/mail"`
}

// PostmarkEnabled reports whether both Postmark tokens are set.
func (c Config) PostmarkEnabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
