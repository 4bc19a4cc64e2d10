package notifications

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the engine's tunables.
type Config struct {
	SendTimeout    time.Duration `env:"NOTIFY_SEND_TIMEOUT" envDefault:"30s"`
	StallTimeout   time.Duration `env:"NOTIFY_STALL_TIMEOUT" envDefault:"5m"`
	RetryInterval  time.Duration `env:"NOTIFY_RETRY_INTERVAL" envDefault:"60s"`
	RetryBatchSize int           `env:"NOTIFY_RETRY_BATCH_SIZE" envDefault:"100"`
	Retention      time.Duration `env:"NOTIFY_RETENTION" envDefault:"720h"`
	PurgeHour      int           `env:"NOTIFY_PURGE_HOUR" envDefault:"2"` // local hour of the daily purge
	UnreadTTL      time.Duration `env:"NOTIFY_UNREAD_TTL" envDefault:"1h"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		SendTimeout:    DefaultSendTimeout,
		StallTimeout:   DefaultStallTimeout,
		RetryInterval:  time.Minute,
		RetryBatchSize: 100,
		Retention:      DefaultRetention,
		PurgeHour:      2,
		UnreadTTL:      DefaultCounterTTL,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("send timeout must be positive"))
	}
	if c.StallTimeout <= c.SendTimeout {
		errs = append(errs, fmt.Errorf("stall timeout %s must exceed send timeout %s", c.StallTimeout, c.SendTimeout))
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, errors.New("retry interval must be positive"))
	}
	if c.RetryBatchSize <= 0 {
		errs = append(errs, errors.New("retry batch size must be positive"))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	if c.PurgeHour < 0 || c.PurgeHour > 23 {
		errs = append(errs, fmt.Errorf("purge hour %d out of range 0-23", c.PurgeHour))
	}
	if c.UnreadTTL <= 0 {
		errs = append(errs, errors.New("unread counter ttl must be positive"))
	}
	return errors.Join(errs...)
}
