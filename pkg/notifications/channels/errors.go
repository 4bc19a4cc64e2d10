package channels

import "errors"

var (
	ErrTwilioNotConfigured = errors.New("twilio credentials are not configured")
	ErrFCMNotConfigured    = errors.New("firebase credentials are not configured")
)

// Fail reasons recorded on the notification.
const (
	ReasonMissingPhone       = "missing recipient phone number"
	ReasonMissingDeviceToken = "missing recipient device token"
	ReasonUnregisteredDevice = "device token is no longer registered"
	ReasonMissingRobotKey    = "missing recipient robot key"
	ReasonCircuitOpen        = "provider circuit open"
)
