// Package channels holds provider-backed senders that replace the logging
// stubs of notifications.DefaultSenders: Twilio for SMS and voice calls,
// Firebase Cloud Messaging for push and a WeCom group robot for WeChat.
//
// The Twilio and FCM senders depend on a one-method interface rather than
// the provider client. The WeChat robot posts JSON over plain HTTP behind a
// CircuitBreaker that fails attempts immediately while the endpoint is down.
//
//	client, err := channels.NewTwilioClient(twilioCfg)
//	if err != nil {
//		return err
//	}
//	senders.Register(notifications.ChannelSMS, channels.NewTwilioSMS(client.Api, twilioCfg.FromNumber))
//	senders.Register(notifications.ChannelVoice, channels.NewTwilioVoice(client.Api, twilioCfg.FromNumber, twilioCfg.VoiceName))
package channels
