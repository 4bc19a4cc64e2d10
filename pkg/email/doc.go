// Package email sends transactional emails for the email notification
// channel.
//
// Two EmailSender implementations are provided:
//   - NewPostmarkClient delivers through Postmark, optionally tracking opens
//   - NewDevSender writes each email to disk for local development
//
// Both validate SendEmailParams first; validation failures wrap
// ErrInvalidParams and provider failures wrap ErrFailedToSendEmail.
//
//	client, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//	    return err
//	}
//	err = client.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "user@example.com",
//	    Subject:  "Order shipped",
//	    BodyHTML: "<p>Your parcel is on its way</p>",
//	    BodyText: "Your parcel is on its way",
//	    Tag:      "order",
//	})
//
// Postmark tokens are optional in Config so development environments can run
// without them; NewPostmarkClient rejects a config that lacks them.
package email
