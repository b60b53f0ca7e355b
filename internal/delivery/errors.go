package delivery

import "errors"

var (
	// ErrTechnicalFailure means the notification was moved to
	// technical-failure and must not be retried.
	ErrTechnicalFailure = errors.New("notification technical failure")

	// ErrSenderNotAllowed means reply_to_text is not one of the service's
	// SMS senders.
	ErrSenderNotAllowed = errors.New("sender not allowed for service")

	// ErrRecipientUnavailable means the job row holding the recipient could
	// not be read.
	ErrRecipientUnavailable = errors.New("recipient unavailable")
)
