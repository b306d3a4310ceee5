package email

import "errors"

// Every error returned by a Mailer wraps one of these, so callers can tell
// what went wrong with errors.Is. None of them are retried.
var (
	// ErrInvalidCredentials means the email address or password is empty.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConnectivity means we couldn't reach the relay, complete the
	// STARTTLS handshake, or end the session cleanly.
	ErrConnectivity = errors.New("can't communicate with the SMTP server")
	// ErrAuthentication means the relay rejected the credentials.
	ErrAuthentication = errors.New("the SMTP server rejected the credentials")
	// ErrAttachmentRead means an attachment path couldn't be read. Nothing
	// is sent for the message in this case.
	ErrAttachmentRead = errors.New("can't read an attachment")
	// ErrSend means the relay refused the message or its envelope, or the
	// recipient isn't an email address.
	ErrSend = errors.New("can't send the message")
)
