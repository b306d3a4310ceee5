package smtptest

// Server is what a test needs from a relay to check that a client delivered
// its messages and let go of every session it opened. Start it during a test
// and Close it right after.
type Server interface {
	// Start begins accepting connections without blocking.
	Start() error

	// Close stops the server. It doesn't return an error so it's easier to
	// use with defer and t.Cleanup.
	Close()

	// Address is the host:port clients should dial.
	Address() string

	// RetrieveEmails returns the raw messages received at or after t, in
	// Unix epoch nanoseconds.
	RetrieveEmails(t int64) ([]string, error)

	// Logins counts the sessions that authenticated successfully.
	Logins() int

	// Logouts counts the authenticated sessions that have ended.
	Logouts() int
}

var _ Server = &InProcessServer{}
