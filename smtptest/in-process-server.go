package smtptest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// Envelope is a single message as received by the server, including the
// MAIL FROM and RCPT TO addresses used to deliver it.
type Envelope struct {
	created time.Time
	From    string
	To      []string
	Data    string
}

// Options controls how strict the InProcessServer is.
type Options struct {
	// If both are set, AUTH only succeeds with these. Otherwise any non-empty
	// username and password is fine.
	Username string
	Password string
	// Don't advertise STARTTLS.
	DisableTLS bool
	// RCPT TO fails for these addresses with a 550.
	RejectRecipients []string
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	username string
	password string
}

// Login implements smtp.Backend. If the backend was created without
// credentials, any username/password is fine, since we don't want to couple
// this with specific test configurations.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username == "" || password == "" {
		return nil, errors.New("no username or password provided")
	}
	if be.username != "" && be.password != "" &&
		(username != be.username || password != be.password) {
		return nil, &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Authentication credentials invalid",
		}
	}
	be.recordLogin()
	return &session{store: be.InMemoryEmailStore}, nil
}

// AnonymousLogin implements smtp.Backend. Not supported since we want to
// enforce AUTH.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return nil, smtp.ErrAuthRequired
}

// session implements smtp.Session and accumulates the envelope of the
// current transaction until DATA.
type session struct {
	store *InMemoryEmailStore
	from  string
	to    []string
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. The server calls it once per
// authenticated session, whether the client sent QUIT or dropped the
// connection.
func (s *session) Logout() error {
	s.store.recordLogout()
	return nil
}

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session.
func (s *session) Rcpt(to string) error {
	if s.store.rejects(to) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email data in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	str := &strings.Builder{}
	if _, err := str.Write(buf); err != nil {
		return err
	}
	s.store.saveEmail(s.from, s.to, str.String())
	return nil
}

// InMemoryEmailStore retains email bodies in memory for comparison against
// a test's expected output.
// Designed to be goroutine safe since we don't know how many goroutines will
// be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []Envelope
	logins   int
	logouts  int
	rejected map[string]struct{}
}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer, including configuring
// its SMTP server to store incoming messages in memory. cert is offered
// during STARTTLS unless opts.DisableTLS is set.
func NewInProcessServer(cert tls.Certificate, opts Options) *InProcessServer {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []Envelope{},
		rejected: make(map[string]struct{}),
	}
	for _, r := range opts.RejectRecipients {
		is.rejected[r] = struct{}{}
	}

	srv := smtp.NewServer(&Backend{
		InMemoryEmailStore: is,
		username:           opts.Username,
		password:           opts.Password,
	})

	srv.Domain = "localhost"
	srv.AllowInsecureAuth = false // need STARTTLS before AUTH
	srv.AuthDisabled = false      // need AUTH here
	// Strict is undocumented, but it looks like it enforces <address> syntax
	// in messages:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true
	srv.ReadTimeout = time.Duration(10) * time.Second
	srv.WriteTimeout = time.Duration(10) * time.Second

	if !opts.DisableTLS {
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
	}
}

func (es *InMemoryEmailStore) rejects(addr string) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	_, ok := es.rejected[addr]
	return ok
}

func (es *InMemoryEmailStore) recordLogin() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.logins++
}

func (es *InMemoryEmailStore) recordLogout() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.logouts++
}

// saveEmail stores the email body in memory along with a timestamp created
// just prior to saving
func (es *InMemoryEmailStore) saveEmail(from string, to []string, bod string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	rcpts := make([]string, len(to))
	copy(rcpts, to)
	es.messages = append(es.messages, Envelope{
		created: time.Now(),
		From:    from,
		To:      rcpts,
		Data:    bod,
	})
}

// Start binds the test server to a random port on the loopback interface and
// serves connections in the background. Not blocking.
func (is *InProcessServer) Start() error {
	l, err := net.Listen("tcp", net.JoinHostPort(certHost, "0"))
	if err != nil {
		return err
	}
	is.listener = l
	// Not using ListenAndServeTLS--the client should upgrade the connection
	// to TLS
	go is.Server.Serve(l)
	return nil
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
	// Serve may not have registered the listener yet
	if is.listener != nil {
		is.listener.Close()
	}
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.Data)
		}
	}
	return r, nil
}

// RetrieveEnvelopes returns every message received so far, in order of
// arrival.
func (es *InMemoryEmailStore) RetrieveEnvelopes() []Envelope {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]Envelope, len(es.messages))
	copy(r, es.messages)
	return r
}

// Logins returns the number of successful AUTH exchanges so far.
func (es *InMemoryEmailStore) Logins() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.logins
}

// Logouts returns the number of authenticated sessions that have ended so
// far. Once a client has released every connection, this equals Logins.
func (es *InMemoryEmailStore) Logouts() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.logouts
}

// Address returns the host:port of the test SMTP server. Only meaningful
// after Start.
func (is *InProcessServer) Address() string {
	if is.listener == nil {
		return ""
	}
	return is.listener.Addr().String()
}

// HostPort splits Address for use in an email.Config.
func (is *InProcessServer) HostPort() (string, int) {
	a, ok := is.listener.Addr().(*net.TCPAddr)
	if !ok {
		return "", 0
	}
	return a.IP.String(), a.Port
}
