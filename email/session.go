package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"
)

// session is a single connected, TLS-upgraded and authenticated
// conversation with the SMTP server. It must be released with close.
type session struct {
	client *smtp.Client
	addr   string
}

// openSession dials the server, upgrades the connection with STARTTLS and
// authenticates with PLAIN. On error, nothing is left open.
func openSession(conf *Config, creds Credentials) (*session, error) {
	addr := net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))

	log.Debug().
		Str("address", addr).
		Object("credentials", creds).
		Msg("opening an SMTP session")

	d := net.Dialer{Timeout: conf.DialTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: can't connect to %v: %w", ErrConnectivity, addr, err)
	}

	// NewClient closes the connection itself if the greeting fails
	c, err := smtp.NewClient(conn, conf.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: no greeting from %v: %w", ErrConnectivity, addr, err)
	}
	s := &session{client: c, addr: addr}

	if err := c.Hello(conf.LocalName); err != nil {
		s.abort()
		return nil, fmt.Errorf("%w: EHLO failed: %w", ErrConnectivity, err)
	}

	if ok, _ := c.Extension("STARTTLS"); !ok {
		s.abort()
		return nil, fmt.Errorf("%w: %v does not support STARTTLS", ErrConnectivity, addr)
	}

	err = c.StartTLS(&tls.Config{
		ServerName:         conf.Host,
		InsecureSkipVerify: conf.SkipCertVerification,
		MinVersion:         tls.VersionTLS12,
	})
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("%w: STARTTLS failed: %w", ErrConnectivity, err)
	}

	if err := c.Auth(sasl.NewPlainClient("", creds.Email, creds.Password)); err != nil {
		s.abort()
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	log.Debug().Str("address", addr).Msg("authenticated with the SMTP server")
	return s, nil
}

// send runs one mail transaction with exactly one recipient.
func (s *session) send(from, rcpt string, m *gomail.Message) error {
	if err := s.client.Mail(from, nil); err != nil {
		return fmt.Errorf("%w: MAIL FROM rejected: %w", ErrSend, err)
	}
	if err := s.client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("%w: RCPT TO rejected for %v: %w", ErrSend, rcpt, err)
	}

	w, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA rejected: %w", ErrSend, err)
	}
	if _, err := m.WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("%w: can't write the message: %w", ErrSend, err)
	}
	// Close returns the server's verdict on the message
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: message rejected: %w", ErrSend, err)
	}
	return nil
}

// close ends the session with QUIT. If QUIT fails, the connection is closed
// anyway so nothing is left open.
func (s *session) close() error {
	if err := s.client.Quit(); err != nil {
		s.abort()
		return fmt.Errorf("%w: can't end the session with %v: %w", ErrConnectivity, s.addr, err)
	}
	log.Debug().Str("address", s.addr).Msg("closed the SMTP session")
	return nil
}

// abort drops the connection without QUIT.
func (s *session) abort() {
	if err := s.client.Close(); err != nil {
		log.Debug().Err(err).Str("address", s.addr).Msg("error closing the SMTP connection")
	}
}
