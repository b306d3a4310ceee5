package email

import (
	"fmt"
	"io"
	"net/mail"

	"github.com/rs/zerolog/log"
)

// Mailer sends messages on behalf of a single account. It holds no
// connection between calls, so a Mailer can be shared, but each call opens
// its own session.
type Mailer struct {
	creds Credentials
	conf  Config
}

// NewMailer validates creds and conf and returns a Mailer that is ready to
// send. conf is run through CheckAndSetDefaults, so the zero Config means
// smtp.gmail.com:587.
func NewMailer(creds Credentials, conf Config) (*Mailer, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	c, err := conf.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}

	return &Mailer{
		creds: creds,
		conf:  c,
	}, nil
}

// SendMail sends msg to recipient in a session of its own. A lack of an
// error means the server accepted the message.
func (m *Mailer) SendMail(recipient string, msg Message) error {
	addr, err := parseRecipient(recipient)
	if err != nil {
		return err
	}

	return m.withSession(func(s *session) error {
		return m.deliver(s, recipient, addr, msg)
	})
}

// SendMultipleMail sends a separate copy of msg to each recipient, in order,
// over a single session. It stops at the first recipient that fails, skipping
// the rest. An empty list sends nothing and opens no session.
func (m *Mailer) SendMultipleMail(recipients []string, msg Message) error {
	if len(recipients) == 0 {
		log.Debug().Msg("no recipients, so not sending any email")
		return nil
	}

	// Reject malformed addresses before anything goes out
	addrs := make([]string, len(recipients))
	for i, r := range recipients {
		a, err := parseRecipient(r)
		if err != nil {
			return err
		}
		addrs[i] = a
	}

	return m.withSession(func(s *session) error {
		for i, r := range recipients {
			if err := m.deliver(s, r, addrs[i], msg); err != nil {
				return fmt.Errorf(
					"recipient %v of %v (%v): %w",
					i+1,
					len(recipients),
					r,
					err,
				)
			}
		}
		return nil
	})
}

// WriteMessage writes the message that SendMail would send to recipient,
// without contacting the server.
func (m *Mailer) WriteMessage(w io.Writer, recipient string, msg Message) error {
	if _, err := parseRecipient(recipient); err != nil {
		return err
	}
	gm, err := m.compose(recipient, msg)
	if err != nil {
		return err
	}
	_, err = gm.WriteTo(w)
	return err
}

// withSession runs fn within a new session, which is closed on every exit
// path. If fn fails, its error wins over any error closing the session.
func (m *Mailer) withSession(fn func(*session) error) (err error) {
	s, err := openSession(&m.conf, m.creds)
	if err != nil {
		return err
	}

	defer func() {
		cerr := s.close()
		if err == nil {
			err = cerr
			return
		}
		if cerr != nil {
			log.Debug().Err(cerr).Msg("also failed to close the session")
		}
	}()

	return fn(s)
}

// deliver composes and sends a message for one recipient. The To header
// carries recipient as given, while the envelope uses the bare address.
func (m *Mailer) deliver(s *session, recipient, addr string, msg Message) error {
	gm, err := m.compose(recipient, msg)
	if err != nil {
		return err
	}

	if err := s.send(m.creds.Email, addr, gm); err != nil {
		return err
	}

	log.Info().
		Str("recipient", recipient).
		Str("subject", m.subject(msg)).
		Int("attachments", len(msg.Attachments)).
		Msg("sent an email")
	return nil
}

func parseRecipient(r string) (string, error) {
	a, err := mail.ParseAddress(r)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not an email address: %w", ErrSend, r, err)
	}
	return a.Address, nil
}

// SendMail sends body to recipient through smtp.gmail.com:587 using creds.
// An empty subject means "Script Output".
func SendMail(creds Credentials, recipient, body, subject string, attachments ...string) error {
	m, err := NewMailer(creds, Config{})
	if err != nil {
		return err
	}
	return m.SendMail(recipient, Message{
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
	})
}

// SendMultipleMail sends body to each of recipients through
// smtp.gmail.com:587, authenticating once. An empty subject means
// "Script Output".
func SendMultipleMail(creds Credentials, recipients []string, body, subject string, attachments ...string) error {
	m, err := NewMailer(creds, Config{})
	if err != nil {
		return err
	}
	return m.SendMultipleMail(recipients, Message{
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
	})
}
