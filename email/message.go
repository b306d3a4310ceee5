package email

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	gomail "gopkg.in/gomail.v2"
)

// Message is the user-facing content of an email. It is composed anew for
// each recipient.
type Message struct {
	// Empty means the Config's DefaultSubject
	Subject string
	// Sent as text/plain
	Body string
	// Paths of files to attach, in order. Each file is read in full every
	// time the message is composed.
	Attachments []string
}

// attachment is the in-memory content of a single file
type attachment struct {
	name    string
	content []byte
}

// readAttachments reads every path in full. It fails on the first path that
// can't be read, so a message is never built without all of its files.
func readAttachments(paths []string, maxBytes int64) ([]attachment, error) {
	as := make([]attachment, 0, len(paths))
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAttachmentRead, err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("%w: %v is a directory", ErrAttachmentRead, p)
		}
		if maxBytes > 0 && fi.Size() > maxBytes {
			return nil, fmt.Errorf(
				"%w: %v is %v, which is over the limit of %v",
				ErrAttachmentRead,
				p,
				units.HumanSize(float64(fi.Size())),
				units.HumanSize(float64(maxBytes)),
			)
		}

		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAttachmentRead, err)
		}

		as = append(as, attachment{
			name:    filepath.Base(p),
			content: b,
		})
	}
	return as, nil
}

// compose builds the MIME message for a single recipient. Without
// attachments, the result is a single text/plain part rather than a
// one-part multipart/mixed. Otherwise it is multipart/mixed with the body
// as the first part, ahead of the attachments, which keep their order.
// Mail clients show the body first either way.
func (m *Mailer) compose(recipient string, msg Message) (*gomail.Message, error) {
	as, err := readAttachments(msg.Attachments, m.conf.maxAttachmentBytes)
	if err != nil {
		return nil, err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.creds.Email)
	gm.SetHeader("To", recipient)
	gm.SetHeader("Subject", m.subject(msg))
	gm.SetHeader("Message-ID", m.messageID())
	gm.SetBody("text/plain", msg.Body)

	for _, a := range as {
		content := a.content
		gm.Attach(
			a.name,
			gomail.SetHeader(map[string][]string{
				"Content-Type": {m.conf.AttachmentContentType},
			}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		)
	}

	return gm, nil
}

func (m *Mailer) subject(msg Message) string {
	if msg.Subject == "" {
		return m.conf.DefaultSubject
	}
	return msg.Subject
}

// messageID uses the sender's domain when there is one
func (m *Mailer) messageID() string {
	domain := m.conf.LocalName
	if i := strings.LastIndex(m.creds.Email, "@"); i >= 0 && i < len(m.creds.Email)-1 {
		domain = m.creds.Email[i+1:]
	}
	return fmt.Sprintf("<%v@%v>", uuid.NewString(), domain)
}
