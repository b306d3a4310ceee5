package email

import (
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// Defaults used by CheckAndSetDefaults for any field the user leaves empty.
const (
	DefaultHost                  string = "smtp.gmail.com"
	DefaultPort                  int    = 587
	DefaultSubject               string = "Script Output"
	DefaultAttachmentContentType string = "application/vnd.ms-excel"
	DefaultLocalName             string = "localhost"
)

// Credentials are used both to authenticate with the SMTP server and as the
// "From" address of every message.
type Credentials struct {
	Email    string
	Password string
}

// Validate returns an error if either field is empty.
func (c Credentials) Validate() error {
	if c.Email == "" || c.Password == "" {
		return fmt.Errorf("%w: must supply an email address and a password", ErrInvalidCredentials)
	}
	return nil
}

// String keeps the password out of fmt output.
func (c Credentials) String() string {
	return fmt.Sprintf("%v (password redacted)", c.Email)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler. Only the email
// address is logged.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("email", c.Email)
}

// Config contains settings for reaching the SMTP server and composing
// messages. The zero value isn't usable until CheckAndSetDefaults has been
// called on it. Not meant to hold credentials.
type Config struct {
	Host string `yaml:"smtpServerHost"`
	Port int    `yaml:"smtpServerPort"`
	// Name to present in EHLO. Also used as the right-hand side of
	// Message-IDs.
	LocalName string `yaml:"localName"`
	// Subject used for messages that don't set their own.
	DefaultSubject string `yaml:"defaultSubject"`
	// MIME type of every attachment part.
	AttachmentContentType string `yaml:"attachmentContentType"`
	// Human-readable size, e.g., "25MB". Empty means no limit.
	MaxAttachmentSize string `yaml:"maxAttachmentSize"`
	// Zero means we rely on the operating system's connect timeout.
	DialTimeout time.Duration `yaml:"dialTimeout"`
	// Only meant for relays with self-signed certificates, e.g., in tests.
	SkipCertVerification bool `yaml:"skipCertVerification"`

	maxAttachmentBytes int64
}

// DefaultConfig returns a validated Config for smtp.gmail.com:587.
func DefaultConfig() Config {
	// Can't fail, since every field gets a valid default
	c, _ := (&Config{}).CheckAndSetDefaults()
	return c
}

// CheckAndSetDefaults validates c and either returns a copy of c with default
// settings applied or returns an error due to an invalid configuration
func (c *Config) CheckAndSetDefaults() (Config, error) {
	n := *c

	if n.Host == "" {
		n.Host = DefaultHost
	}
	if n.Port == 0 {
		n.Port = DefaultPort
	}
	if n.Port < 0 || n.Port > 65535 {
		return Config{}, fmt.Errorf("the SMTP server port must be between 1 and 65535, but got %v", n.Port)
	}
	if n.LocalName == "" {
		n.LocalName = DefaultLocalName
	}
	if n.DefaultSubject == "" {
		n.DefaultSubject = DefaultSubject
	}
	if n.AttachmentContentType == "" {
		n.AttachmentContentType = DefaultAttachmentContentType
	}
	if n.DialTimeout < 0 {
		return Config{}, errors.New("the dial timeout can't be negative")
	}

	n.maxAttachmentBytes = 0
	if n.MaxAttachmentSize != "" {
		s, err := units.FromHumanSize(n.MaxAttachmentSize)
		if err != nil {
			return Config{}, fmt.Errorf("can't parse the maximum attachment size: %v", err)
		}
		n.maxAttachmentBytes = s
	}

	return n, nil
}
