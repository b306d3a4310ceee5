package userconfig

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/ptgott/scriptmail/email"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// Environment variables that override the config file. These let a script
// send its output without a config file at all.
const (
	EnvEmail       string = "EMAIL"
	EnvPassword    string = "PASSWORD"
	EnvTargetEmail string = "TARGET_EMAIL"
)

// Env looks up an environment variable. os.LookupEnv satisfies it.
type Env func(key string) (string, bool)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	EmailSettings EmailSettings `yaml:"email"`
	Message       Message       `yaml:"message"`
}

// EmailSettings holds the account to send from along with settings for
// reaching the SMTP server.
type EmailSettings struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	email.Config `yaml:",inline"`
}

// Message holds defaults for what to send and to whom. Command-line flags
// take precedence.
type Message struct {
	Subject     string   `yaml:"subject"`
	Body        string   `yaml:"body"`
	Recipients  []string `yaml:"recipients"`
	Attachments []string `yaml:"attachments"`
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing. The Reader r can be either JSON
// or YAML. Empty input yields an empty Meta, since the environment can
// supply everything we need.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if errors.Is(err, io.EOF) {
		log.Debug().Msg("the config file is empty")
		return &m, nil
	}
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}
	return &m, nil
}

// WithDotEnv returns an Env that consults next first and then the variables
// in the dotenv file at path. A missing file is not an error, and the
// process environment is never modified.
func WithDotEnv(path string, next Env) (Env, error) {
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", path).Msg("no dotenv file found")
		return next, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't read the dotenv file at %v: %v", path, err)
	}

	log.Debug().Str("path", path).Int("count", len(vals)).Msg("loaded the dotenv file")
	return func(key string) (string, bool) {
		if v, ok := next(key); ok {
			return v, ok
		}
		v, ok := vals[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides the credentials in m with EMAIL and PASSWORD and adds
// TARGET_EMAIL to the recipients if it isn't there already. Empty values are
// ignored.
func (m *Meta) ApplyEnv(env Env) {
	if v, ok := env(EnvEmail); ok && v != "" {
		m.EmailSettings.Username = v
	}
	if v, ok := env(EnvPassword); ok && v != "" {
		m.EmailSettings.Password = v
	}
	if v, ok := env(EnvTargetEmail); ok && v != "" {
		for _, r := range m.Message.Recipients {
			if r == v {
				return
			}
		}
		m.Message.Recipients = append(m.Message.Recipients, v)
	}
}

// Credentials returns the account to send from.
func (m *Meta) Credentials() email.Credentials {
	return email.Credentials{
		Email:    m.EmailSettings.Username,
		Password: m.EmailSettings.Password,
	}
}

// CheckAndSetDefaults validates e and either returns a copy of e with default
// settings applied or returns an error due to an invalid configuration
func (e *EmailSettings) CheckAndSetDefaults() (EmailSettings, error) {
	if e.Username == "" || e.Password == "" {
		return EmailSettings{}, fmt.Errorf(
			"must supply a username and password, either in the config file or with $%v and $%v",
			EnvEmail,
			EnvPassword,
		)
	}

	c, err := e.Config.CheckAndSetDefaults()
	if err != nil {
		return EmailSettings{}, err
	}

	return EmailSettings{
		Username: e.Username,
		Password: e.Password,
		Config:   c,
	}, nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	e, err := m.EmailSettings.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.EmailSettings = e

	if len(m.Message.Recipients) == 0 {
		return Meta{}, fmt.Errorf(
			"must supply at least one recipient, either in the config file or with $%v",
			EnvTargetEmail,
		)
	}

	c.Message = Message{
		Subject:     m.Message.Subject,
		Body:        m.Message.Body,
		Recipients:  append([]string(nil), m.Message.Recipients...),
		Attachments: append([]string(nil), m.Message.Attachments...),
	}

	return c, nil
}
