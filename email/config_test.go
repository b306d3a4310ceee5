package email

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestConfigUnmarshalAndCheck(t *testing.T) {
	testCases := []struct {
		description   string
		input         string
		shouldBeError bool
	}{
		{
			description: "valid case",
			input: `smtpServerHost: smtp.example.com
smtpServerPort: 2525
localName: myhost
defaultSubject: Cron output
attachmentContentType: text/csv
maxAttachmentSize: 25MB
dialTimeout: 30s
`,
			shouldBeError: false,
		},
		{
			description:   "empty object",
			input:         `{}`,
			shouldBeError: false,
		},
		{
			description:   "port not a number",
			input:         `smtpServerPort: smtp`,
			shouldBeError: true,
		},
		{
			description:   "port out of range",
			input:         `smtpServerPort: 65536`,
			shouldBeError: true,
		},
		{
			description:   "negative port",
			input:         `smtpServerPort: -1`,
			shouldBeError: true,
		},
		{
			description:   "size not a size",
			input:         `maxAttachmentSize: lots`,
			shouldBeError: true,
		},
		{
			description:   "timeout not a duration",
			input:         `dialTimeout: thirty seconds`,
			shouldBeError: true,
		},
		{
			description:   "negative timeout",
			input:         `dialTimeout: -5s`,
			shouldBeError: true,
		},
		{
			description:   "not a map[string]string",
			input:         `[]`,
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			var c Config
			buf := bytes.NewBuffer([]byte(tc.input))
			err := yaml.NewDecoder(buf).Decode(&c)
			if err == nil {
				_, err = c.CheckAndSetDefaults()
			}
			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status--wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "smtp.gmail.com", c.Host)
	assert.Equal(t, 587, c.Port)
	assert.Equal(t, "Script Output", c.DefaultSubject)
	assert.Equal(t, "application/vnd.ms-excel", c.AttachmentContentType)
	assert.Equal(t, "localhost", c.LocalName)
	assert.Equal(t, time.Duration(0), c.DialTimeout)
	assert.Equal(t, int64(0), c.maxAttachmentBytes)
	assert.False(t, c.SkipCertVerification)
}

func TestConfigKeepsUserSettings(t *testing.T) {
	in := Config{
		Host:              "mail.example.com",
		Port:              465,
		DefaultSubject:    "Report",
		MaxAttachmentSize: "2KB",
		DialTimeout:       time.Duration(3) * time.Second,
	}
	c, err := in.CheckAndSetDefaults()
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com", c.Host)
	assert.Equal(t, 465, c.Port)
	assert.Equal(t, "Report", c.DefaultSubject)
	assert.Equal(t, int64(2000), c.maxAttachmentBytes)
	assert.Equal(t, time.Duration(3)*time.Second, c.DialTimeout)

	// the receiver is left alone
	assert.Equal(t, int64(0), in.maxAttachmentBytes)
}
