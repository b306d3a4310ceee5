package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ptgott/scriptmail/smtptest"
	"github.com/ptgott/scriptmail/userconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(m map[string]string) userconfig.Env {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// writeConfig points the app at srv and returns the path of the config file.
func writeConfig(t *testing.T, srv *smtptest.InProcessServer, extra string) string {
	t.Helper()
	host, port := srv.HostPort()
	conf := fmt.Sprintf(`email:
    smtpServerHost: %v
    smtpServerPort: %v
    skipCertVerification: true
    dialTimeout: 5s
%v`, host, port, extra)
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(conf), 0o600))
	return p
}

func startServer(t *testing.T) *smtptest.InProcessServer {
	t.Helper()
	srv := smtptest.NewInProcessServer(smtptest.GenerateCertificate(t), smtptest.Options{
		Username: "a@x.com",
		Password: "secret",
	})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)
	return srv
}

// requireSessionsClosed waits for the app to end every session it opened
func requireSessionsClosed(t *testing.T, srv smtptest.Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Logouts() == srv.Logins()
	}, time.Duration(5)*time.Second, time.Duration(10)*time.Millisecond)
}

// noDotEnv keeps a stray .env in the working directory out of the tests
func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestRunFromEnvironment(t *testing.T) {
	srv := startServer(t)
	env := mapEnv(map[string]string{
		"EMAIL":        "a@x.com",
		"PASSWORD":     "secret",
		"TARGET_EMAIL": "b@y.com",
	})

	err := run(
		[]string{"-config", writeConfig(t, srv, ""), "-env", noDotEnv(t), "-body", "-"},
		env,
		strings.NewReader("build finished"),
		&bytes.Buffer{},
	)
	require.NoError(t, err)

	envs := srv.RetrieveEnvelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "a@x.com", envs[0].From)
	assert.Equal(t, []string{"b@y.com"}, envs[0].To)

	pe, err := smtptest.ParseEmail(envs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "Script Output", pe.Subject())
	require.Len(t, pe.Parts, 1)
	assert.Equal(t, "build finished", string(pe.Parts[0].Content))
}

func TestRunMultipleRecipientsFromFlags(t *testing.T) {
	srv := startServer(t)
	dir := t.TempDir()
	report := filepath.Join(dir, "report.xlsx")
	require.NoError(t, os.WriteFile(report, []byte("cells"), 0o600))

	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("EMAIL=a@x.com\nPASSWORD=secret\n"), 0o600))

	err := run(
		[]string{
			"-config", writeConfig(t, srv, ""),
			"-env", dotenv,
			"-to", "b@y.com",
			"-to", "c@y.com",
			"-subject", "Nightly",
			"-body", "hi",
			"-attach", report,
			"-level", "warn",
		},
		mapEnv(nil),
		strings.NewReader(""),
		&bytes.Buffer{},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Logins())
	requireSessionsClosed(t, srv)
	envs := srv.RetrieveEnvelopes()
	require.Len(t, envs, 2)
	for i, want := range []string{"b@y.com", "c@y.com"} {
		assert.Equal(t, []string{want}, envs[i].To)
		pe, err := smtptest.ParseEmail(envs[i].Data)
		require.NoError(t, err)
		assert.Equal(t, "Nightly", pe.Subject())
		as := pe.Attachments()
		require.Len(t, as, 1)
		assert.Equal(t, "report.xlsx", as[0].Filename)
		assert.Equal(t, []byte("cells"), as[0].Content)
	}
}

func TestRunMessageFromConfigFile(t *testing.T) {
	srv := startServer(t)
	conf := writeConfig(t, srv, `    username: a@x.com
    password: secret
message:
    subject: From the file
    body: configured body
    recipients: [b@y.com]
`)

	err := run([]string{"-config", conf, "-env", noDotEnv(t)}, mapEnv(nil), strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)

	envs := srv.RetrieveEnvelopes()
	require.Len(t, envs, 1)
	pe, err := smtptest.ParseEmail(envs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "From the file", pe.Subject())
	assert.Equal(t, "configured body", string(pe.Parts[0].Content))
}

func TestRunNoEmail(t *testing.T) {
	env := mapEnv(map[string]string{
		"EMAIL":        "a@x.com",
		"PASSWORD":     "secret",
		"TARGET_EMAIL": "b@y.com",
	})
	var out bytes.Buffer

	// Nothing is listening on the default relay in a test, so this only
	// works if we never connect
	err := run([]string{"-env", noDotEnv(t), "-noemail", "-body", "dry run"}, env, strings.NewReader(""), &out)
	require.NoError(t, err)

	pe, err := smtptest.ParseEmail(out.String())
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", pe.Header.Get("From"))
	assert.Equal(t, "b@y.com", pe.Header.Get("To"))
	assert.Equal(t, "Script Output", pe.Subject())
	require.Len(t, pe.Parts, 1)
	assert.Equal(t, "dry run", string(pe.Parts[0].Content))
}

func TestRunErrors(t *testing.T) {
	testCases := []struct {
		description string
		args        func(t *testing.T) []string
		env         map[string]string
	}{
		{
			description: "no credentials",
			args: func(t *testing.T) []string {
				return []string{"-env", noDotEnv(t), "-to", "b@y.com"}
			},
		},
		{
			description: "no recipients",
			args: func(t *testing.T) []string {
				return []string{"-env", noDotEnv(t)}
			},
			env: map[string]string{"EMAIL": "a@x.com", "PASSWORD": "secret"},
		},
		{
			description: "missing config file",
			args: func(t *testing.T) []string {
				return []string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}
			},
		},
		{
			description: "unknown flag",
			args: func(t *testing.T) []string {
				return []string{"-bogus"}
			},
		},
		{
			description: "missing attachment",
			args: func(t *testing.T) []string {
				return []string{
					"-env", noDotEnv(t),
					"-noemail",
					"-attach", filepath.Join(t.TempDir(), "nope.xlsx"),
				}
			},
			env: map[string]string{"EMAIL": "a@x.com", "PASSWORD": "secret", "TARGET_EMAIL": "b@y.com"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := run(tc.args(t), mapEnv(tc.env), strings.NewReader(""), &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestExitCode(t *testing.T) {
	testCases := []struct {
		description string
		args        func(t *testing.T) []string
		want        int
	}{
		{
			description: "help",
			args:        func(t *testing.T) []string { return []string{"-h"} },
			want:        0,
		},
		{
			description: "unknown flag",
			args:        func(t *testing.T) []string { return []string{"-bogus"} },
			want:        1,
		},
		{
			description: "no credentials",
			args: func(t *testing.T) []string {
				return []string{"-env", noDotEnv(t), "-to", "b@y.com"}
			},
			want: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := run(tc.args(t), mapEnv(nil), strings.NewReader(""), &bytes.Buffer{})
			assert.Equal(t, tc.want, exitCode(err))
		})
	}
}
