package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/ptgott/scriptmail/email"
	"github.com/ptgott/scriptmail/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// stringsFlag collects every value of a repeatable flag
type stringsFlag []string

func (s *stringsFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	// Intercept interrupts so we can get more visibility into them.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func(c chan os.Signal) {
		<-c
		log.Info().Msg("interrupt: exiting")
		os.Exit(0)
	}(sigCh)

	os.Exit(exitCode(run(os.Args[1:], os.LookupEnv, os.Stdin, os.Stdout)))
}

// exitCode maps the result of run to the process status. Asking for help
// isn't a failure, and the usage message has already been printed.
func exitCode(err error) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return 0
	}
	log.Error().Err(err).Msg("couldn't send the email")
	return 1
}

// run parses args, resolves the config against the config file, the dotenv
// file and lookupEnv, and then sends the message. With -noemail, messages are
// written to stdout instead.
func run(args []string, lookupEnv userconfig.Env, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("scriptmail", flag.ContinueOnError)
	configPath := fs.String(
		"config",
		"",
		"path to a JSON or YAML file containing your configuration (optional)",
	)
	envPath := fs.String(
		"env",
		".env",
		"path to a dotenv file that sets EMAIL, PASSWORD, and TARGET_EMAIL (ignored if missing)",
	)
	var to, attach stringsFlag
	fs.Var(&to, "to", "recipient address; repeat to send to several recipients")
	fs.Var(&attach, "attach", "path of a file to attach; repeat to attach several files")
	subject := fs.String(
		"subject",
		"",
		`subject line (default "Script Output")`,
	)
	body := fs.String(
		"body",
		"",
		`message body; "-" reads the body from stdin`,
	)
	noEmail := fs.Bool(
		"noemail",
		false,
		"print the composed message to stdout instead of sending it",
	)
	level := fs.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	config := &userconfig.Meta{}
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			return fmt.Errorf("can't open the application config file: %v", err)
		}
		defer f.Close()

		config, err = userconfig.Parse(f)
		if err != nil {
			return fmt.Errorf("problem parsing your config: %v", err)
		}
		log.Info().Str("configPath", *configPath).Msg("read the config file")
	}

	env, err := userconfig.WithDotEnv(*envPath, lookupEnv)
	if err != nil {
		return err
	}
	config.ApplyEnv(env)

	if len(to) > 0 {
		config.Message.Recipients = to
	}
	if len(attach) > 0 {
		config.Message.Attachments = attach
	}
	if *subject != "" {
		config.Message.Subject = *subject
	}
	switch *body {
	case "":
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("can't read the message body from stdin: %v", err)
		}
		config.Message.Body = string(b)
	default:
		config.Message.Body = *body
	}

	checked, err := config.CheckAndSetDefaults()
	if err != nil {
		return fmt.Errorf("problem validating your config: %v", err)
	}

	mailer, err := email.NewMailer(checked.Credentials(), checked.EmailSettings.Config)
	if err != nil {
		return err
	}

	msg := email.Message{
		Subject:     checked.Message.Subject,
		Body:        checked.Message.Body,
		Attachments: checked.Message.Attachments,
	}
	rcpts := checked.Message.Recipients

	if *noEmail {
		for _, r := range rcpts {
			if err := mailer.WriteMessage(stdout, r, msg); err != nil {
				return err
			}
			if _, err := io.WriteString(stdout, "\r\n"); err != nil {
				return err
			}
		}
		return nil
	}

	log.Info().
		Strs("recipients", rcpts).
		Int("attachments", len(msg.Attachments)).
		Msg("attempting to send email")

	if len(rcpts) == 1 {
		return mailer.SendMail(rcpts[0], msg)
	}
	return mailer.SendMultipleMail(rcpts, msg)
}
