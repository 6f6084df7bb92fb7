package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is auto, console or json. auto picks console on a terminal.
	Format     string `mapstructure:"format" yaml:"format"`
	WithCaller bool   `mapstructure:"with_caller" yaml:"with_caller"`
}

func DefaultSettings() Settings {
	return Settings{Level: "info", Format: "auto"}
}

// Init replaces the global zerolog logger. Logs go to out, which is stderr for
// the CLI so stdout stays free for command output.
func Init(s Settings, out io.Writer) error {
	level := zerolog.InfoLevel
	if s.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", s.Level)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)

	console, err := useConsole(s.Format, out)
	if err != nil {
		return err
	}
	w := out
	if console {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	ctx := zerolog.New(w).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

func useConsole(format string, out io.Writer) (bool, error) {
	switch strings.ToLower(format) {
	case "console":
		return true, nil
	case "json":
		return false, nil
	case "", "auto":
		f, ok := out.(*os.File)
		if !ok {
			return false, nil
		}
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()), nil
	default:
		return false, errors.Errorf("invalid log format %q", format)
	}
}
