package mainboilerplate

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	// shiplogd often runs beside an application which owns stderr.
	File string `long:"file" env:"FILE" description:"Append log events to this file rather than stderr"`
}

// InitLog configures the standard logger from |cfg|, exiting on an invalid
// configuration.
func InitLog(cfg LogConfig) {
	if err := initLog(log.StandardLogger(), cfg); err != nil {
		log.WithField("err", err).Fatal("invalid log configuration")
	}
}

var logFormatters = map[string]func() log.Formatter{
	"json":  func() log.Formatter { return &log.JSONFormatter{} },
	"text":  func() log.Formatter { return &log.TextFormatter{} },
	"color": func() log.Formatter { return &log.TextFormatter{ForceColors: true} },
}

func initLog(logger *log.Logger, cfg LogConfig) error {
	var level, err = log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	var newFormatter, ok = logFormatters[cfg.Format]
	if !ok && cfg.Format != "" {
		return errors.Errorf("unknown log format %q", cfg.Format)
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		if out, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640); err != nil {
			return errors.WithMessage(err, "opening log file")
		}
	}

	if ok {
		logger.SetFormatter(newFormatter())
	}
	logger.SetLevel(level)
	logger.SetOutput(out)
	return nil
}
