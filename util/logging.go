package util

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger sets the global zerolog logger for a binary. Output goes to
// stderr (pretty when stderr is a terminal) and, when logFile is set, is
// also appended to that file as JSON. The returned func closes the file.
func InitLogger(component, level, logFile string) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var stderr io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}

	out := stderr
	closer := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		out = io.MultiWriter(stderr, f)
		closer = func() { f.Close() }
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("component", component).Logger()
	log.Logger = logger
	return logger, closer, nil
}
