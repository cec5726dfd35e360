package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New opens the log file and returns a logger writing to it. The TUI owns
// stdout, so nothing is ever logged to the terminal.
func New(logPath string) (zerolog.Logger, io.Closer, error) {
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	writer := zerolog.ConsoleWriter{Out: file, NoColor: true, TimeFormat: "15:04:05"}
	logger := zerolog.New(writer).With().Timestamp().Logger()
	return logger, file, nil
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
