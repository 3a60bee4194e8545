package main

import (
	"io"
	"os"
	"time"

	"github.com/KarpelesLab/ringbuf"
	"github.com/rs/zerolog"
)

// logRing keeps the last megabyte of log output for SIGUSR1 dumps.
var logRing *ringbuf.Writer

func initLogger(debug bool) zerolog.Logger {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var err error
	logRing, err = ringbuf.New(1024 * 1024)
	if err == nil {
		out = io.MultiWriter(out, logRing)
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", "raknet-echo").Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("log ring disabled")
	}
	return logger
}

func dumpLog(w io.Writer) (int64, error) {
	if logRing == nil {
		return 0, nil
	}
	r := logRing.Reader()
	defer r.Close()
	return io.Copy(w, r)
}

// zlog adapts a zerolog.Logger to raknet.Logger.
type zlog struct {
	zerolog.Logger
}

func (l zlog) Debug(msg string, args ...any) {
	l.Logger.Debug().Fields(args).Msg(msg)
}

func (l zlog) Info(msg string, args ...any) {
	l.Logger.Info().Fields(args).Msg(msg)
}

func (l zlog) Warn(msg string, args ...any) {
	l.Logger.Warn().Fields(args).Msg(msg)
}

func (l zlog) Error(msg string, args ...any) {
	l.Logger.Error().Fields(args).Msg(msg)
}
