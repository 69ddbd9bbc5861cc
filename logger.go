package pricer

import "github.com/maxbolgarin/logze"

// Logger is the message-first logging interface that lang, contem and gorder
// accept. logze.Logger takes the error as its first argument, so it cannot be
// handed to those libraries directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AdaptLogger bridges a logze.Logger into the message-first Logger shape.
func AdaptLogger(l logze.Logger) Logger {
	return logAdapter{log: l}
}

type logAdapter struct {
	log logze.Logger
}

func (a logAdapter) Debug(msg string, args ...any) { a.log.Debug(msg, args...) }
func (a logAdapter) Info(msg string, args ...any)  { a.log.Info(msg, args...) }
func (a logAdapter) Warn(msg string, args ...any)  { a.log.Warn(msg, args...) }
func (a logAdapter) Error(msg string, args ...any) { a.log.Error(nil, msg, args...) }
