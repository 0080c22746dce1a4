package smtp

import "github.com/rs/zerolog"

// logHook counts session warnings and errors in the SMTP expvars.
type logHook struct{}

// Run implements zerolog.Hook.
func (h logHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		expWarnsTotal.Add(1)
	case zerolog.ErrorLevel:
		expErrorsTotal.Add(1)
	}
}
