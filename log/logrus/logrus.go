// Package logrus adapts a *logrus.Entry to megacache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/megacache"
)

var _ megacache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f megacache.Fields) { l.log(logrus.DebugLevel, msg, f) }
func (l LogrusLogger) Info(msg string, f megacache.Fields)  { l.log(logrus.InfoLevel, msg, f) }
func (l LogrusLogger) Warn(msg string, f megacache.Fields)  { l.log(logrus.WarnLevel, msg, f) }
func (l LogrusLogger) Error(msg string, f megacache.Fields) { l.log(logrus.ErrorLevel, msg, f) }

func (l LogrusLogger) log(level logrus.Level, msg string, f megacache.Fields) {
	if !l.E.Logger.IsLevelEnabled(level) {
		return
	}
	e := l.E
	if len(f) > 0 {
		// "err" goes through WithError so formatters and hooks see logrus.ErrorKey
		if err, ok := f["err"].(error); ok {
			e = e.WithError(err)
		}
		fields := make(logrus.Fields, len(f))
		for k, v := range f {
			if k != "err" {
				fields[k] = v
			}
		}
		e = e.WithFields(fields)
	}
	e.Log(level, msg)
}
