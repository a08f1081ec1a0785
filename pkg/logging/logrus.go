package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

const defaultLevel = logrus.InfoLevel

// Logrus builds per-component loggers sharing one level and output.
type Logrus struct {
	level  logrus.Level
	output io.Writer
}

// NewLogrus creates a new logrus factory. An unknown level falls back to info.
func NewLogrus(level string, output io.Writer) *Logrus {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = defaultLevel
	}
	return &Logrus{level: parsed, output: output}
}

// Get returns a logger tagged with the given component name
func (l *Logrus) Get(component string) *logrus.Entry {
	log := logrus.New()
	log.SetLevel(l.level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(l.output)

	return log.WithFields(logrus.Fields{
		"Context": component,
	})
}

// Mask keeps the first characters of a secret so logs can tell values apart.
func Mask(secret string) string {
	const visible = 4
	if len(secret) <= visible {
		return "****"
	}
	return secret[:visible] + "****"
}
