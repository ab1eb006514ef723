package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger used across the bus.
// Unknown levels fall back to info.
func Init(level string) {
	InitWith(os.Stdout, level)
}

// InitWith is Init writing to w.
func InitWith(w io.Writer, level string) {
	log.SetOutput(w)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l, err := log.ParseLevel(level)
	if err != nil {
		l = log.InfoLevel
	}
	log.SetLevel(l)
}

func L() *log.Logger { return log.StandardLogger() }

// Component returns a logger tagged with the component name.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}
