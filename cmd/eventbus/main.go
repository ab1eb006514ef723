package main

import (
	"os"

	// Transports register themselves via init().
	_ "github.com/miladsoleymani/eventbus/plugins/kafka"
	_ "github.com/miladsoleymani/eventbus/plugins/memory"
	_ "github.com/miladsoleymani/eventbus/plugins/nats"
	_ "github.com/miladsoleymani/eventbus/plugins/rabbitmq"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
