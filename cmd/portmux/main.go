package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/portmux/portmux"
	"github.com/portmux/portmux/config"
)

func main() {
	var (
		configFile = flag.String("config-file", "", "path to a YAML config file")
		profile    = flag.String("profile", "", "config profile: development, production or testing")
		address    = flag.String("address", "", "listen address, overrides the config")
	)

	flag.Parse()

	var (
		c   config.Config
		err error
	)

	if *configFile != "" {
		c, err = config.Load(*configFile)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		c = config.Profile(*profile)
	}

	if *address != "" {
		c.Address = *address
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	if err := portmux.Run(ctx, c); err != nil {
		log.Fatal(err)
	}
}
