package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// setupLogging applies the configured level and format. LOG_LEVEL in the
// environment wins over the file.
func setupLogging(level, format string) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level != "" {
		lvl, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log.SetLevel(lvl)
	}

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
