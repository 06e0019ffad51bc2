package main

import (
	"log/slog"
	"os"

	"github.com/uscpte7/CAN-Bus1/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "can-bridge")
	logging.Set(l)
	return l
}
