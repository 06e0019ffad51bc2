package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uscpte7/CAN-Bus1/internal/serial"
)

// openSerialPort is a hook for tests.
var openSerialPort = serial.Open

// openControl opens the control link selected by -control.
func openControl(ctx context.Context, cfg *appConfig, l *slog.Logger) (*serial.Link, error) {
	var (
		port serial.Port
		err  error
	)
	switch cfg.control {
	case "stdio":
		port = serial.Stdio()
	default:
		port, err = openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, fmt.Errorf("serial open %s: %w", cfg.serialDev, err)
		}
	}
	l.Info("control_open", "control", cfg.control, "dev", cfg.serialDev, "baud", cfg.baud)
	return serial.NewLink(ctx, port, l.With("component", "control")), nil
}

