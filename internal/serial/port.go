package serial

import (
	"io"
	"os"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens a serial device. readTimeout bounds each Read so the reader
// notices shutdown.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// stdioPort joins a reader and a writer into a Port.
type stdioPort struct {
	io.Reader
	io.Writer
	closer func() error
}

func (p stdioPort) Close() error {
	if p.closer != nil {
		return p.closer()
	}
	return nil
}

// Stdio uses the process's standard input and output as the control link.
func Stdio() Port { return stdioPort{Reader: os.Stdin, Writer: os.Stdout} }

// Pipe builds a Port from any reader and writer; close runs on Close.
func Pipe(r io.Reader, w io.Writer, close func() error) Port {
	return stdioPort{Reader: r, Writer: w, closer: close}
}
