package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/hub"
	"github.com/uscpte7/CAN-Bus1/internal/metrics"
)

const readBatch = 16

// startReader decodes frames sent by a client and injects them. Without an
// inject function the frames are read and discarded so the client never
// stalls on a full socket.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			cl.Close() // stops the writer
		}()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := s.Codec.DecodeN(conn, readBatch, func(fr can.Frame) { s.inject(fr, logger) })
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					select {
					case <-cl.Closed:
						return
					default:
					}
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				logger.Warn("client_read_error", "error", err)
				return
			}
			select {
			case <-ctxDone:
				return
			case <-cl.Closed:
				return
			default:
			}
		}
	}()
}

func (s *Server) inject(fr can.Frame, logger *slog.Logger) {
	if s.frameFilter != nil && !s.frameFilter(&fr) {
		return
	}
	if s.Inject == nil {
		return
	}
	metrics.IncMirrorRx()
	if err := s.Inject(fr); err != nil {
		if errors.Is(err, ErrInjectDropped) {
			s.totalInjectDropped.Add(1)
			logger.Debug("inject_drop", "frame", fr.String())
			return
		}
		wrap := fmt.Errorf("%w: %v", ErrInject, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		s.totalInjectErrors.Add(1)
		logger.Error("inject_error", "error", err, "frame", fr.String())
	}
}
