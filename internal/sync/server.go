package sync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// Server accepts line-oriented TCP subscribers for the event feed.
type Server struct {
	Addr   string
	Hub    *Hub
	logger *slog.Logger
	ln     net.Listener
}

func NewServer(addr string, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Addr: addr, Hub: hub, logger: logger}
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	s.ln = ln
	return nil
}

// ListenAddr is the bound address once Listen succeeded.
func (s *Server) ListenAddr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts subscribers until ctx is done. It listens first if needed.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("tcp event feed listening", "addr", s.ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("tcp accept failed", "err", err)
			continue
		}

		s.Hub.Add(conn)
		s.logger.Debug("tcp subscriber connected", "remote", conn.RemoteAddr())

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				s.logger.Debug("tcp subscriber disconnected", "remote", c.RemoteAddr())
			}()

			// subscribers are read-only; drain until they hang up
			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}
