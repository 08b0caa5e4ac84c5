package events

import (
	"bufio"
	"context"
	"errors"
	"net"

	"animehub/internal/logging"
)

// Server is a plain TCP feed of the hub: one JSON event per line, for
// `nc host port` style tailing.
type Server struct {
	Addr string
	Hub  *Hub
}

func NewServer(addr string, hub *Hub) *Server {
	return &Server{Addr: addr, Hub: hub}
}

// Run accepts clients until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logging.Info().Str("addr", ln.Addr().String()).Msg("[tcp-events] listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		s.Hub.Add(conn)
		s.Hub.Welcome(conn)
		logging.Info().Str("remote", conn.RemoteAddr().String()).Msg("[tcp-events] client connected")

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				logging.Info().Str("remote", c.RemoteAddr().String()).Msg("[tcp-events] client disconnected")
			}()

			// consume until the client hangs up
			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}
