// Package server implements the TCP accept loop that sits in front of
// internal/node.Handler: one listener per node, one goroutine per
// connection, each connection processing commands strictly in order off
// a single bufio.Reader.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/hazardous-sun/ouroboros-fs/internal/node"
	"github.com/hazardous-sun/ouroboros-fs/internal/oblog"
	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// Server owns the listening socket for one ring node.
type Server struct {
	addr    string
	handler *node.Handler
}

// New builds a Server that will dispatch accepted connections to handler.
func New(addr string, handler *node.Handler) *Server {
	return &Server{addr: addr, handler: handler}
}

// listenConfig enables SO_REUSEADDR and SO_REUSEPORT on the listening
// socket so a respawned node can rebind its old port immediately instead
// of waiting out TIME_WAIT.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				sockErr = err
				return
			}
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// Listen binds the listening socket without yet accepting connections.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	return listenConfig.Listen(ctx, "tcp", s.addr)
}

// Serve accepts connections on ln until it returns an error (typically
// from ln.Close()), handling each on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	log := oblog.WithPeer(conn.RemoteAddr().String())

	r := bufio.NewReader(conn)
	for {
		line, err := protocol.ReadLine(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		cmd, err := protocol.Parse(line)
		if err != nil {
			if werr := protocol.WriteLine(conn, "ERR "+err.Error()); werr != nil {
				return
			}
			continue
		}

		closeAfter, err := s.handler.Dispatch(r, conn, cmd)
		if err != nil {
			log.Warn().Err(err).Str("line", line).Msg("command failed")
			return
		}
		if closeAfter {
			return
		}
	}
}
