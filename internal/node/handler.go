// Package node implements the command handlers that sit between a raw
// connection (internal/server) and a node's shared state and storage
// (internal/ring, internal/chunkstore): one method per protocol verb,
// dispatched from the parsed internal/protocol.Command.
package node

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hazardous-sun/ouroboros-fs/internal/chunkstore"
	"github.com/hazardous-sun/ouroboros-fs/internal/oblog"
	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// Dialer opens an outbound connection; overridable in tests.
type Dialer func(addr string, timeout time.Duration) (net.Conn, error)

func defaultDialer(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

const (
	controlTimeout = 3 * time.Second
	pingTimeout    = 2 * time.Second
	walkTimeout    = 30 * time.Second
	healTimeout    = 60 * time.Second
	pushTimeout    = 60 * time.Second
)

// Handler ties a node's shared state and chunk storage to the wire
// protocol. Its methods are called from the per-connection read loop in
// internal/server; none of them may block on another inbound connection,
// only on outbound dials they themselves make.
type Handler struct {
	Node  *ring.Node
	Store *chunkstore.Store
	Dial  Dialer
	log   zerolog.Logger

	Detector *Detector

	healMu  sync.Mutex
	healing map[string]bool
}

// NewHandler builds a Handler for n, rooted at store.
func NewHandler(n *ring.Node, store *chunkstore.Store) *Handler {
	h := &Handler{
		Node:    n,
		Store:   store,
		Dial:    defaultDialer,
		log:     oblog.WithPort(n.SelfPort()),
		healing: make(map[string]bool),
	}
	h.Detector = NewDetector(h)
	return h
}

// addrForPort reconstructs a dialable address for a bare port, assuming
// every node in the ring shares this process's host — true of every
// topology the system ever wires up, since ring membership is expressed
// purely in ports (see ring.Node.topology) and nodes are always started
// on one machine's loopback or LAN address.
func (h *Handler) addrForPort(port string) string {
	host, _, err := net.SplitHostPort(h.Node.SelfAddr())
	if err != nil {
		return port
	}
	return net.JoinHostPort(host, port)
}

// sendBestEffort opens a short-lived connection, writes one line, and
// discards any reply. Used for broadcasts and other fire-and-forget
// notifications where the caller cannot act on failure beyond logging it.
func (h *Handler) sendBestEffort(addr, line string) {
	conn, err := h.Dial(addr, controlTimeout)
	if err != nil {
		h.log.Debug().Err(err).Str("peer", addr).Msg("best-effort send failed")
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(controlTimeout))
	if err := protocol.WriteLine(conn, line); err != nil {
		h.log.Debug().Err(err).Str("peer", addr).Msg("best-effort send failed")
	}
}

// writeErr writes a textual ERR reply.
func writeErr(w io.Writer, format string, args ...any) error {
	return protocol.WriteLine(w, fmt.Sprintf("ERR %s", fmt.Sprintf(format, args...)))
}

func writeOK(w io.Writer) error {
	return protocol.WriteLine(w, "OK")
}
