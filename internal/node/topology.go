package node

import (
	"io"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// handleTopologyWalk is the client-facing entry point: it mints a token,
// sends the first hop to this node's own successor, and blocks on the
// walk's pending-completion channel until the accumulated history comes
// back around or walkTimeout elapses.
func (h *Handler) handleTopologyWalk(w io.Writer) error {
	next, ok := h.Node.Next()
	if !ok {
		return writeErr(w, "no next hop set")
	}

	token := h.Node.NextWalkToken()
	ch := h.Node.Walks.Register(token)

	edges := []protocol.Edge{{From: h.Node.SelfPort(), To: h.mustPort(next)}}
	history := protocol.EncodeHistory(edges)
	go h.sendBestEffort(next, protocol.TopologyHopLine(token, h.Node.SelfAddr(), history))

	select {
	case result := <-ch:
		finalEdges, err := protocol.DecodeHistory(result)
		if err != nil {
			return writeErr(w, "malformed topology result: %v", err)
		}
		h.Node.ReplaceTopology(protocol.HistoryToTopology(finalEdges))
		go h.broadcastTopologySet(protocol.HistoryToTopology(finalEdges))
		for _, e := range finalEdges {
			if err := protocol.WriteLine(w, e.From+"->"+e.To); err != nil {
				return err
			}
		}
		return writeOK(w)
	case <-time.After(walkTimeout):
		h.Node.Walks.Drop(token)
		return writeErr(w, "topology walk timed out")
	}
}

// handleTopologyHop acknowledges receipt immediately, then continues the
// walk (or signals the origin) in the background so the sending hop's
// connection isn't held open for the whole ring traversal.
func (h *Handler) handleTopologyHop(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	go h.continueTopologyWalk(cmd.Token, cmd.Start, cmd.History)
	return nil
}

func (h *Handler) continueTopologyWalk(token, start, history string) {
	next, ok := h.Node.Next()
	if !ok {
		h.log.Warn().Str("token", token).Msg("topology walk: dead end, no successor")
		return
	}

	edges, err := protocol.DecodeHistory(history)
	if err != nil {
		h.log.Warn().Err(err).Str("token", token).Msg("topology walk: malformed history")
		return
	}
	edges = append(edges, protocol.Edge{From: h.Node.SelfPort(), To: h.mustPort(next)})
	newHistory := protocol.EncodeHistory(edges)

	if next == start {
		h.sendBestEffort(start, protocol.TopologyDoneLine(token, newHistory))
		return
	}
	h.sendBestEffort(next, protocol.TopologyHopLine(token, start, newHistory))
}

func (h *Handler) handleTopologyDone(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	h.Node.Walks.Complete(cmd.Token, cmd.History)
	return nil
}

func (h *Handler) handleTopologySet(cmd protocol.Command, w io.Writer) error {
	edges, err := protocol.DecodeHistory(cmd.History)
	if err != nil {
		return writeErr(w, "malformed topology: %v", err)
	}
	h.Node.ReplaceTopology(protocol.HistoryToTopology(edges))
	return writeOK(w)
}

// broadcastTopologySet announces a freshly completed topology to every
// known peer, skipping self. Best-effort: a peer that doesn't answer
// picks up the same map on its own next walk or heal.
func (h *Handler) broadcastTopologySet(topology map[string]string) {
	line := protocol.TopologySetLine(protocol.EncodeHistory(protocol.TopologyEdgesSorted(topology)))
	for port := range h.Node.Netmap() {
		if port == h.Node.SelfPort() {
			continue
		}
		h.sendBestEffort(h.addrForPort(port), line)
	}
}

// mustPort extracts the port from an address, falling back to the
// address itself if it's already bare (defensive; every caller passes a
// full host:port in practice).
func (h *Handler) mustPort(addr string) string {
	port, err := ring.PortOf(addr)
	if err != nil {
		return addr
	}
	return port
}
