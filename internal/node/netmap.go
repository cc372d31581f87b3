package node

import (
	"io"
	"sort"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// handleNetmapDiscover is the client-facing entry point for a liveness
// sweep of the ring: it seeds the accumulator with its own entry, sends
// the first hop, and waits for the walk to come back around. The reply
// mirrors NETMAP GET's line format for consistency with the rest of the
// read-side replies.
func (h *Handler) handleNetmapDiscover(w io.Writer) error {
	next, ok := h.Node.Next()
	if !ok {
		return writeErr(w, "no next hop set")
	}

	token := h.Node.NextWalkToken()
	ch := h.Node.Walks.Register(token)

	seed := map[string]ring.Status{h.Node.SelfPort(): ring.Alive}
	entries := protocol.EncodeNetmap(seed)
	go h.sendBestEffort(next, protocol.NetmapHopLine(token, h.Node.SelfAddr(), entries))

	select {
	case result := <-ch:
		m, err := protocol.DecodeNetmap(result)
		if err != nil {
			return writeErr(w, "malformed netmap result: %v", err)
		}
		h.Node.ReplaceNetmap(m)
		go h.broadcastNetmapSet(m)
		return writeNetmapLines(w, m)
	case <-time.After(walkTimeout):
		h.Node.Walks.Drop(token)
		return writeErr(w, "netmap discover timed out")
	}
}

func (h *Handler) handleNetmapHop(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	go h.continueNetmapWalk(cmd.Token, cmd.Start, cmd.Entries)
	return nil
}

func (h *Handler) continueNetmapWalk(token, start, entries string) {
	next, ok := h.Node.Next()
	if !ok {
		h.log.Warn().Str("token", token).Msg("netmap discover: dead end, no successor")
		return
	}

	m, err := protocol.DecodeNetmap(entries)
	if err != nil {
		h.log.Warn().Err(err).Str("token", token).Msg("netmap discover: malformed entries")
		return
	}
	m[h.Node.SelfPort()] = ring.Alive
	newEntries := protocol.EncodeNetmap(m)

	if next == start {
		h.sendBestEffort(start, protocol.NetmapDoneLine(token, newEntries))
		return
	}
	h.sendBestEffort(next, protocol.NetmapHopLine(token, start, newEntries))
}

func (h *Handler) handleNetmapDone(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	h.Node.Walks.Complete(cmd.Token, cmd.Entries)
	return nil
}

func (h *Handler) handleNetmapSet(cmd protocol.Command, w io.Writer) error {
	m, err := protocol.DecodeNetmap(cmd.Entries)
	if err != nil {
		return writeErr(w, "malformed netmap: %v", err)
	}
	h.Node.ReplaceNetmap(m)
	return writeOK(w)
}

func (h *Handler) handleNetmapGet(w io.Writer) error {
	return writeNetmapLines(w, h.Node.Netmap())
}

func writeNetmapLines(w io.Writer, m map[string]ring.Status) error {
	ports := make([]string, 0, len(m))
	for p := range m {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	for _, p := range ports {
		if err := protocol.WriteLine(w, p+"="+string(m[p])); err != nil {
			return err
		}
	}
	return writeOK(w)
}

// broadcastNetmapSet announces the current netmap to every known peer,
// skipping self.
func (h *Handler) broadcastNetmapSet(m map[string]ring.Status) {
	line := protocol.NetmapSetLine(protocol.EncodeNetmap(m))
	for port := range m {
		if port == h.Node.SelfPort() {
			continue
		}
		h.sendBestEffort(h.addrForPort(port), line)
	}
}
