package node

import (
	"io"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// handleRingForward implements the check-then-decrement TTL discipline
// confirmed against the original prototype: a message arriving with
// ttl > 0 is forwarded with ttl-1, and one arriving with ttl == 0 is not
// forwarded, but the connection still sees OK.
func (h *Handler) handleRingForward(cmd protocol.Command, w io.Writer) error {
	if cmd.TTL > 0 {
		next, ok := h.Node.Next()
		if ok {
			go h.sendBestEffort(next, protocol.RingForwardLine(cmd.TTL-1, cmd.Message))
		} else {
			h.log.Warn().Msg("ring forward: no successor set, dropping message")
		}
	}
	return writeOK(w)
}
