package node

import (
	"fmt"
	"io"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

func (h *Handler) handleNodeNext(cmd protocol.Command, w io.Writer) error {
	h.Node.SetNext(cmd.Addr)
	return protocol.WriteLine(w, fmt.Sprintf("OK next=%s", cmd.Addr))
}

func (h *Handler) handleNodeStatus(w io.Writer) error {
	next, ok := h.Node.Next()
	if !ok {
		next = ring.UnsetNext
	}
	if err := protocol.WriteLine(w, fmt.Sprintf("PORT %s", h.Node.SelfPort())); err != nil {
		return err
	}
	if err := protocol.WriteLine(w, fmt.Sprintf("NEXT %s", next)); err != nil {
		return err
	}
	return writeOK(w)
}

func (h *Handler) handleNodePing(w io.Writer) error {
	return protocol.WriteLine(w, "PONG")
}
