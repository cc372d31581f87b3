package node

import (
	"io"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

func (h *Handler) handleFileTagsSet(cmd protocol.Command, w io.Writer) error {
	tags, err := protocol.DecodeFileTags(cmd.Entries)
	if err != nil {
		return writeErr(w, "malformed file tags: %v", err)
	}
	h.Node.ReplaceFileTags(tags)
	return writeOK(w)
}
