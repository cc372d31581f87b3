package node

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// notifyPredecessorChunkSaved tells this node's predecessor that a chunk
// just landed in content/, so the predecessor can pull its own backup
// mirror of it. Fire-and-forget: a missed notification only means the
// backup copy lags until the next push touches the same chunk.
func (h *Handler) notifyPredecessorChunkSaved(chunkName string) {
	pred, ok := h.Node.PredecessorOf(h.Node.SelfPort())
	if !ok {
		return
	}
	h.sendBestEffort(h.addrForPort(pred), protocol.FileNotifyChunkSavedLine(chunkName))
}

// handleFileNotifyChunkSaved acknowledges the notification immediately,
// then fetches the chunk from its successor (the node that just saved it)
// into this node's own backup mirror in the background.
func (h *Handler) handleFileNotifyChunkSaved(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	go h.fetchBackupChunk(cmd.Name)
	return nil
}

func (h *Handler) fetchBackupChunk(chunkName string) {
	next, ok := h.Node.Next()
	if !ok {
		return
	}
	conn, err := h.Dial(next, controlTimeout)
	if err != nil {
		h.log.Debug().Err(err).Str("chunk", chunkName).Msg("backup fetch: dial failed")
		return
	}
	defer conn.Close()

	if err := protocol.WriteLine(conn, protocol.FileGetChunkForBackupLine(chunkName)); err != nil {
		h.log.Debug().Err(err).Str("chunk", chunkName).Msg("backup fetch: write failed")
		return
	}

	r := bufio.NewReader(conn)
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		h.log.Debug().Err(err).Str("chunk", chunkName).Msg("backup fetch: read length failed")
		return
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	if n == 0 {
		h.log.Debug().Str("chunk", chunkName).Msg("backup fetch: successor doesn't have this chunk")
		return
	}
	if err := h.Store.SaveBackup(chunkName, r, int64(n)); err != nil {
		h.log.Warn().Err(err).Str("chunk", chunkName).Msg("backup fetch: save failed")
	}
}

// handleFileGetChunkForBackup replies with a raw 8-byte big-endian length
// prefix followed by exactly that many bytes (length 0 meaning "don't
// have it"); there is no surrounding text framing or trailing OK, since
// the framing itself carries the only information the caller needs.
func (h *Handler) handleFileGetChunkForBackup(cmd protocol.Command, w io.Writer) error {
	rc, size, err := h.Store.ReadContent(cmd.Name)
	if err != nil {
		var lenBuf [8]byte
		_, werr := w.Write(lenBuf[:])
		return werr
	}
	defer rc.Close()

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(size))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = io.CopyN(w, rc, size)
	return err
}

// handleFileGetBackupChunk reads the chunk from this node's own backup
// mirror and replies with the usual FILE RESP-CHUNK header plus raw
// bytes, identically to handleFileGetChunk but against the backup store.
// Used when a pull finds the primary owner unreachable.
func (h *Handler) handleFileGetBackupChunk(cmd protocol.Command, w io.Writer) error {
	rc, size, err := h.Store.ReadBackup(cmd.Name)
	if err != nil {
		return writeErr(w, "backup chunk not found: %v", err)
	}
	defer rc.Close()

	next, _ := h.Node.Next()
	if err := protocol.WriteLine(w, protocol.FileRespChunkLine(next, size, cmd.Name)); err != nil {
		return err
	}
	_, err = io.CopyN(w, rc, size)
	return err
}

// handleFileGetChunk reads the chunk from this node's primary content
// store, replying with a FILE RESP-CHUNK header (naming this node's own
// successor, for the requester's visibility) followed by the raw bytes.
func (h *Handler) handleFileGetChunk(cmd protocol.Command, w io.Writer) error {
	rc, size, err := h.Store.ReadContent(cmd.Name)
	if err != nil {
		return writeErr(w, "chunk not found: %v", err)
	}
	defer rc.Close()

	next, _ := h.Node.Next()
	if err := protocol.WriteLine(w, protocol.FileRespChunkLine(next, size, cmd.Name)); err != nil {
		return err
	}
	_, err = io.CopyN(w, rc, size)
	return err
}
