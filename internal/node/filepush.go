package node

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// handleFilePush is the origin side of a file push: it saves this node's
// own fair share of the incoming body straight to disk, then streams the
// remaining bytes on to its successor in a single pass — the body is
// never buffered whole in memory, only ever read exactly once off the
// client socket and copied exactly once onto the outbound socket. It
// then waits for the push to complete its lap of the ring before telling
// the client OK.
func (h *Handler) handleFilePush(cmd protocol.Command, r *bufio.Reader, w io.Writer) (closeAfter bool, err error) {
	netmap := h.Node.Netmap()
	parts := len(netmap)
	if parts < 1 {
		parts = 1
	}

	h.Node.SetFileTag(cmd.Name, ring.FileTag{Origin: h.Node.SelfPort(), Size: cmd.Size, Parts: parts})

	firstLen := ring.FairChunkLen(0, cmd.Size, int64(parts))
	chunkName := ring.ChunkFileName(cmd.Name, 0, parts)
	if err := h.Store.SaveContent(chunkName, r, firstLen); err != nil {
		return false, writeErr(w, "store chunk: %v", err)
	}
	go h.notifyPredecessorChunkSaved(chunkName)

	if parts == 1 {
		if err := protocol.WriteLine(w, fmt.Sprintf("FILE %d '%s' stored locally", cmd.Size, cmd.Name)); err != nil {
			return false, err
		}
		return false, writeOK(w)
	}

	next, ok := h.Node.Next()
	if !ok {
		return false, writeErr(w, "no next hop set")
	}

	token := h.Node.NextFileToken()
	doneCh := h.Node.Files.Register(token)

	conn, err := h.Dial(next, controlTimeout)
	if err != nil {
		h.Node.Files.Drop(token)
		return false, writeErr(w, "relay to successor: %v", err)
	}
	header := protocol.FileRelayStreamLine(token, h.Node.SelfAddr(), cmd.Size, parts, 1, cmd.Name)
	if err := protocol.WriteLine(conn, header); err != nil {
		conn.Close()
		h.Node.Files.Drop(token)
		return false, writeErr(w, "relay to successor: %v", err)
	}
	remaining := cmd.Size - firstLen
	if remaining > 0 {
		if _, err := io.CopyN(conn, r, remaining); err != nil {
			conn.Close()
			h.Node.Files.Drop(token)
			return false, writeErr(w, "relay to successor: %v", err)
		}
	}
	conn.Close()

	select {
	case relayErr := <-doneCh:
		if relayErr != nil {
			return false, writeErr(w, "push failed: %v", relayErr)
		}
		if err := protocol.WriteLine(w, fmt.Sprintf("FILE %d bytes split into %d chunks and distributed", cmd.Size, parts)); err != nil {
			return false, err
		}
		return false, writeOK(w)
	case <-time.After(pushTimeout):
		h.Node.Files.Drop(token)
		h.log.Warn().Str("token", token).Msg("file push timed out, closing client connection without a reply")
		return true, nil
	}
}

// handleFileRelayStream is every other hop's side of a push: read exactly
// this chunk's fair share off the inbound socket, save it, and — if any
// bytes remain — forward the rest on to the successor before replying.
// The forward is synchronous because it keeps consuming r, which this
// call owns exclusively; only the backup notification and the final
// completion signal (neither of which touch r again) are backgrounded.
func (h *Handler) handleFileRelayStream(cmd protocol.Command, r *bufio.Reader, w io.Writer) (closeAfter bool, err error) {
	if cmd.Index < 0 || cmd.Index >= cmd.Parts {
		return false, writeErr(w, "index %d out of range for %d parts", cmd.Index, cmd.Parts)
	}

	myLen := ring.FairChunkLen(int64(cmd.Index), cmd.FileSize, int64(cmd.Parts))
	chunkName := ring.ChunkFileName(cmd.Name, cmd.Index, cmd.Parts)
	if err := h.Store.SaveContent(chunkName, r, myLen); err != nil {
		return false, writeErr(w, "store chunk: %v", err)
	}

	originPort := h.mustPort(cmd.Start)
	h.Node.SetFileTag(cmd.Name, ring.FileTag{Origin: originPort, Size: cmd.FileSize, Parts: cmd.Parts})
	go h.notifyPredecessorChunkSaved(chunkName)

	consumed := ring.SumChunkLenThrough(int64(cmd.Index), cmd.FileSize, int64(cmd.Parts))
	remaining := cmd.FileSize - consumed

	if remaining > 0 {
		next, ok := h.Node.Next()
		if !ok {
			h.log.Warn().Str("token", cmd.Token).Msg("file relay: dead end, no successor; push will time out at origin")
		} else {
			conn, err := h.Dial(next, controlTimeout)
			if err != nil {
				h.log.Warn().Err(err).Str("token", cmd.Token).Msg("file relay: could not reach successor")
			} else {
				header := protocol.FileRelayStreamLine(cmd.Token, cmd.Start, cmd.FileSize, cmd.Parts, cmd.Index+1, cmd.Name)
				if err := protocol.WriteLine(conn, header); err != nil {
					h.log.Warn().Err(err).Str("token", cmd.Token).Msg("file relay: write failed")
				} else if _, err := io.CopyN(conn, r, remaining); err != nil {
					h.log.Warn().Err(err).Str("token", cmd.Token).Msg("file relay: stream failed")
				}
				conn.Close()
			}
		}
	} else {
		go h.signalPushDone(cmd.Start, cmd.Token)
	}

	return false, writeOK(w)
}

func (h *Handler) signalPushDone(originAddr, token string) {
	h.sendBestEffort(originAddr, protocol.FilePushDoneLine(token))
}

func (h *Handler) handleFilePushDone(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	h.Node.Files.Complete(cmd.Token, nil)
	return nil
}

// handleFileRelayBlob restores a single named chunk directly from a peer,
// used during heal re-sync to reseed a respawned node's primary copy from
// its predecessor's backup mirror. Unlike RELAY-STREAM it carries no
// index/parts: Name is already the final on-disk chunk filename.
func (h *Handler) handleFileRelayBlob(cmd protocol.Command, r *bufio.Reader, w io.Writer) error {
	if err := h.Store.SaveContent(cmd.Name, r, cmd.Size); err != nil {
		return writeErr(w, "store chunk: %v", err)
	}
	return writeOK(w)
}
