package node

import (
	"bufio"
	"io"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// handleFilePull reassembles a file chunk by chunk and streams it
// straight onto w as each chunk arrives, rather than buffering the whole
// reconstruction in memory. For each chunk it walks the topology from the
// file's origin; if the owning node is unreachable or doesn't have the
// chunk, it marks that port dead, broadcasts the change, and falls back
// to the owner's predecessor's backup mirror.
func (h *Handler) handleFilePull(cmd protocol.Command, w io.Writer) error {
	tag, ok := h.Node.FileTag(cmd.Name)
	if !ok {
		return writeErr(w, "file not found")
	}

	topology := h.Node.Topology()
	cur := tag.Origin

	for i := 0; i < tag.Parts; i++ {
		chunkName := ring.ChunkFileName(cmd.Name, i, tag.Parts)
		if !h.fetchChunkInto(w, cur, chunkName) {
			h.Node.SetNetmapEntry(cur, ring.Dead)
			go h.broadcastNetmapSet(h.Node.Netmap())

			if pred, ok := h.Node.PredecessorOf(cur); ok {
				h.fetchBackupChunkInto(w, pred, chunkName)
			}
		}
		cur = topology[cur]
	}
	return nil
}

// fetchChunkInto dials the node owning port `port` and asks it for
// chunkName, copying the response body straight onto w. Reports whether
// the fetch succeeded.
func (h *Handler) fetchChunkInto(w io.Writer, port, chunkName string) bool {
	return h.relayChunk(w, port, protocol.FileGetChunkLine(chunkName))
}

func (h *Handler) fetchBackupChunkInto(w io.Writer, port, chunkName string) bool {
	return h.relayChunk(w, port, protocol.FileGetBackupChunkLine(chunkName))
}

func (h *Handler) relayChunk(w io.Writer, port, requestLine string) bool {
	conn, err := h.Dial(h.addrForPort(port), controlTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	if err := protocol.WriteLine(conn, requestLine); err != nil {
		return false
	}

	r := bufio.NewReader(conn)
	line, err := protocol.ReadLine(r)
	if err != nil {
		return false
	}
	resp, err := protocol.Parse(line)
	if err != nil || resp.Kind != protocol.FileRespChunk {
		return false
	}
	if _, err := io.CopyN(w, r, resp.Size); err != nil {
		return false
	}
	return true
}

// handleFileList replies with the CSV-encoded file-tag table, one row
// per replicated file, then closes the connection.
func (h *Handler) handleFileList(w io.Writer) error {
	rows := protocol.FileListRowsFromTags(h.Node.FileTags())
	body, err := protocol.EncodeFileListCSV(rows)
	if err != nil {
		return writeErr(w, "encode file list: %v", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return writeOK(w)
}
