package node

import (
	"bufio"
	"io"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
)

// Dispatch handles one parsed command on a connection whose remaining
// body bytes (if any) are still buffered in r. It returns whether the
// connection handler in internal/server should close the connection
// after this reply, and an error only for conditions that make the
// connection itself unusable (the command's own failures are reported to
// the peer as an ERR line, not returned here).
//
// A FILE PUSH that times out waiting for its ring-wide completion writes
// no reply at all and returns closeAfter=true: per the error-handling
// design, a client that can't get a timely push confirmation sees a
// closed connection rather than a stale or wrong one. Walk and heal
// timeouts instead reply with an ERR line and keep the connection open.
func (h *Handler) Dispatch(r *bufio.Reader, w io.Writer, cmd protocol.Command) (closeAfter bool, err error) {
	switch cmd.Kind {
	case protocol.NodeNext:
		return false, h.handleNodeNext(cmd, w)
	case protocol.NodeStatus:
		return false, h.handleNodeStatus(w)
	case protocol.NodePing:
		return false, h.handleNodePing(w)
	case protocol.NodeHeal:
		return false, h.handleNodeHeal(w)
	case protocol.NodeHealHop:
		return false, h.handleNodeHealHop(cmd, w)
	case protocol.NodeHealDone:
		return false, h.handleNodeHealDone(cmd, w)
	case protocol.RingForward:
		return false, h.handleRingForward(cmd, w)
	case protocol.TopologyWalk:
		return false, h.handleTopologyWalk(w)
	case protocol.TopologyHop:
		return false, h.handleTopologyHop(cmd, w)
	case protocol.TopologyDone:
		return false, h.handleTopologyDone(cmd, w)
	case protocol.TopologySet:
		return false, h.handleTopologySet(cmd, w)
	case protocol.NetmapDiscover:
		return false, h.handleNetmapDiscover(w)
	case protocol.NetmapHop:
		return false, h.handleNetmapHop(cmd, w)
	case protocol.NetmapDone:
		return false, h.handleNetmapDone(cmd, w)
	case protocol.NetmapSet:
		return false, h.handleNetmapSet(cmd, w)
	case protocol.NetmapGet:
		return false, h.handleNetmapGet(w)
	case protocol.FilePush:
		return h.handleFilePush(cmd, r, w)
	case protocol.FilePull:
		return true, h.handleFilePull(cmd, w)
	case protocol.FileList:
		return true, h.handleFileList(w)
	case protocol.FileTagsSet:
		return false, h.handleFileTagsSet(cmd, w)
	case protocol.FileRelayBlob:
		return true, h.handleFileRelayBlob(cmd, r, w)
	case protocol.FileRelayStream:
		return h.handleFileRelayStream(cmd, r, w)
	case protocol.FileGetChunk:
		return true, h.handleFileGetChunk(cmd, w)
	case protocol.FileGetChunkForBackup:
		return true, h.handleFileGetChunkForBackup(cmd, w)
	case protocol.FileGetBackupChunk:
		return true, h.handleFileGetBackupChunk(cmd, w)
	case protocol.FileNotifyChunkSaved:
		return false, h.handleFileNotifyChunkSaved(cmd, w)
	case protocol.FilePushDone:
		return false, h.handleFilePushDone(cmd, w)
	default:
		return false, writeErr(w, "unhandled command")
	}
}
