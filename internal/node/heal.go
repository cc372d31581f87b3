package node

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

const (
	respawnPollInterval = 50 * time.Millisecond
	respawnDeadline     = 10 * time.Second
)

// Detector runs the per-successor heartbeat loop and owns the
// handle-node-death sequence, mirroring the ticker/stopCh shape used
// elsewhere in the ring toolchain for background reconciliation work.
type Detector struct {
	h      *Handler
	stopCh chan struct{}
	once   sync.Once
}

// NewDetector builds a Detector bound to h. It does not start running
// until Start is called.
func NewDetector(h *Handler) *Detector {
	return &Detector{h: h, stopCh: make(chan struct{})}
}

// Start begins the heartbeat loop if h.Node.GossipInterval is positive;
// a non-positive interval disables failure detection entirely.
func (d *Detector) Start() {
	if d.h.Node.GossipInterval <= 0 {
		return
	}
	go d.run()
}

// Stop halts the heartbeat loop. Safe to call more than once.
func (d *Detector) Stop() {
	d.once.Do(func() { close(d.stopCh) })
}

func (d *Detector) run() {
	ticker := time.NewTicker(d.h.Node.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.checkSuccessor()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Detector) checkSuccessor() {
	next, ok := d.h.Node.Next()
	if !ok {
		return
	}
	if !pingAlive(d.h.Dial, next) {
		go d.h.handleNodeDeath(next)
	}
}

func pingAlive(dial Dialer, addr string) bool {
	conn, err := dial(addr, pingTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(pingTimeout))
	if err := protocol.WriteLine(conn, "NODE PING"); err != nil {
		return false
	}
	r := bufio.NewReader(conn)
	line, err := protocol.ReadLine(r)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "PONG")
}

// handleNodeDeath marks deadAddr dead, respawns it, waits for it to
// accept connections again, and pushes it everything it needs to rejoin:
// the current netmap, topology, and file tags, plus its own successor
// pointer and — best-effort — a direct reseed of its primary chunk from
// this node's backup mirror.
func (h *Handler) handleNodeDeath(deadAddr string) {
	// The heartbeat fires every tick while the successor is down;
	// concurrent detections of the same dead peer collapse into one heal
	// so only a single replacement is ever spawned.
	h.healMu.Lock()
	if h.healing[deadAddr] {
		h.healMu.Unlock()
		return
	}
	h.healing[deadAddr] = true
	h.healMu.Unlock()
	defer func() {
		h.healMu.Lock()
		delete(h.healing, deadAddr)
		h.healMu.Unlock()
	}()

	deadPort := h.mustPort(deadAddr)
	h.log.Warn().Str("peer", deadAddr).Msg("successor unresponsive, starting heal")

	h.Node.SetNetmapEntry(deadPort, ring.Dead)
	h.broadcastNetmapSet(h.Node.Netmap())

	respawn(deadAddr, h.Node.GossipInterval)

	deadline := time.Now().Add(respawnDeadline)
	for time.Now().Before(deadline) {
		if pingAlive(h.Dial, deadAddr) {
			break
		}
		time.Sleep(respawnPollInterval)
	}

	h.Node.SetNetmapEntry(deadPort, ring.Alive)

	netmap := h.Node.Netmap()
	h.sendBestEffort(deadAddr, protocol.NetmapSetLine(protocol.EncodeNetmap(netmap)))

	topology := h.Node.Topology()
	if len(topology) > 0 {
		h.sendBestEffort(deadAddr, protocol.TopologySetLine(protocol.EncodeHistory(protocol.TopologyEdgesSorted(topology))))
	}

	tags := h.Node.FileTags()
	if len(tags) > 0 {
		h.sendBestEffort(deadAddr, protocol.FileTagsSetLine(protocol.EncodeFileTags(tags)))
	}

	if successor, ok := topology[deadPort]; ok {
		h.sendBestEffort(deadAddr, protocol.NodeNextLine(h.addrForPort(successor)))
	}

	h.broadcastNetmapSet(h.Node.Netmap())
	h.reseedChunks(deadAddr, deadPort, tags)
}

// reseedChunks looks for every file whose chunk at deadPort's ring
// position this node mirrors in its own backup store, and pushes a fresh
// copy straight to the respawned node so it doesn't have to wait for
// another push to get its primary copy back. Best-effort: a chunk this
// node doesn't have backed up is simply skipped.
func (h *Handler) reseedChunks(deadAddr, deadPort string, tags map[string]ring.FileTag) {
	topology := h.Node.Topology()
	for name, tag := range tags {
		index, ok := chunkIndexForPort(topology, tag.Origin, deadPort, tag.Parts)
		if !ok {
			continue
		}
		chunkName := ring.ChunkFileName(name, index, tag.Parts)
		rc, size, err := h.Store.ReadBackup(chunkName)
		if err != nil {
			continue
		}
		h.sendChunkBlob(deadAddr, chunkName, rc, size)
	}
}

func (h *Handler) sendChunkBlob(addr, chunkName string, r io.ReadCloser, size int64) {
	defer r.Close()
	conn, err := h.Dial(addr, controlTimeout)
	if err != nil {
		h.log.Debug().Err(err).Str("chunk", chunkName).Msg("reseed: dial failed")
		return
	}
	defer conn.Close()
	header := protocol.FileRelayBlobLine(h.Node.NextFileToken(), h.Node.SelfAddr(), size, chunkName)
	if err := protocol.WriteLine(conn, header); err != nil {
		h.log.Debug().Err(err).Str("chunk", chunkName).Msg("reseed: write failed")
		return
	}
	if _, err := io.CopyN(conn, r, size); err != nil {
		h.log.Debug().Err(err).Str("chunk", chunkName).Msg("reseed: stream failed")
	}
}

// chunkIndexForPort walks the topology from origin for up to `parts`
// hops looking for targetPort, returning its 0-based position in the
// ring relative to origin.
func chunkIndexForPort(topology map[string]string, origin, targetPort string, parts int) (int, bool) {
	cur := origin
	for i := 0; i < parts; i++ {
		if cur == targetPort {
			return i, true
		}
		next, ok := topology[cur]
		if !ok {
			return 0, false
		}
		cur = next
	}
	return 0, false
}

// respawn re-executes this same binary as a detached child bound to
// addr, in place of the node that just went unresponsive.
func respawn(addr string, gossipInterval time.Duration) {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	cmd := exec.Command(exe, "run", "--addr", addr, "--wait-time", strconv.FormatInt(gossipInterval.Milliseconds(), 10))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setDetached(cmd)
	_ = cmd.Start()
}

// handleNodeHeal is the client-facing entry point for an explicit heal
// walk: this node checks its own successor synchronously, then forwards
// a heal hop around the ring so every node does the same in turn before
// signalling back.
func (h *Handler) handleNodeHeal(w io.Writer) error {
	h.checkAndHealOwnSuccessor()

	next, ok := h.Node.Next()
	if !ok {
		return writeErr(w, "no next hop set")
	}

	token := h.Node.NextWalkToken()
	ch := h.Node.Heals.Register(token)
	go h.sendBestEffort(next, protocol.NodeHealHopLine(token, h.Node.SelfAddr()))

	select {
	case <-ch:
		return writeOK(w)
	case <-time.After(healTimeout):
		h.Node.Heals.Drop(token)
		return writeErr(w, "heal walk timed out")
	}
}

func (h *Handler) handleNodeHealHop(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	go h.continueHealWalk(cmd.Token, cmd.Start)
	return nil
}

func (h *Handler) continueHealWalk(token, start string) {
	h.checkAndHealOwnSuccessor()

	next, ok := h.Node.Next()
	if !ok {
		h.log.Warn().Str("token", token).Msg("heal walk: dead end, no successor")
		return
	}
	if next == start {
		h.sendBestEffort(start, protocol.NodeHealDoneLine(token))
		return
	}
	h.sendBestEffort(next, protocol.NodeHealHopLine(token, start))
}

func (h *Handler) handleNodeHealDone(cmd protocol.Command, w io.Writer) error {
	if err := writeOK(w); err != nil {
		return err
	}
	h.Node.Heals.Complete(cmd.Token, struct{}{})
	return nil
}

// checkAndHealOwnSuccessor is the synchronous building block of an
// explicit heal walk (the heartbeat loop's checkSuccessor makes the same
// check but runs the heal in the background): on a healthy ring it
// mutates nothing, keeping repeated NODE HEAL walks idempotent.
func (h *Handler) checkAndHealOwnSuccessor() {
	next, ok := h.Node.Next()
	if !ok {
		return
	}
	if !pingAlive(h.Dial, next) {
		h.handleNodeDeath(next)
	}
}
