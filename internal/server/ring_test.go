package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazardous-sun/ouroboros-fs/internal/chunkstore"
	"github.com/hazardous-sun/ouroboros-fs/internal/node"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// testNode is one running ring node bound to an ephemeral loopback port,
// wired up the way cmd/ouroboros's "run" subcommand does it, except that
// it uses a plain listener and starts no failure detector.
type testNode struct {
	Addr    string
	Handler *node.Handler
	ln      net.Listener
}

func startTestNode(t *testing.T) *testNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	n, err := ring.New(addr, 0, t.TempDir())
	require.NoError(t, err)

	store, err := chunkstore.Open(n.DataDir)
	require.NoError(t, err)

	h := node.NewHandler(n, store)
	srv := New(addr, h)
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })

	return &testNode{Addr: addr, Handler: h, ln: ln}
}

// wireRing links nodes[i] -> nodes[i+1], closing the cycle, via real
// NODE NEXT commands over the wire.
func wireRing(t *testing.T, nodes []*testNode) {
	t.Helper()
	for i, n := range nodes {
		next := nodes[(i+1)%len(nodes)]
		reply := sendLine(t, n.Addr, "NODE NEXT "+next.Addr)
		assert.Contains(t, reply, "OK")
	}
}

// sendLine dials addr, writes line, and returns the first reply line.
func sendLine(t *testing.T, addr, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "%s\n", line)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	return reply
}

func dialAndRead(t *testing.T, addr string, timeout time.Duration) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(timeout))
	return conn, bufio.NewReader(conn)
}

func TestThreeNodeRingTopologyWalk(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)

	conn, r := dialAndRead(t, nodes[0].Addr, 5*time.Second)
	defer conn.Close()

	_, err := fmt.Fprintf(conn, "TOPOLOGY WALK\n")
	require.NoError(t, err)

	var lines []string
	for i := 0; i < 4; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, line[:len(line)-1])
	}
	require.Len(t, lines, 4)
	assert.Equal(t, "OK", lines[3])

	ports := make([]string, 3)
	for i, n := range nodes {
		p, err := ring.PortOf(n.Addr)
		require.NoError(t, err)
		ports[i] = p
	}
	assert.ElementsMatch(t, []string{
		ports[0] + "->" + ports[1],
		ports[1] + "->" + ports[2],
		ports[2] + "->" + ports[0],
	}, lines[:3])
}

func TestThreeNodeNetmapDiscover(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)

	conn, r := dialAndRead(t, nodes[0].Addr, 5*time.Second)
	defer conn.Close()
	_, err := fmt.Fprintf(conn, "NETMAP DISCOVER\n")
	require.NoError(t, err)

	var lines []string
	for i := 0; i < 4; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, line[:len(line)-1])
	}
	assert.Equal(t, "OK", lines[3])

	// Re-query with NETMAP GET on a different node; broadcast should have
	// propagated the discovered map.
	time.Sleep(100 * time.Millisecond)
	conn2, r2 := dialAndRead(t, nodes[1].Addr, 5*time.Second)
	defer conn2.Close()
	_, err = fmt.Fprintf(conn2, "NETMAP GET\n")
	require.NoError(t, err)

	var got []string
	for i := 0; i < 4; i++ {
		line, err := r2.ReadString('\n')
		require.NoError(t, err)
		got = append(got, line[:len(line)-1])
	}
	assert.Equal(t, "OK", got[3])
	assert.Len(t, got[:3], 3)
}

func TestPushAndPullRoundTrip(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)

	// Seed the netmap so the origin computes parts == 3, and the
	// topology so the pull walk knows the ring shape.
	for _, n := range nodes {
		sendLine(t, n.Addr, "NETMAP DISCOVER")
	}
	time.Sleep(100 * time.Millisecond)
	for _, n := range nodes {
		sendLine(t, n.Addr, "TOPOLOGY WALK")
	}
	time.Sleep(100 * time.Millisecond)

	payload := "ABCDEFGHIJ" // 10 bytes
	pushConn, pushR := dialAndRead(t, nodes[0].Addr, 5*time.Second)
	_, err := fmt.Fprintf(pushConn, "FILE PUSH %d movie.bin\n", len(payload))
	require.NoError(t, err)
	_, err = io.WriteString(pushConn, payload)
	require.NoError(t, err)

	line1, err := pushR.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line1, "distributed")
	line2, err := pushR.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK\n", line2)
	pushConn.Close()

	// Pull it back from a different node than the origin.
	pullConn, err := net.DialTimeout("tcp", nodes[2].Addr, 5*time.Second)
	require.NoError(t, err)
	defer pullConn.Close()
	_, err = fmt.Fprintf(pullConn, "FILE PULL movie.bin\n")
	require.NoError(t, err)
	pullConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	body, err := io.ReadAll(pullConn)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestPullOfMissingFileReturnsErr(t *testing.T) {
	n := startTestNode(t)
	reply := sendLine(t, n.Addr, "FILE PULL missing.bin")
	assert.Equal(t, "ERR file not found\n", reply)
}

func TestRingForwardZeroTTLDoesNotForward(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)

	reply := sendLine(t, nodes[0].Addr, "RING FORWARD 0 hello")
	assert.Equal(t, "OK\n", reply)
}

func TestNodeStatusReportsUnsetSentinel(t *testing.T) {
	n := startTestNode(t)
	conn, r := dialAndRead(t, n.Addr, 2*time.Second)
	defer conn.Close()
	_, err := fmt.Fprintf(conn, "NODE STATUS\n")
	require.NoError(t, err)

	line1, _ := r.ReadString('\n')
	line2, _ := r.ReadString('\n')
	line3, _ := r.ReadString('\n')
	assert.Contains(t, line1, "PORT")
	assert.Equal(t, "NEXT <unset>\n", line2)
	assert.Equal(t, "OK\n", line3)
}

// readBackup reads a chunk from a node's backup mirror, reporting ok=false
// if the mirror doesn't hold it yet.
func readBackup(t *testing.T, n *testNode, chunkName string) (string, bool) {
	t.Helper()
	rc, _, err := n.Handler.Store.ReadBackup(chunkName)
	if err != nil {
		return "", false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data), true
}

// seedRing runs NETMAP DISCOVER and TOPOLOGY WALK on every node so each
// starts with a full view of the ring before the scenario under test.
func seedRing(t *testing.T, nodes []*testNode) {
	t.Helper()
	for _, n := range nodes {
		sendLine(t, n.Addr, "NETMAP DISCOVER")
	}
	time.Sleep(100 * time.Millisecond)
	for _, n := range nodes {
		sendLine(t, n.Addr, "TOPOLOGY WALK")
	}
	time.Sleep(100 * time.Millisecond)
}

// pushPayload pushes payload under name to the node at addr and asserts the
// push is confirmed end-to-end.
func pushPayload(t *testing.T, addr, name, payload string) {
	t.Helper()
	conn, r := dialAndRead(t, addr, 5*time.Second)
	defer conn.Close()
	_, err := fmt.Fprintf(conn, "FILE PUSH %d %s\n", len(payload), name)
	require.NoError(t, err)
	_, err = io.WriteString(conn, payload)
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "distributed")
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK\n", line)
}

func TestBackupMirroringAfterPush(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)
	seedRing(t, nodes)

	pushPayload(t, nodes[0].Addr, "movie.bin", "ABCDEFGHIJ")

	// Each node's predecessor mirrors its chunk: nodes[2] backs up
	// nodes[0]'s first chunk, nodes[0] backs up nodes[1]'s, nodes[1]
	// backs up nodes[2]'s. The fetch is asynchronous, so poll.
	expected := []struct {
		holder *testNode
		chunk  string
		bytes  string
	}{
		{nodes[2], "movie.bin.part-001-of-003", "ABCD"},
		{nodes[0], "movie.bin.part-002-of-003", "EFG"},
		{nodes[1], "movie.bin.part-003-of-003", "HIJ"},
	}
	for _, e := range expected {
		require.Eventually(t, func() bool {
			data, ok := readBackup(t, e.holder, e.chunk)
			return ok && data == e.bytes
		}, 5*time.Second, 50*time.Millisecond, "backup of %s never arrived", e.chunk)
	}
}

func TestPullFallsBackToBackupWhenOwnerUnreachable(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)
	seedRing(t, nodes)

	payload := "ABCDEFGHIJ"
	pushPayload(t, nodes[0].Addr, "movie.bin", payload)

	// Wait until nodes[0] mirrors nodes[1]'s chunk, then take nodes[1]
	// down; the pull must reassemble the full payload from the backup.
	require.Eventually(t, func() bool {
		data, ok := readBackup(t, nodes[0], "movie.bin.part-002-of-003")
		return ok && data == "EFG"
	}, 5*time.Second, 50*time.Millisecond)

	nodes[1].ln.Close()

	conn, err := net.DialTimeout("tcp", nodes[0].Addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintf(conn, "FILE PULL movie.bin\n")
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestHealWalkOnHealthyRingIsIdempotent(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)
	seedRing(t, nodes)

	netmapBefore := nodes[0].Handler.Node.Netmap()
	topoBefore := nodes[0].Handler.Node.Topology()

	for i := 0; i < 2; i++ {
		reply := sendLine(t, nodes[0].Addr, "NODE HEAL")
		assert.Equal(t, "OK\n", reply, "heal walk %d", i+1)
	}

	assert.Equal(t, netmapBefore, nodes[0].Handler.Node.Netmap())
	assert.Equal(t, topoBefore, nodes[0].Handler.Node.Topology())
}

func TestFileListReturnsCSVHeaderAndRow(t *testing.T) {
	nodes := []*testNode{startTestNode(t), startTestNode(t), startTestNode(t)}
	wireRing(t, nodes)
	seedRing(t, nodes)

	pushPayload(t, nodes[0].Addr, "movie.bin", "ABCDEFGHIJ")

	conn, err := net.DialTimeout("tcp", nodes[1].Addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintf(conn, "FILE LIST\n")
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	body, err := io.ReadAll(conn)
	require.NoError(t, err)

	originPort, err := ring.PortOf(nodes[0].Addr)
	require.NoError(t, err)
	assert.Equal(t, "name,start,size\nmovie.bin,"+originPort+",10\nOK\n", string(body))
}
