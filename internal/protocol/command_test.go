package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCaseInsensitiveNounAndVerb(t *testing.T) {
	for _, line := range []string{"NODE PING", "node ping", "Node Ping"} {
		cmd, err := Parse(line)
		require.NoError(t, err, line)
		assert.Equal(t, NodePing, cmd.Kind)
	}
}

func TestParseCaseSensitiveParams(t *testing.T) {
	cmd, err := Parse("FILE PULL MyFile.TXT")
	require.NoError(t, err)
	assert.Equal(t, "MyFile.TXT", cmd.Name)
}

func TestParseNodeNext(t *testing.T) {
	cmd, err := Parse("NODE NEXT 127.0.0.1:9001")
	require.NoError(t, err)
	assert.Equal(t, NodeNext, cmd.Kind)
	assert.Equal(t, "127.0.0.1:9001", cmd.Addr)
}

func TestParseRingForward(t *testing.T) {
	cmd, err := Parse("RING FORWARD 3 hello world")
	require.NoError(t, err)
	assert.Equal(t, RingForward, cmd.Kind)
	assert.Equal(t, 3, cmd.TTL)
	assert.Equal(t, "hello world", cmd.Message, "message is last-field-greedy")
}

func TestParseTopologyHop(t *testing.T) {
	cmd, err := Parse("TOPOLOGY HOP 9000-1 127.0.0.1:9000 9000->9001")
	require.NoError(t, err)
	assert.Equal(t, TopologyHop, cmd.Kind)
	assert.Equal(t, "9000-1", cmd.Token)
	assert.Equal(t, "127.0.0.1:9000", cmd.Start)
	assert.Equal(t, "9000->9001", cmd.History)
}

func TestParseFilePush(t *testing.T) {
	cmd, err := Parse("FILE PUSH 10 movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, FilePush, cmd.Kind)
	assert.Equal(t, int64(10), cmd.Size)
	assert.Equal(t, "movie.mp4", cmd.Name)
}

func TestParseFileRelayStream(t *testing.T) {
	cmd, err := Parse("FILE RELAY-STREAM file-9000-1 127.0.0.1:9000 10 3 1 movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, FileRelayStream, cmd.Kind)
	assert.Equal(t, "file-9000-1", cmd.Token)
	assert.Equal(t, "127.0.0.1:9000", cmd.Start)
	assert.Equal(t, int64(10), cmd.FileSize)
	assert.Equal(t, 3, cmd.Parts)
	assert.Equal(t, 1, cmd.Index)
	assert.Equal(t, "movie.mp4", cmd.Name)
}

func TestParseFileRespChunk(t *testing.T) {
	cmd, err := Parse("FILE RESP-CHUNK 127.0.0.1:9001 4 movie.mp4.part-001-of-003")
	require.NoError(t, err)
	assert.Equal(t, FileRespChunk, cmd.Kind)
	assert.Equal(t, "127.0.0.1:9001", cmd.NextAddr)
	assert.Equal(t, int64(4), cmd.Size)
}

func TestParseRejectsUnknownNoun(t *testing.T) {
	_, err := Parse("BOGUS THING")
	assert.Error(t, err)
}

func TestParseRejectsMissingVerb(t *testing.T) {
	_, err := Parse("NODE")
	assert.Error(t, err)
}

func TestParseRejectsEmptyLine(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}

func TestParseTrimsTrailingCRLF(t *testing.T) {
	cmd, err := Parse("NODE PING\r\n")
	require.NoError(t, err)
	assert.Equal(t, NodePing, cmd.Kind)
}

func TestParseNetmapGetTakesNoParams(t *testing.T) {
	_, err := Parse("NETMAP GET extra")
	assert.Error(t, err, "NETMAP GET takes no params")
}

func TestParseRingForwardZeroTTL(t *testing.T) {
	cmd, err := Parse("RING FORWARD 0 msg")
	require.NoError(t, err)
	assert.Equal(t, 0, cmd.TTL)
}
