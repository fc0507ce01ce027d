package subscriber

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbroker/internal/model"
	"eventbroker/internal/wire"
)

func TestManagementAddr_AddsThousand(t *testing.T) {
	assert.Equal(t, "127.0.0.1:6554", managementAddr("127.0.0.1:5554"))
	assert.Equal(t, ":6554", managementAddr(":5554"))
}

func TestManagementAddr_MalformedPassesThrough(t *testing.T) {
	assert.Equal(t, "not-a-host-port", managementAddr("not-a-host-port"))
}

func TestReadManagementReply_OK(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_ = wire.WriteFrame(server, append([]byte{0}, []byte("sub-123")...))
	}()

	status, body, err := readManagementReply(client)
	require.NoError(t, err)
	assert.Equal(t, byte(0), status)
	assert.Equal(t, "sub-123", body)
}

func TestReadManagementReply_Error(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_ = wire.WriteFrame(server, append([]byte{1}, []byte("bad subscription")...))
	}()

	status, body, err := readManagementReply(client)
	require.NoError(t, err)
	assert.Equal(t, byte(1), status)
	assert.Equal(t, "bad subscription", body)
}

func TestStats_AverageLatencyMS(t *testing.T) {
	s := &Stats{}
	assert.Equal(t, 0.0, s.AverageLatencyMS())

	s.record(10)
	s.record(20)
	s.record(30)

	assert.Equal(t, 20.0, s.AverageLatencyMS())
	assert.Equal(t, int64(30), s.LatencyMaxMS)
}

func TestNonEQOperators_NeverIncludesEQ(t *testing.T) {
	for _, op := range nonEQOperators {
		assert.NotEqual(t, model.OpEQ, op)
	}
}
