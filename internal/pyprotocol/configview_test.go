package pyprotocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mterenzi/pysync-go/internal/pytransport"
)

func newPipeConnPair(t *testing.T) (server *pytransport.Conn, client *pytransport.Conn) {
	t.Helper()

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	return pytransport.NewConn(a), pytransport.NewConn(b)
}

func TestIntersect_PurgeIsAND(t *testing.T) {
	t.Parallel()

	server := ConfigView{Purge: true}
	client := ConfigView{Purge: false}
	assert.False(t, intersect(server, client).Purge)

	server.Purge, client.Purge = true, true
	assert.True(t, intersect(server, client).Purge)
}

func TestIntersect_CompressionDisabledWhenEitherSideIsZero(t *testing.T) {
	t.Parallel()

	out := intersect(ConfigView{Compression: 6}, ConfigView{Compression: 0})
	assert.Equal(t, 0, out.Compression)

	out = intersect(ConfigView{Compression: 0}, ConfigView{Compression: 9})
	assert.Equal(t, 0, out.Compression)
}

func TestIntersect_CompressionTakesMinLevelAndMaxThreshold(t *testing.T) {
	t.Parallel()

	out := intersect(
		ConfigView{Compression: 9, CompressionMin: 1024},
		ConfigView{Compression: 3, CompressionMin: 4096},
	)

	assert.Equal(t, 3, out.Compression)
	assert.EqualValues(t, 4096, out.CompressionMin)
}

func TestMinChunk_UnboundedLosesToConcreteValue(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 4096, minChunk(-1, 4096))
	assert.EqualValues(t, 4096, minChunk(4096, -1))
	assert.EqualValues(t, -1, minChunk(-1, -1))
}

func TestMinChunk_TakesSmallerOfTwoConcreteValues(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 1024, minChunk(1024, 4096))
	assert.EqualValues(t, 1024, minChunk(4096, 1024))
}

func TestNegotiate_ClientAndServerConverge(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := newPipeConnPair(t)

	serverCfg := ConfigView{Purge: true, Compression: 9, CompressionMin: 1024, Chunk: 8192}
	clientCfg := ConfigView{Purge: true, Compression: 3, CompressionMin: 4096, Chunk: 4096}

	type result struct {
		view ConfigView
		err  error
	}

	serverDone := make(chan result, 1)
	go func() {
		view, err := Negotiate(serverConn, serverCfg, true)
		serverDone <- result{view, err}
	}()

	clientView, clientErr := Negotiate(clientConn, clientCfg, false)
	serverResult := <-serverDone

	assert.NoError(t, clientErr)
	assert.NoError(t, serverResult.err)

	want := ConfigView{Purge: true, Compression: 3, CompressionMin: 4096, Chunk: 4096}
	assert.Equal(t, want, clientView)
	assert.Equal(t, want, serverResult.view)
}
