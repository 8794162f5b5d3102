package pytransport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNetConn adapts an in-memory buffer to net.Conn so WritePayload and
// ReadPayload can be exercised sequentially on the same backing bytes,
// without the rendezvous semantics net.Pipe would require.
type fakeNetConn struct {
	*bytes.Buffer
}

func (fakeNetConn) Close() error                     { return nil }
func (fakeNetConn) LocalAddr() net.Addr              { return nil }
func (fakeNetConn) RemoteAddr() net.Addr             { return nil }
func (fakeNetConn) SetDeadline(time.Time) error      { return nil }
func (fakeNetConn) SetReadDeadline(time.Time) error  { return nil }
func (fakeNetConn) SetWriteDeadline(time.Time) error { return nil }

func TestWriteReadPayload_RoundTripsWithChunking(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("0123456789"), 50) // 500 bytes

	var buf bytes.Buffer
	conn := &Conn{Conn: &fakeNetConn{Buffer: &buf}}

	require.NoError(t, conn.WritePayload(payload, 7))

	got, err := conn.ReadPayload(int64(len(payload)), 7)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteReadPayload_UnboundedChunkSizeIsOneShot(t *testing.T) {
	t.Parallel()

	payload := []byte("a single unbounded write")

	var buf bytes.Buffer
	conn := &Conn{Conn: &fakeNetConn{Buffer: &buf}}

	require.NoError(t, conn.WritePayload(payload, -1))

	got, err := conn.ReadPayload(int64(len(payload)), -1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadPayload_DetectsSkipSignalAcrossChunkBoundary(t *testing.T) {
	t.Parallel()

	// Split the sentinel itself across two small writes, so the
	// sliding-window carry is what has to catch it.
	half := len(SkipSignal) / 2

	var buf bytes.Buffer
	buf.WriteString(SkipSignal[:half])
	buf.WriteString(SkipSignal[half:])
	buf.WriteString("trailing bytes never meant to arrive")

	conn := &Conn{Conn: &fakeNetConn{Buffer: &buf}}

	_, err := conn.ReadPayload(int64(buf.Len()+len(SkipSignal)), int64(half))
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestReadPayload_EmptyPayloadNeedsNoIO(t *testing.T) {
	t.Parallel()

	conn := &Conn{Conn: &fakeNetConn{Buffer: &bytes.Buffer{}}}

	got, err := conn.ReadPayload(0, 4096)
	require.NoError(t, err)
	assert.Empty(t, got)
}
