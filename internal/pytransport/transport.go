// Package pytransport implements the framed transport: a
// length-prefixed-by-control-message bulk channel over one TCP stream,
// chunked reads/writes bounded by a per-session memory budget, optional
// whole-payload compression above a size threshold, and the RETRY /
// !!SKIP!!SKIP!! sideband.
package pytransport

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net"
)

// Control message size cap.
const controlBufSize = 1024

// Sideband tokens.
const (
	Retry      = "RETRY"
	SkipSignal = "!!SKIP!!SKIP!!"
)

// retryDepthLimit bounds RETRY resend loops to prevent livelock.
const retryDepthLimit = 5

// ErrMiscommunication is raised on any framing violation: non-numeric
// length, unexpected verb, or exhausted RETRY depth. The session drivers
// end the session on it, except in per-file transfer loops, which tolerate
// a bounded run of consecutive ones per category.
var ErrMiscommunication = errors.New("pysync: miscommunication")

// ErrSkipped is returned by ReadPayload when the peer sent the skip
// sentinel mid-transfer: the caller abandons the current file and
// continues the session.
var ErrSkipped = errors.New("pysync: transfer skipped")

// Conn wraps a net.Conn with the control/bulk framing primitives shared by
// both session peers.
type Conn struct {
	net.Conn
}

// NewConn wraps an established connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c}
}

// SendControl sends a single control message verbatim, in one recv-sized
// write.
func (c *Conn) SendControl(msg string) error {
	_, err := c.Write([]byte(msg))

	return err
}

// RecvControl reads one control-sized message and returns it decoded as
// UTF-8 text.
func (c *Conn) RecvControl() (string, error) {
	buf := make([]byte, controlBufSize)

	n, err := c.Read(buf)
	if err != nil {
		return "", err
	}

	return string(buf[:n]), nil
}

// RecvControlWithRetry sends prevCmd again whenever the peer replies RETRY,
// up to retryDepthLimit times, then returns the first non-RETRY reply.
func (c *Conn) RecvControlWithRetry(prevCmd string) (string, error) {
	for depth := 0; depth < retryDepthLimit; depth++ {
		msg, err := c.RecvControl()
		if err != nil {
			return "", err
		}

		if msg != Retry {
			return msg, nil
		}

		if err := c.SendControl(prevCmd); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: exceeded retry depth for %q", ErrMiscommunication, prevCmd)
}

// CompressThenThreshold applies whole-payload zlib compression to payload
// when compression > 0 and the ORIGINAL size is at least compressionMin —
// a size exactly equal to the threshold still compresses, and a compressed
// form larger than the original is still sent compressed, with no
// fallback. Returns the bytes to put on the wire and whether they are
// compressed (which becomes the announced byte count's meaning on the wire).
func CompressThenThreshold(payload []byte, compression int, compressionMin int64) (wire []byte, compressed bool, err error) {
	if compression <= 0 || int64(len(payload)) < compressionMin {
		return payload, false, nil
	}

	var buf bytes.Buffer

	level := compression
	if level > 9 {
		level = 9
	}

	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, false, err
	}

	if _, err := w.Write(payload); err != nil {
		return nil, false, err
	}

	if err := w.Close(); err != nil {
		return nil, false, err
	}

	return buf.Bytes(), true, nil
}

// DecompressIfFlagged reverses CompressThenThreshold's decision. n is the
// announced byte count, which is always the compressed-wire length; the
// threshold is applied to that same count on the receive side.
func DecompressIfFlagged(wire []byte, n int64, compression int, compressionMin int64) ([]byte, error) {
	if compression <= 0 || n < compressionMin {
		return wire, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
