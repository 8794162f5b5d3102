package pytransport

import "io"

// skipWindow is the sliding-window size used to detect SkipSignal straddling
// chunk boundaries: one byte short of the sentinel's length so a match that
// starts in one chunk and finishes in the next is still seen.
const skipWindow = len(SkipSignal) - 1

// WritePayload writes the full payload in chunks no larger than chunkSize
// (chunkSize == -1 means no explicit bound: one Write call). The last chunk
// may be short.
func (c *Conn) WritePayload(payload []byte, chunkSize int64) error {
	if chunkSize <= 0 {
		_, err := c.Write(payload)

		return err
	}

	for offset := 0; offset < len(payload); {
		end := offset + int(chunkSize)
		if end > len(payload) {
			end = len(payload)
		}

		if _, err := c.Write(payload[offset:end]); err != nil {
			return err
		}

		offset = end
	}

	return nil
}

// ReadPayload reads exactly total bytes in chunks no larger than chunkSize,
// watching a sliding window across chunk boundaries for SkipSignal. If the
// sentinel appears anywhere in the stream before total bytes are consumed,
// ReadPayload returns ErrSkipped immediately and stops reading (the
// remaining bytes of the abandoned transfer are never sent by a correct
// peer, per the session protocol).
func (c *Conn) ReadPayload(total int64, chunkSize int64) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = total
	}

	buf := make([]byte, 0, total)
	carry := make([]byte, 0, skipWindow)

	var read int64

	for read < total {
		want := chunkSize
		if remaining := total - read; remaining < want {
			want = remaining
		}

		chunk := make([]byte, want)

		n, err := io.ReadFull(c, chunk)
		if err != nil {
			return nil, err
		}

		chunk = chunk[:n]
		buf = append(buf, chunk...)
		read += int64(n)

		window := append(carry, chunk...)
		if containsSkip(window) {
			return nil, ErrSkipped
		}

		if len(window) > skipWindow {
			carry = append(carry[:0], window[len(window)-skipWindow:]...)
		} else {
			carry = append(carry[:0], window...)
		}
	}

	return buf, nil
}

func containsSkip(window []byte) bool {
	target := []byte(SkipSignal)
	if len(window) < len(target) {
		return false
	}

	for i := 0; i+len(target) <= len(window); i++ {
		if string(window[i:i+len(target)]) == SkipSignal {
			return true
		}
	}

	return false
}
