// Package pyprotocol implements the session message state machine: verbs,
// acknowledgments, and per-session configuration negotiation, used
// symmetrically by both the server and client drivers.
package pyprotocol

import (
	"encoding/json"
	"fmt"

	"github.com/mterenzi/pysync-go/internal/pytransport"
)

// ConfigView holds the negotiated per-session parameters.
type ConfigView struct {
	Purge          bool  `json:"purge"`
	Compression    int   `json:"compression"`
	CompressionMin int64 `json:"compression_min"`
	Chunk          int64 `json:"ram"`
}

// Negotiate performs the CONFIG state: the client sends its ConfigView,
// the server returns the intersection, and the client echoes it back as
// confirmation. isServer selects which half of the handshake to run.
func Negotiate(conn *pytransport.Conn, local ConfigView, isServer bool) (ConfigView, error) {
	if isServer {
		return negotiateServer(conn, local)
	}

	return negotiateClient(conn, local)
}

func negotiateServer(conn *pytransport.Conn, serverCfg ConfigView) (ConfigView, error) {
	msg, err := conn.RecvControl()
	if err != nil {
		return ConfigView{}, err
	}

	var clientCfg ConfigView
	if err := json.Unmarshal([]byte(msg), &clientCfg); err != nil {
		return ConfigView{}, fmt.Errorf("%w: bad CONFIG payload: %v", pytransport.ErrMiscommunication, err)
	}

	negotiated := intersect(serverCfg, clientCfg)

	out, err := json.Marshal(negotiated)
	if err != nil {
		return ConfigView{}, err
	}

	if err := conn.SendControl(string(out)); err != nil {
		return ConfigView{}, err
	}

	echo, err := conn.RecvControl()
	if err != nil {
		return ConfigView{}, err
	}

	if echo != string(out) {
		return ConfigView{}, fmt.Errorf("%w: CONFIG echo mismatch", pytransport.ErrMiscommunication)
	}

	return negotiated, nil
}

func negotiateClient(conn *pytransport.Conn, clientCfg ConfigView) (ConfigView, error) {
	out, err := json.Marshal(clientCfg)
	if err != nil {
		return ConfigView{}, err
	}

	if err := conn.SendControl(string(out)); err != nil {
		return ConfigView{}, err
	}

	reply, err := conn.RecvControl()
	if err != nil {
		return ConfigView{}, err
	}

	var negotiated ConfigView
	if err := json.Unmarshal([]byte(reply), &negotiated); err != nil {
		return ConfigView{}, fmt.Errorf("%w: bad CONFIG reply: %v", pytransport.ErrMiscommunication, err)
	}

	if err := conn.SendControl(reply); err != nil {
		return ConfigView{}, err
	}

	return negotiated, nil
}

// intersect agrees on the capability intersection: purge and compression
// are ANDed, compression_min takes the larger of the two thresholds (the
// safer, more conservative choice for both peers), and chunk size takes
// the minimum (ram).
func intersect(server, client ConfigView) ConfigView {
	out := ConfigView{
		Purge:       server.Purge && client.Purge,
		Compression: 0,
	}

	if server.Compression > 0 && client.Compression > 0 {
		out.Compression = minInt(server.Compression, client.Compression)
		out.CompressionMin = maxInt64(server.CompressionMin, client.CompressionMin)
	}

	out.Chunk = minChunk(server.Chunk, client.Chunk)

	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}

// minChunk applies the chunk-size rule: -1 means "no explicit bound", so
// it loses to any concrete value; the minimum of two concrete values wins.
func minChunk(a, b int64) int64 {
	if a == -1 {
		return b
	}

	if b == -1 {
		return a
	}

	if a < b {
		return a
	}

	return b
}
