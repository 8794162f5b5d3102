package pyprotocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mterenzi/pysync-go/internal/pybackup"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
	"github.com/mterenzi/pysync-go/internal/pytransport"
)

// RunFollower drives the STRUCT and SYNC states as the responding side (the
// client always follows). local is the follower's own manifest snapshot;
// it answers REQUEST STRUCT, REQUEST <path>, MKDIR, MKFILE, CONFIRM DELETE,
// and DELETE until BYE arrives. locks serializes this session's filesystem
// mutations against any other session touching the same path; it may be
// nil to disable locking.
func RunFollower(conn *pytransport.Conn, root string, local *pymanifest.Manifest, cfg ConfigView, backup *pybackup.Store, locks PathLocker, log *slog.Logger) error {
	sess := newSession(root, cfg, backup, locks, log)
	sess.remote = local

	for {
		msg, err := conn.RecvControl()
		if err != nil {
			return err
		}

		switch {
		case IsBye(msg):
			sess.tshift.Apply(log)

			return nil

		case msg == verbRequestStruct:
			if err := sess.answerRequestStruct(conn, local); err != nil {
				return err
			}

		case msg == verbRequest || isPrefixedRequest(msg):
			if err := sess.answerRequest(conn, msg); err != nil {
				return err
			}

		case isPrefixedMkdir(msg):
			if err := sess.answerMkdir(conn, msg); err != nil {
				return err
			}

		case isPrefixedMkfile(msg):
			if err := sess.answerMkfile(conn, msg); err != nil {
				return err
			}

		case isPrefixedConfirmDelete(msg):
			if err := sess.answerConfirmDelete(conn, msg); err != nil {
				return err
			}

		case isPrefixedDelete(msg):
			if err := sess.answerDelete(conn, msg); err != nil {
				return err
			}

		default:
			_ = conn.SendControl(pytransport.Retry)
		}
	}
}

func isPrefixedRequest(msg string) bool {
	return len(msg) > len(verbRequest)+1 && msg[:len(verbRequest)+1] == verbRequest+" " && msg != verbRequestStruct
}

func isPrefixedMkdir(msg string) bool {
	return hasVerbPrefix(msg, verbMkdir)
}

func isPrefixedMkfile(msg string) bool {
	return hasVerbPrefix(msg, verbMkfile)
}

func isPrefixedDelete(msg string) bool {
	return hasVerbPrefix(msg, verbDelete)
}

func isPrefixedConfirmDelete(msg string) bool {
	return hasVerbPrefix(msg, verbConfirm)
}

func hasVerbPrefix(msg, verb string) bool {
	return len(msg) >= len(verb) && msg[:len(verb)] == verb
}

func (s *session) answerRequestStruct(conn *pytransport.Conn, local *pymanifest.Manifest) error {
	payload, err := pymanifest.ToWire(local)
	if err != nil {
		return err
	}

	wire, _, err := pytransport.CompressThenThreshold(payload, s.cfg.Compression, s.cfg.CompressionMin)
	if err != nil {
		return err
	}

	announce := BuildStruct(int64(len(wire)))
	if err := conn.SendControl(announce); err != nil {
		return err
	}

	ack, err := conn.RecvControlWithRetry(announce)
	if err != nil {
		return err
	}

	if !IsOK(ack) {
		return fmt.Errorf("%w: expected OK STRUCT ack, got %q", pytransport.ErrMiscommunication, ack)
	}

	return conn.WritePayload(wire, s.cfg.Chunk)
}

func (s *session) answerRequest(conn *pytransport.Conn, msg string) error {
	rel, err := ParseRequest(msg)
	if err != nil {
		return err
	}

	abs := filepath.Join(s.root, rel)

	data, err := os.ReadFile(abs)
	if err != nil {
		return conn.SendControl(BuildNO(rel))
	}

	stat, err := os.Stat(abs)
	if err != nil {
		return conn.SendControl(BuildNO(rel))
	}

	wire, _, err := pytransport.CompressThenThreshold(data, s.cfg.Compression, s.cfg.CompressionMin)
	if err != nil {
		return err
	}

	infoMsg, err := jsonInfoReply(rel, int64(len(wire)), stat.ModTime().Unix(), uint32(stat.Mode().Perm()))
	if err != nil {
		return err
	}

	if err := conn.SendControl(infoMsg); err != nil {
		return err
	}

	ack, err := conn.RecvControlWithRetry(infoMsg)
	if err != nil {
		return err
	}

	if !IsOK(ack) {
		return fmt.Errorf("%w: expected OK <bytes> ack for %s, got %q", pytransport.ErrMiscommunication, rel, ack)
	}

	return conn.WritePayload(wire, s.cfg.Chunk)
}

func (s *session) answerMkdir(conn *pytransport.Conn, msg string) error {
	rel, mtime, err := ParseMkdir(msg)
	if err != nil {
		return err
	}

	abs := filepath.Join(s.root, rel)

	err = s.withPathLock(abs, func() error {
		if err := clearPathForType(abs, true); err != nil {
			return err
		}

		return os.MkdirAll(abs, 0o755)
	})
	if err != nil {
		return err
	}

	s.tshift.record(rel, mtime)

	return conn.SendControl(BuildOK(verbMkdir, rel, fmt.Sprint(mtime)))
}

func (s *session) answerMkfile(conn *pytransport.Conn, msg string) error {
	info, err := ParseMkfile(msg)
	if err != nil {
		return err
	}

	if err := conn.SendControl(BuildOK(verbMkfile, info.Path, fmt.Sprint(info.Bytes))); err != nil {
		return err
	}

	wire, err := conn.ReadPayload(info.Bytes, s.cfg.Chunk)
	if err != nil {
		if err == pytransport.ErrSkipped {
			return conn.SendControl(BuildOK())
		}

		return err
	}

	payload, err := pytransport.DecompressIfFlagged(wire, info.Bytes, s.cfg.Compression, s.cfg.CompressionMin)
	if err != nil {
		return fmt.Errorf("%w: decompressing %s: %v", pytransport.ErrMiscommunication, info.Path, err)
	}

	abs := filepath.Join(s.root, info.Path)
	mtime := unixTime(info.LastMod)

	err = s.withPathLock(abs, func() error {
		if err := clearPathForType(abs, false); err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(abs, payload, os.FileMode(info.Perm)); err != nil {
			return err
		}

		return os.Chtimes(abs, mtime, mtime)
	})
	if err != nil {
		return err
	}

	return conn.SendControl(BuildOK())
}

func (s *session) answerDelete(conn *pytransport.Conn, msg string) error {
	rel, err := ParseDelete(msg)
	if err != nil {
		return err
	}

	abs := filepath.Join(s.root, rel)

	err = s.withPathLock(abs, func() error {
		return s.backup.Remove(s.root, rel)
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return conn.SendControl(BuildOK())
}

// answerConfirmDelete implements the race-guarded delete: the confirming
// side, not the initiator, performs the local deletion. If the path is
// already gone, nothing to do, reply OK; if still present, remove it here
// (with backup) and reply NO to tell the initiator it genuinely had to act.
func (s *session) answerConfirmDelete(conn *pytransport.Conn, msg string) error {
	rel, err := ParseConfirmDelete(msg)
	if err != nil {
		return err
	}

	abs := filepath.Join(s.root, rel)

	var alreadyGone bool

	err = s.withPathLock(abs, func() error {
		if _, statErr := os.Lstat(abs); os.IsNotExist(statErr) {
			alreadyGone = true

			return nil
		}

		if err := s.backup.Remove(s.root, rel); err != nil && !os.IsNotExist(err) {
			return err
		}

		return nil
	})
	if err != nil {
		return err
	}

	if alreadyGone {
		return conn.SendControl(BuildOK(rel))
	}

	return conn.SendControl(BuildNO(rel))
}

func jsonInfoReply(path string, bytes int64, lastMod int64, perm uint32) (string, error) {
	info := FileInfo{Path: path, Bytes: bytes, LastMod: lastMod, Perm: perm}

	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
