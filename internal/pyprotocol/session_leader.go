package pyprotocol

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mterenzi/pysync-go/internal/pybackup"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
	"github.com/mterenzi/pysync-go/internal/pyreconcile"
	"github.com/mterenzi/pysync-go/internal/pytransport"
)

// RunLeader drives the STRUCT and SYNC states as the initiating side (the
// server always leads). local is the leader's own manifest snapshot,
// already built and saved by its caller. locks serializes this session's
// filesystem mutations against any other session touching the same path;
// it may be nil to disable locking. It returns the executed plan for
// logging/audit purposes.
func RunLeader(conn *pytransport.Conn, root string, local *pymanifest.Manifest, cfg ConfigView, backup *pybackup.Store, locks PathLocker, log *slog.Logger) (pyreconcile.Plan, error) {
	sess := newSession(root, cfg, backup, locks, log)

	remote, err := fetchRemoteStruct(conn, cfg)
	if err != nil {
		return pyreconcile.Plan{}, err
	}

	sess.remote = remote

	plan := pyreconcile.Reconcile(local, remote, cfg.Purge)

	if plan.IsNoOp() {
		return plan, conn.SendControl(BuildBye())
	}

	if err := sess.runPullCreates(conn, plan.Creates.Pull); err != nil {
		return plan, err
	}

	if err := sess.runPushCreates(conn, plan.Creates.Push); err != nil {
		return plan, err
	}

	if cfg.Purge {
		if err := sess.runPullDeletes(plan.Deletes.Pull); err != nil {
			return plan, err
		}

		if err := sess.runPushDeletes(conn, plan.Deletes.Push); err != nil {
			return plan, err
		}
	}

	sess.tshift.Apply(log)

	return plan, conn.SendControl(BuildBye())
}

func fetchRemoteStruct(conn *pytransport.Conn, cfg ConfigView) (*pymanifest.Manifest, error) {
	req := BuildRequestStruct()
	if err := conn.SendControl(req); err != nil {
		return nil, err
	}

	reply, err := conn.RecvControlWithRetry(req)
	if err != nil {
		return nil, err
	}

	n, err := ParseStruct(reply)
	if err != nil {
		return nil, err
	}

	ack := BuildOK(verbStruct, fmt.Sprint(n))
	if err := conn.SendControl(ack); err != nil {
		return nil, err
	}

	wire, err := conn.ReadPayload(n, cfg.Chunk)
	if err != nil {
		return nil, err
	}

	payload, err := pytransport.DecompressIfFlagged(wire, n, cfg.Compression, cfg.CompressionMin)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing STRUCT payload: %v", pytransport.ErrMiscommunication, err)
	}

	return pymanifest.FromWire(payload)
}

// runPullCreates creates directories locally from already-known metadata
// (no round trip needed) and fetches file bytes via REQUEST for files.
func (s *session) runPullCreates(conn *pytransport.Conn, paths pyreconcile.PathSet) error {
	for _, rel := range paths.Dirs {
		abs := filepath.Join(s.root, rel)

		err := s.withPathLock(abs, func() error {
			if err := clearPathForType(abs, true); err != nil {
				return err
			}

			return os.MkdirAll(abs, 0o755)
		})
		if err != nil {
			return err
		}

		mtime := nowFunc().Unix()
		if info, ok := s.remote.Entries[rel]; ok {
			mtime = info.LastMod
		}

		s.tshift.record(rel, mtime)
	}

	for _, rel := range paths.Files {
		if err := s.pullFile(conn, rel); err != nil {
			if s.budget.note(categoryPullFiles, false) {
				return fmt.Errorf("%w: pull-files retry budget exhausted", pytransport.ErrMiscommunication)
			}

			if err == pytransport.ErrSkipped {
				s.log.Warn("pull skipped by peer", "path", rel)

				continue
			}

			if errors.Is(err, pytransport.ErrMiscommunication) {
				s.log.Warn("pull miscommunication, moving on", "path", rel, "error", err)

				continue
			}

			return err
		}

		s.budget.note(categoryPullFiles, true)
	}

	return nil
}

func (s *session) pullFile(conn *pytransport.Conn, rel string) error {
	req := BuildRequest(rel)
	if err := conn.SendControl(req); err != nil {
		return err
	}

	reply, err := conn.RecvControlWithRetry(req)
	if err != nil {
		return err
	}

	info, err := ParseFileInfoJSON(reply)
	if err != nil {
		return err
	}

	ack := BuildOK(fmt.Sprint(info.Bytes))
	if err := conn.SendControl(ack); err != nil {
		return err
	}

	wire, err := conn.ReadPayload(info.Bytes, s.cfg.Chunk)
	if err != nil {
		return err
	}

	payload, err := pytransport.DecompressIfFlagged(wire, info.Bytes, s.cfg.Compression, s.cfg.CompressionMin)
	if err != nil {
		return fmt.Errorf("%w: decompressing %s: %v", pytransport.ErrMiscommunication, rel, err)
	}

	abs := filepath.Join(s.root, rel)
	mtime := unixTime(info.LastMod)

	return s.withPathLock(abs, func() error {
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
}

// runPushCreates instructs the remote to create directories (MKDIR) and
// sends file bytes (MKFILE) for entries the leader has locally.
func (s *session) runPushCreates(conn *pytransport.Conn, paths pyreconcile.PathSet) error {
	for _, rel := range paths.Dirs {
		info, err := os.Stat(filepath.Join(s.root, rel))
		if err != nil {
			continue // vanished locally between reconcile and send: next session will catch up
		}

		msg := BuildMkdir(rel, info.ModTime().Unix())
		if err := conn.SendControl(msg); err != nil {
			return err
		}

		reply, err := conn.RecvControlWithRetry(msg)
		if err != nil {
			if s.budget.note(categoryDirs, false) {
				return fmt.Errorf("%w: dir retry budget exhausted", pytransport.ErrMiscommunication)
			}

			continue
		}

		if !IsOK(reply) {
			return fmt.Errorf("%w: expected OK for %s, got %q", pytransport.ErrMiscommunication, msg, reply)
		}

		s.budget.note(categoryDirs, true)
	}

	for _, rel := range paths.Files {
		if err := s.pushFile(conn, rel); err != nil {
			if s.budget.note(categoryPushFiles, false) {
				return fmt.Errorf("%w: push-files retry budget exhausted", pytransport.ErrMiscommunication)
			}

			continue
		}

		s.budget.note(categoryPushFiles, true)
	}

	return nil
}

func (s *session) pushFile(conn *pytransport.Conn, rel string) error {
	abs := filepath.Join(s.root, rel)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil // vanished locally: skip, next session resyncs
	}

	stat, err := os.Stat(abs)
	if err != nil {
		return nil
	}

	wire, _, err := pytransport.CompressThenThreshold(data, s.cfg.Compression, s.cfg.CompressionMin)
	if err != nil {
		return err
	}

	msg, err := BuildMkfile(FileInfo{
		Path:    rel,
		Bytes:   int64(len(wire)),
		LastMod: stat.ModTime().Unix(),
		Perm:    uint32(stat.Mode().Perm()),
	})
	if err != nil {
		return err
	}

	if err := conn.SendControl(msg); err != nil {
		return err
	}

	reply, err := conn.RecvControlWithRetry(msg)
	if err != nil {
		return err
	}

	if !IsOK(reply) {
		return fmt.Errorf("%w: expected OK MKFILE ack, got %q", pytransport.ErrMiscommunication, reply)
	}

	if err := conn.WritePayload(wire, s.cfg.Chunk); err != nil {
		return err
	}

	final, err := conn.RecvControl()
	if err != nil {
		return err
	}

	if !IsOK(final) {
		return fmt.Errorf("%w: expected final OK for %s, got %q", pytransport.ErrMiscommunication, rel, final)
	}

	return nil
}

// runPullDeletes removes the leader's own copies directly: no round trip is
// needed because the decision is already based on the manifest exchange
// just completed. Files are removed before directories, leaves first.
func (s *session) runPullDeletes(paths pyreconcile.PathSet) error {
	for _, rel := range paths.Files {
		abs := filepath.Join(s.root, rel)

		err := s.withPathLock(abs, func() error {
			return s.backup.Remove(s.root, rel)
		})
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	for _, rel := range sortedLeavesFirst(paths.Dirs) {
		abs := filepath.Join(s.root, rel)

		err := s.withPathLock(abs, func() error {
			return s.backup.Remove(s.root, rel)
		})
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

// runPushDeletes tells the remote to delete via the race-guarded CONFIRM
// DELETE verb: the remote, not the leader, performs the local removal.
func (s *session) runPushDeletes(conn *pytransport.Conn, paths pyreconcile.PathSet) error {
	all := append(append([]string(nil), paths.Files...), sortedLeavesFirst(paths.Dirs)...)

	for _, rel := range all {
		msg := BuildConfirmDelete(rel)
		if err := conn.SendControl(msg); err != nil {
			return err
		}

		reply, err := conn.RecvControlWithRetry(msg)
		if err != nil {
			if s.budget.note(categoryDeletes, false) {
				return fmt.Errorf("%w: delete retry budget exhausted", pytransport.ErrMiscommunication)
			}

			continue
		}

		if !IsOK(reply) && !IsNO(reply) {
			return fmt.Errorf("%w: expected OK/NO for %s, got %q", pytransport.ErrMiscommunication, msg, reply)
		}

		s.budget.note(categoryDeletes, true)
	}

	return nil
}

