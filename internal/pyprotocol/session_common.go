package pyprotocol

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mterenzi/pysync-go/internal/pybackup"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
)

var nowFunc = time.Now

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}

// retryCategory buckets the per-category consecutive-miscommunication
// counters: up to maxConsecutiveMiscommunications transient miscommunications
// are tolerated per category, resetting to zero on any success.
type retryCategory string

const (
	categoryPullFiles retryCategory = "pull-files"
	categoryPushFiles retryCategory = "push-files"
	categoryDirs      retryCategory = "dirs"
	categoryDeletes   retryCategory = "deletes"
)

const maxConsecutiveMiscommunications = 5

// retryBudget tracks consecutive failures per category across one session.
type retryBudget struct {
	counts map[retryCategory]int
}

func newRetryBudget() *retryBudget {
	return &retryBudget{counts: make(map[retryCategory]int)}
}

// note records an attempt's outcome. It returns true if the category has
// exceeded its budget and the session must abort.
func (b *retryBudget) note(cat retryCategory, ok bool) (exhausted bool) {
	if ok {
		b.counts[cat] = 0

		return false
	}

	b.counts[cat]++

	return b.counts[cat] > maxConsecutiveMiscommunications
}

// timeshift records the original mtime each touched directory should be
// restored to once the session finishes creating/deleting entries beneath
// it, since those operations bump the OS-observed mtime. Restoration is
// applied deepest-path-first at session end.
type timeshift struct {
	root    string
	entries map[string]int64
}

func newTimeshift(root string) *timeshift {
	return &timeshift{root: root, entries: make(map[string]int64)}
}

func (t *timeshift) record(relPath string, mtime int64) {
	t.entries[relPath] = mtime
}

// Apply reapplies every recorded mtime, deepest paths first so a parent's
// restoration doesn't get re-bumped by a child still being fixed up.
func (t *timeshift) Apply(log *slog.Logger) {
	paths := make([]string, 0, len(t.entries))
	for p := range t.entries {
		paths = append(paths, p)
	}

	sort.Slice(paths, func(i, j int) bool {
		return len(paths[i]) > len(paths[j])
	})

	for _, rel := range paths {
		abs := filepath.Join(t.root, rel)
		mtime := unixTime(t.entries[rel])

		if err := os.Chtimes(abs, mtime, mtime); err != nil && log != nil {
			log.Warn("timeshift restore failed", "path", rel, "error", err)
		}
	}
}

// PathLocker serializes filesystem mutations against a shared path-keyed
// lock so that concurrent sessions never create, write, or delete the same
// absolute path at once. Satisfied by *pylock.LockMap. A nil PathLocker
// disables locking entirely, which is what the client passes: it only ever
// runs one session at a time against its own root, so there is no
// concurrent writer for a lock to guard against.
type PathLocker interface {
	Acquire(absPath string) error
	Release(absPath string)
}

// session bundles the state shared by both the leading and following halves
// of one SYNC exchange.
type session struct {
	root   string
	cfg    ConfigView
	backup *pybackup.Store
	log    *slog.Logger
	budget *retryBudget
	tshift *timeshift
	remote *pymanifest.Manifest
	locks  PathLocker
}

func newSession(root string, cfg ConfigView, backup *pybackup.Store, locks PathLocker, log *slog.Logger) *session {
	return &session{
		root:   root,
		cfg:    cfg,
		backup: backup,
		log:    log,
		budget: newRetryBudget(),
		tshift: newTimeshift(root),
		locks:  locks,
	}
}

// withPathLock serializes fn against absPath via s.locks, if one was
// supplied. It is the single choke point every create/delete handler routes
// its filesystem mutation through.
func (s *session) withPathLock(absPath string, fn func() error) error {
	if s.locks == nil {
		return fn()
	}

	if err := s.locks.Acquire(absPath); err != nil {
		return err
	}
	defer s.locks.Release(absPath)

	return fn()
}

// clearPathForType removes whatever currently occupies abs when it is not
// already the type being created, so a type-mismatched winner (a file
// overwriting a directory, or vice versa) can replace it instead of failing
// on a kernel-level EISDIR/ENOTDIR. It is a no-op when abs is absent or
// already the right type.
func clearPathForType(abs string, wantDir bool) error {
	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	if info.IsDir() == wantDir {
		return nil
	}

	if info.IsDir() {
		return os.RemoveAll(abs)
	}

	return os.Remove(abs)
}

func sortedLeavesFirst(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })

	return out
}
