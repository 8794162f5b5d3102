package pymanifest

import (
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Scan walks root top-down and returns a freshly built manifest with every
// retained entry's PathInfo (Deleted == nil). gitignoreEnabled consults a
// child .gitignore via the Path Filter before descending into a directory.
//
// Relative keys are NFC-normalized (golang.org/x/text/unicode/norm) so that
// the same filename scanned on an NFD filesystem (macOS) and an NFC one
// (Linux) reconciles as a single manifest path.
func Scan(root string, gitignoreEnabled bool) (*Manifest, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(absRoot); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absRoot, 0o755); mkErr != nil {
			return nil, mkErr
		}
	}

	m := New(absRoot)

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			// Transient read failure: treat the directory's children as absent,
			// which the caller's tombstone merge will pick up on the next scan.
			return nil
		}

		names := make([]string, 0, len(entries))
		dirSet := make(map[string]bool, len(entries))

		for _, e := range entries {
			names = append(names, e.Name())
			if e.IsDir() {
				dirSet[e.Name()] = true
			}
		}

		if gitignoreEnabled && hasGitignore(names) {
			patterns, perr := loadGitignore(filepath.Join(dir, ".gitignore"))
			if perr == nil {
				names = filterNames(names, patterns)
			}
		}

		sort.Strings(names)

		for _, name := range names {
			full := filepath.Join(dir, name)

			info, statErr := os.Lstat(full)
			if statErr != nil {
				continue
			}

			rel, relErr := relKey(absRoot, full)
			if relErr != nil {
				continue
			}

			entryType := TypeFile
			if info.IsDir() {
				entryType = TypeDirectory
			}

			m.Entries[rel] = PathInfo{
				Type:    entryType,
				Perm:    uint32(info.Mode().Perm()),
				Size:    info.Size(),
				LastMod: info.ModTime().Unix(),
				Deleted: nil,
			}

			if dirSet[name] {
				if err := walk(full); err != nil {
					return err
				}
			}
		}

		return nil
	}

	if err := walk(absRoot); err != nil {
		return nil, err
	}

	return m, nil
}

// relKey computes the manifest key for an absolute path: a root-relative
// path whose root segment is the literal ".", NFC-normalized.
func relKey(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}

	return "./" + norm.NFC.String(filepath.ToSlash(rel)), nil
}

func hasGitignore(names []string) bool {
	for _, n := range names {
		if n == ".gitignore" {
			return true
		}
	}

	return false
}
