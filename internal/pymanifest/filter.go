package pymanifest

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// loadGitignore compiles a child .gitignore into a list of regexes that
// match bare sibling names. This is intentionally NOT full gitignore
// semantics (no negation, no recursive "**", no directory-only trailing
// slash): it mirrors the legacy single-level translation exactly — trim
// the line, strip a leading/trailing "/", map "*" to ".*" first, THEN
// escape ".", "[" and "]" (in that order), and anchor the result as a
// whole-name match. Escaping after the "*" expansion means the dot in
// every inserted ".*" gets escaped right along with the pattern's own
// literal dots, so "*" only ever expands to a run of literal dots rather
// than a general wildcard — e.g. "*.log" compiles to `^\.*\.log$`, which
// matches ".log" but not "debug.log". A line that fails to compile is
// skipped; the error is not logged or returned to the caller.
func loadGitignore(path string) ([]*regexp.Regexp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []*regexp.Regexp

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.Trim(line, "/")
		line = strings.ReplaceAll(line, "*", ".*")
		line = strings.ReplaceAll(line, ".", `\.`)
		line = strings.ReplaceAll(line, "[", `\[`)
		line = strings.ReplaceAll(line, "]", `\]`)

		re, compileErr := regexp.Compile("^" + line + "$")
		if compileErr != nil {
			continue
		}

		patterns = append(patterns, re)
	}

	return patterns, scanner.Err()
}

// filterNames drops any bare name that matches one of the compiled patterns.
// Only direct-sibling filtering is performed; the caller decides whether to
// recurse into a retained directory.
func filterNames(names []string, patterns []*regexp.Regexp) []string {
	if len(patterns) == 0 {
		return names
	}

	retained := make([]string, 0, len(names))

	for _, name := range names {
		excluded := false

		for _, re := range patterns {
			if re.MatchString(name) {
				excluded = true

				break
			}
		}

		if !excluded {
			retained = append(retained, name)
		}
	}

	return retained
}
