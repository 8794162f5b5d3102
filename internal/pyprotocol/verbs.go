package pyprotocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FileInfo is the JSON-shaped payload carried by REQUEST's reply and by
// MKFILE.
type FileInfo struct {
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	LastMod int64  `json:"last_mod"`
	Perm    uint32 `json:"perm"`
}

// Verb constants; REQUEST STRUCT and CONFIRM DELETE are two tokens each.
const (
	verbRequestStruct = "REQUEST STRUCT"
	verbStruct        = "STRUCT"
	verbRequest       = "REQUEST"
	verbMkdir         = "MKDIR"
	verbMkfile        = "MKFILE"
	verbDelete        = "DELETE"
	verbConfirm       = "CONFIRM DELETE"
	verbOk            = "OK"
	verbNo            = "NO"
	verbBye           = "BYE"
)

// BuildRequestStruct builds the "REQUEST STRUCT" control message.
func BuildRequestStruct() string { return verbRequestStruct }

// BuildStruct builds "STRUCT <n>" announcing n bytes of manifest payload to
// follow.
func BuildStruct(n int64) string {
	return fmt.Sprintf("%s %d", verbStruct, n)
}

// ParseStruct parses "STRUCT <n>".
func ParseStruct(msg string) (int64, error) {
	fields := strings.Fields(msg)
	if len(fields) != 2 || fields[0] != verbStruct {
		return 0, fmt.Errorf("%w: expected STRUCT <n>, got %q", errMalformed, msg)
	}

	return parseInt64(fields[1])
}

// BuildRequest builds "REQUEST <path>".
func BuildRequest(path string) string {
	return fmt.Sprintf("%s %s", verbRequest, path)
}

// ParseRequest parses "REQUEST <path>" (but not "REQUEST STRUCT").
func ParseRequest(msg string) (string, error) {
	if msg == verbRequestStruct {
		return "", fmt.Errorf("%w: REQUEST STRUCT is not a path request", errMalformed)
	}

	prefix := verbRequest + " "
	if !strings.HasPrefix(msg, prefix) {
		return "", fmt.Errorf("%w: expected REQUEST <path>, got %q", errMalformed, msg)
	}

	return strings.TrimPrefix(msg, prefix), nil
}

// BuildMkdir builds "MKDIR <path> <mtime>".
func BuildMkdir(path string, mtime int64) string {
	return fmt.Sprintf("%s %s %d", verbMkdir, path, mtime)
}

// ParseMkdir parses "MKDIR <path> <mtime>".
func ParseMkdir(msg string) (path string, mtime int64, err error) {
	fields := strings.Fields(msg)
	if len(fields) != 3 || fields[0] != verbMkdir {
		return "", 0, fmt.Errorf("%w: expected MKDIR <path> <mtime>, got %q", errMalformed, msg)
	}

	mtime, err = parseInt64(fields[2])
	if err != nil {
		return "", 0, err
	}

	return fields[1], mtime, nil
}

// BuildMkfile builds "MKFILE <json>" from a FileInfo.
func BuildMkfile(info FileInfo) (string, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}

	return verbMkfile + " " + string(data), nil
}

// ParseMkfile parses "MKFILE <json>" into a FileInfo.
func ParseMkfile(msg string) (FileInfo, error) {
	prefix := verbMkfile + " "
	if !strings.HasPrefix(msg, prefix) {
		return FileInfo{}, fmt.Errorf("%w: expected MKFILE <json>, got %q", errMalformed, msg)
	}

	var info FileInfo
	if err := json.Unmarshal([]byte(strings.TrimPrefix(msg, prefix)), &info); err != nil {
		return FileInfo{}, fmt.Errorf("%w: bad MKFILE payload: %v", errMalformed, err)
	}

	return info, nil
}

// ParseFileInfoJSON parses a bare JSON FileInfo, the shape REQUEST's reply
// uses: the same struct as MKFILE carries, without the literal verb word.
func ParseFileInfoJSON(msg string) (FileInfo, error) {
	var info FileInfo
	if err := json.Unmarshal([]byte(msg), &info); err != nil {
		return FileInfo{}, fmt.Errorf("%w: bad file info payload: %v", errMalformed, err)
	}

	return info, nil
}

// BuildDelete builds "DELETE <path>".
func BuildDelete(path string) string {
	return fmt.Sprintf("%s %s", verbDelete, path)
}

// ParseDelete parses "DELETE <path>".
func ParseDelete(msg string) (string, error) {
	prefix := verbDelete + " "
	if !strings.HasPrefix(msg, prefix) {
		return "", fmt.Errorf("%w: expected DELETE <path>, got %q", errMalformed, msg)
	}

	return strings.TrimPrefix(msg, prefix), nil
}

// BuildConfirmDelete builds "CONFIRM DELETE <path>".
func BuildConfirmDelete(path string) string {
	return fmt.Sprintf("%s %s", verbConfirm, path)
}

// ParseConfirmDelete parses "CONFIRM DELETE <path>".
func ParseConfirmDelete(msg string) (string, error) {
	prefix := verbConfirm + " "
	if !strings.HasPrefix(msg, prefix) {
		return "", fmt.Errorf("%w: expected CONFIRM DELETE <path>, got %q", errMalformed, msg)
	}

	return strings.TrimPrefix(msg, prefix), nil
}

// BuildOK / BuildNO build bare or path-suffixed acknowledgments.
func BuildOK(rest ...string) string  { return joinVerb(verbOk, rest) }
func BuildNO(rest ...string) string  { return joinVerb(verbNo, rest) }
func BuildBye() string               { return verbBye }

func joinVerb(verb string, rest []string) string {
	if len(rest) == 0 {
		return verb
	}

	return verb + " " + strings.Join(rest, " ")
}

// IsOK / IsNO / IsBye test a reply's leading verb.
func IsOK(msg string) bool  { return msg == verbOk || strings.HasPrefix(msg, verbOk+" ") }
func IsNO(msg string) bool  { return msg == verbNo || strings.HasPrefix(msg, verbNo+" ") }
func IsBye(msg string) bool { return msg == verbBye }

func parseInt64(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errMalformed, err)
	}

	return n, nil
}
