package validation

import (
	"fmt"
	"regexp"
	"strings"

	"tigapply/internal/errors"
)

// RepoDir is the repository metadata directory; patches may never write
// into it.
const RepoDir = ".tig"

var oidRegex = regexp.MustCompile(`^[0-9a-f]{4,64}$`)

// ValidatePath checks that a patch target stays inside the tree: it must be
// relative, free of empty, "." and ".." components, and must not enter the
// repository directory.
func ValidatePath(path string) error {
	if path == "" {
		return errors.UnsafePath(path, "empty path")
	}
	if strings.HasPrefix(path, "/") {
		return errors.UnsafePath(path, "absolute path")
	}
	if strings.ContainsRune(path, '\x00') {
		return errors.UnsafePath(path, "contains null byte")
	}
	for _, component := range strings.Split(path, "/") {
		switch {
		case component == "":
			return errors.UnsafePath(path, "empty path component")
		case component == "." || component == "..":
			return errors.UnsafePath(path, fmt.Sprintf("invalid path component '%s'", component))
		case strings.EqualFold(component, RepoDir):
			return errors.UnsafePath(path, "path enters the repository directory")
		}
	}
	return nil
}

// ValidateRefName checks the format of a ref name: HEAD or a name below
// refs/ whose components are non-empty, do not start with '.' and do not end
// with ".lock", and which contains no "..", "@{", control characters, or any
// of space ~ ^ : ? * [ \.
func ValidateRefName(name string) error {
	invalid := func(reason string) error {
		return errors.ValidationError(fmt.Sprintf("invalid ref name '%s': %s", name, reason), nil)
	}
	if name == "HEAD" {
		return nil
	}
	if !strings.HasPrefix(name, "refs/") {
		return invalid("must be HEAD or start with refs/")
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") {
		return invalid("bad ending")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "@{") {
		return invalid("forbidden sequence")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return invalid(fmt.Sprintf("forbidden character %q", r))
		}
	}
	for _, component := range strings.Split(name, "/") {
		if component == "" {
			return invalid("empty component")
		}
		if strings.HasPrefix(component, ".") {
			return invalid("component starts with '.'")
		}
		if strings.HasSuffix(component, ".lock") {
			return invalid("component ends with '.lock'")
		}
	}
	return nil
}

// ValidateOID checks a hex object id; abbreviated ids of at least four
// digits are accepted.
func ValidateOID(oid string) error {
	if !oidRegex.MatchString(oid) {
		return errors.ValidationError(fmt.Sprintf("invalid object id '%s'", oid), nil)
	}
	return nil
}

// IsZeroOID reports whether oid is the all-zero id.
func IsZeroOID(oid string) bool {
	return oid != "" && strings.Trim(oid, "0") == ""
}
