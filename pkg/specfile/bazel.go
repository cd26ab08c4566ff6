package specfile

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
)

// BazelFilenames are the recognized BUILD file names, tried in order
// (cppan.cpp's bazel_filenames).
var BazelFilenames = []string{"BUILD", "BUILD.bazel"}

// bazelStringList matches a quoted-string list assigned to srcs or hdrs
// in any rule, e.g. srcs = ["a.cc", "b.cc"],; a glob(...) call is not
// matched. None of
// the example repos vendor a Bazel BUILD parser (Starlark is a distinct
// grammar none of the pack's dependencies cover), so this is a regexp
// scan for the common `key = [...]` shape rather than a full parse —
// sufficient for the file-list extraction import_from_bazel needs.
var bazelStringList = regexp.MustCompile(`(?:srcs|hdrs)\s*=\s*\[([^\]]*)\]`)
var bazelQuotedString = regexp.MustCompile(`"([^"]+)"`)

// ParseBazelFiles extracts every string literal assigned to a srcs/hdrs
// list in a BUILD/BUILD.bazel file at path, the behavior import_from_bazel
// triggers (cppan.cpp: `bazel::parse(b)` then `f.getFiles(project_name)`).
func ParseBazelFiles(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading bazel file %s", path)
	}

	seen := map[string]struct{}{}
	var out []string
	for _, listMatch := range bazelStringList.FindAllStringSubmatch(string(data), -1) {
		for _, strMatch := range bazelQuotedString.FindAllStringSubmatch(listMatch[1], -1) {
			f := strMatch[1]
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out, nil
}
