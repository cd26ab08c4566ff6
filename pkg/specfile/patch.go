package specfile

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Patch is the spec file's `patch` key; ReplaceInFiles is a from->to
// substitution table applied verbatim across every source file; the
// order in which its entries are applied is not defined
// (project.cpp: `for (auto &p : patch.replace_in_files) replace_all(s, p.first, p.second)`).
type Patch struct {
	ReplaceInFiles map[string]string
}

func parsePatch(v interface{}) (Patch, error) {
	m, ok := asMap(v)
	if !ok {
		return Patch{}, errors.New("'patch' must be a map")
	}
	rv, ok := m["replace_in_files"]
	if !ok {
		return Patch{}, nil
	}
	rm, ok := asMap(rv)
	if !ok {
		return Patch{}, errors.New("'patch.replace_in_files' must be a map")
	}

	out := make(map[string]string, len(rm))
	for k, v := range rm {
		entry, ok := asMap(v)
		if !ok {
			return Patch{}, errors.New("members of 'replace_in_files' should be maps")
		}
		from, fromOK := entry["from"].(string)
		to, toOK := entry["to"].(string)
		if !fromOK || !toOK {
			return Patch{}, errors.New("there are no 'from' and 'to' inside 'replace_in_files'")
		}
		_ = k
		out[from] = to
	}
	return Patch{ReplaceInFiles: out}, nil
}

// Apply rewrites every file in files in place, replacing every occurrence
// of each Patch.ReplaceInFiles key with its value. Files are only
// rewritten when their content actually changes.
func (p Patch) Apply(files []string) error {
	if len(p.ReplaceInFiles) == 0 {
		return nil
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return errors.Wrapf(err, "reading %s for patching", f)
		}
		s := string(data)
		patched := s
		for from, to := range p.ReplaceInFiles {
			patched = strings.ReplaceAll(patched, from, to)
		}
		if patched == s {
			continue
		}
		info, err := os.Stat(f)
		if err != nil {
			return errors.Wrapf(err, "statting %s", f)
		}
		if err := os.WriteFile(f, []byte(patched), info.Mode()); err != nil {
			return errors.Wrapf(err, "writing patched %s", f)
		}
	}
	return nil
}
