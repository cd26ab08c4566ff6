package specfile

import (
	"github.com/pkg/errors"
)

// loader accumulates the first error across a sequence of key reads, the
// same "stop mapping once an error has occurred" idiom toml.go's
// tomlMapper uses, adapted from go-toml's typed Tree/Query API to the
// plain map[interface{}]interface{} yaml.v2 decodes into.
type loader struct {
	err error
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// asMap converts a yaml.v2-decoded value into a string-keyed map, the
// shape every mapping key in a cppan.yml document takes.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func (l *loader) str(m map[string]interface{}, key, dflt string) string {
	if l.err != nil {
		return dflt
	}
	v, ok := m[key]
	if !ok || v == nil {
		return dflt
	}
	s, ok := v.(string)
	if !ok {
		l.fail(errors.Errorf("key %q must be a string, got %T", key, v))
		return dflt
	}
	return s
}

func (l *loader) boolean(m map[string]interface{}, key string, dflt bool) bool {
	if l.err != nil {
		return dflt
	}
	v, ok := m[key]
	if !ok || v == nil {
		return dflt
	}
	b, ok := v.(bool)
	if !ok {
		l.fail(errors.Errorf("key %q must be a bool, got %T", key, v))
		return dflt
	}
	return b
}

func (l *loader) intVal(m map[string]interface{}, key string, dflt int) int {
	if l.err != nil {
		return dflt
	}
	v, ok := m[key]
	if !ok || v == nil {
		return dflt
	}
	switch n := v.(type) {
	case int:
		return n
	case string:
		// c_standard/cxx_standard also accept "1z"/"2x" style suffixes;
		// those stay strings and the int accessor is skipped by callers.
		l.fail(errors.Errorf("key %q is a string, not an int (%q)", key, n))
		return dflt
	default:
		l.fail(errors.Errorf("key %q must be an int, got %T", key, v))
		return dflt
	}
}

// stringList flattens a scalar, sequence, or map-of-(scalar|sequence) into
// a flat string set, the shape cppan.cpp's read_sources lambda reads for
// files/build/exclude_from_build/exclude_from_package. A map entry whose
// value is itself a map with "root"/"files" keys joins root onto each
// file, mirroring the same lambda's third case.
func (l *loader) stringList(m map[string]interface{}, key string) []string {
	if l.err != nil {
		return nil
	}
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}

	var out []string
	switch t := v.(type) {
	case string:
		out = append(out, t)
	case []interface{}:
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				l.fail(errors.Errorf("key %q: sequence element must be a string, got %T", key, e))
				return nil
			}
			out = append(out, s)
		}
	default:
		groups, ok := asMap(v)
		if !ok {
			l.fail(errors.Errorf("key %q must be a scalar, sequence, or map, got %T", key, v))
			return nil
		}
		for _, gv := range groups {
			switch g := gv.(type) {
			case string:
				out = append(out, g)
			case []interface{}:
				for _, e := range g {
					s, ok := e.(string)
					if !ok {
						l.fail(errors.Errorf("key %q: group element must be a string, got %T", key, e))
						return nil
					}
					out = append(out, s)
				}
			default:
				gm, ok := asMap(gv)
				if !ok {
					l.fail(errors.Errorf("key %q: group value must be scalar, sequence, or {root,files}", key))
					return nil
				}
				root, _ := gm["root"].(string)
				files, _ := asSlice(gm["files"])
				for _, f := range files {
					fs, ok := f.(string)
					if !ok {
						continue
					}
					out = append(out, root+"/"+fs)
				}
			}
		}
	}
	return out
}
