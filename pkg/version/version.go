// Package version implements the cppan version literal and predicate
// model: a tagged union over {Any, Equal, Numeric, Branch}, together with
// the "can-be" (upgrade/match) relation and a deterministic ordering.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind discriminates the Version variants.
type Kind uint8

const (
	// KindAny matches any concrete version ("*").
	KindAny Kind = iota
	// KindEqual is the literal predicate "="; it is not concrete, so
	// CanBe never reports a match against it.
	KindEqual
	// KindNumeric is a (major, minor, patch) triple; -1 means unspecified.
	KindNumeric
	// KindBranch is a named branch/tag, not comparable numerically.
	KindBranch
)

// Unspecified is the sentinel value for a numeric field that was not
// given explicitly, e.g. the minor/patch of "1".
const Unspecified = -1

var branchRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ErrVersionParse is returned by Parse when s matches none of the
// recognized grammars (Any, Equal, Numeric, Branch).
type ErrVersionParse struct {
	Input string
}

func (e *ErrVersionParse) Error() string {
	return fmt.Sprintf("cannot parse version %q", e.Input)
}

// Version is a tagged union over the four version variants described in
// spec.md §3/§4.1. The zero value is not meaningful; construct via Parse
// or the New* helpers.
type Version struct {
	kind                Kind
	major, minor, patch int
	branch              string
}

// Any returns the "*" version.
func Any() Version { return Version{kind: KindAny, major: Unspecified, minor: Unspecified, patch: Unspecified} }

// Equal returns the "=" version.
func Equal() Version { return Version{kind: KindEqual, major: Unspecified, minor: Unspecified, patch: Unspecified} }

// NewNumeric builds a concrete or partially-specified numeric version.
// Pass Unspecified for trailing fields that were not given.
func NewNumeric(major, minor, patch int) Version {
	return Version{kind: KindNumeric, major: major, minor: minor, patch: patch}
}

// NewBranch builds a branch version. name must match the branch grammar;
// callers that already validated the name (e.g. catalog rows) may ignore
// the returned error.
func NewBranch(name string) (Version, error) {
	if !branchRE.MatchString(name) {
		return Version{}, errors.Wrapf(&ErrVersionParse{Input: name}, "invalid branch name")
	}
	return Version{kind: KindBranch, major: Unspecified, minor: Unspecified, patch: Unspecified, branch: name}, nil
}

// Parse parses a version literal per spec.md §4.1:
//
//	"*"                     -> Any
//	"="                     -> Equal
//	d | d.d | d.d.d         -> Numeric, trailing fields Unspecified
//	[A-Za-z_][A-Za-z0-9_-]* -> Branch
//
// Anything else is an ErrVersionParse.
func Parse(s string) (Version, error) {
	switch s {
	case "":
		return Version{}, &ErrVersionParse{Input: s}
	case "*":
		return Any(), nil
	case "=":
		return Equal(), nil
	}

	if isNumericLiteral(s) {
		parts := strings.SplitN(s, ".", 3)
		fields := [3]int{Unspecified, Unspecified, Unspecified}
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return Version{}, errors.Wrapf(&ErrVersionParse{Input: s}, "field %d", i)
			}
			if n < 0 {
				return Version{}, &ErrVersionParse{Input: s}
			}
			fields[i] = n
		}
		return Version{kind: KindNumeric, major: fields[0], minor: fields[1], patch: fields[2]}, nil
	}

	if branchRE.MatchString(s) {
		return Version{kind: KindBranch, major: Unspecified, minor: Unspecified, patch: Unspecified, branch: s}, nil
	}

	return Version{}, &ErrVersionParse{Input: s}
}

// isNumericLiteral reports whether s looks like 1, 2 or 3 dot-separated
// decimal components (no leading branch characters).
func isNumericLiteral(s string) bool {
	parts := strings.SplitN(s, ".", 4)
	if len(parts) > 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// Kind reports the variant.
func (v Version) Kind() Kind { return v.kind }

// IsConcrete reports whether v fully specifies a single version: a
// three-field numeric triple with no Unspecified field, or a branch.
func (v Version) IsConcrete() bool {
	switch v.kind {
	case KindBranch:
		return true
	case KindNumeric:
		return v.major != Unspecified && v.minor != Unspecified && v.patch != Unspecified
	default:
		return false
	}
}

// Fields returns the (major, minor, patch) triple; callers should only
// rely on this when Kind() == KindNumeric.
func (v Version) Fields() (major, minor, patch int) { return v.major, v.minor, v.patch }

// Branch returns the branch name; only meaningful when Kind() == KindBranch.
func (v Version) Branch() string { return v.branch }

// CanBe implements the "can-be" relation: v.CanBe(other) iff other is
// concrete and every field v specifies equals the corresponding field of
// other. A predicate "can be" any concrete version consistent with its
// specified fields.
func (v Version) CanBe(other Version) bool {
	if !other.IsConcrete() {
		return false
	}
	switch v.kind {
	case KindAny:
		return true
	case KindEqual:
		return other.kind == KindEqual
	case KindBranch:
		return other.kind == KindBranch && other.branch == v.branch
	case KindNumeric:
		if other.kind != KindNumeric {
			return false
		}
		if v.major != Unspecified && v.major != other.major {
			return false
		}
		if v.minor != Unspecified && v.minor != other.minor {
			return false
		}
		if v.patch != Unspecified && v.patch != other.patch {
			return false
		}
		return true
	}
	return false
}

// String reconstructs the most compact textual form for v, i.e. the
// inverse of Parse up to normalization of unspecified trailing fields.
func (v Version) String() string {
	return v.ToAnyVersion()
}

// ToAnyVersion reconstructs the most compact textual form: "*" for a
// fully unspecified numeric version, "1" for (1,-1,-1), "1.2" for
// (1,2,-1), "1.2.3" for a concrete triple, the branch name for branches,
// "*"/"=" for Any/Equal.
func (v Version) ToAnyVersion() string {
	switch v.kind {
	case KindAny:
		return "*"
	case KindEqual:
		return "="
	case KindBranch:
		return v.branch
	case KindNumeric:
		if v.major == Unspecified {
			return "*"
		}
		if v.minor == Unspecified {
			return strconv.Itoa(v.major)
		}
		if v.patch == Unspecified {
			return fmt.Sprintf("%d.%d", v.major, v.minor)
		}
		return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
	}
	return ""
}

// Equals compares two versions field-for-field (not the CanBe relation).
func (v Version) Equals(o Version) bool {
	return v.kind == o.kind && v.major == o.major && v.minor == o.minor &&
		v.patch == o.patch && v.branch == o.branch
}

// Less implements the ordering from spec.md §4.1: branches sort
// lexicographically and before numerics; numerics sort lexicographically
// on (major, minor, patch). Any and Equal sort after branches and before
// numerics (they carry no comparable value), Any before Equal by kind
// value, to keep the relation total and deterministic for display
// purposes.
func (v Version) Less(o Version) bool {
	if v.kind == KindBranch && o.kind == KindBranch {
		return v.branch < o.branch
	}
	if v.kind == KindBranch {
		return true
	}
	if o.kind == KindBranch {
		return false
	}
	if v.kind != KindNumeric || o.kind != KindNumeric {
		return v.kind < o.kind
	}
	if v.major != o.major {
		return v.major < o.major
	}
	if v.minor != o.minor {
		return v.minor < o.minor
	}
	return v.patch < o.patch
}
