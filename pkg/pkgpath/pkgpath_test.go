package pkgpath

import "testing"

func TestIsRootOfAndBack(t *testing.T) {
	p := MustParse("org.foo")
	child := MustParse("org.foo.x")

	if !p.IsRootOf(child) {
		t.Fatal("expected org.foo to be root of org.foo.x")
	}
	back, err := child.Back(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 1 || back[0] != "x" {
		t.Errorf("Back = %v, want [x]", back)
	}
}

func TestNotRootOf(t *testing.T) {
	p := MustParse("org.foo")
	if p.IsRootOf(p) {
		t.Error("a path should not be root of itself (strict prefix)")
	}
	if p.IsRootOf(MustParse("org.bar.x")) {
		t.Error("org.foo should not be root of org.bar.x")
	}
}

func TestLowercasing(t *testing.T) {
	p := MustParse("Org.Foo.Bar")
	if p.String() != "org.foo.bar" {
		t.Errorf("got %q, want org.foo.bar", p.String())
	}
}

func TestAbsoluteRelative(t *testing.T) {
	abs := MustParse("org.foo")
	rel := MustParse("foo.bar")
	if !abs.IsAbsolute() {
		t.Error("org.foo should be absolute")
	}
	if rel.IsAbsolute() {
		t.Error("foo.bar should be relative")
	}
	if !rel.IsRelative() {
		t.Error("IsRelative should be the negation of IsAbsolute")
	}
}

func TestRebase(t *testing.T) {
	root := MustParse("org.foo")
	rel := MustParse("bar")
	got, err := rel.Rebase(root)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "org.foo.bar" {
		t.Errorf("got %q, want org.foo.bar", got.String())
	}
	if _, err := root.Rebase(root); err == nil {
		t.Error("rebasing an absolute path should fail")
	}
}

func TestFSPath(t *testing.T) {
	p := MustParse("org.boost.smart_ptr")
	if got, want := p.FSPath("/"), "org/b/bo/boost/smart_ptr"; got != want {
		t.Errorf("FSPath = %q, want %q", got, want)
	}
}

func TestInvalidElement(t *testing.T) {
	if _, err := Parse("org..foo"); err == nil {
		t.Error("expected error for empty element")
	}
	if _, err := Parse("org.fo#o"); err == nil {
		t.Error("expected error for invalid character")
	}
}

func TestComparable(t *testing.T) {
	// Path must remain usable as a map key.
	m := map[Path]int{MustParse("org.foo"): 1}
	if m[MustParse("org.foo")] != 1 {
		t.Error("Path should be comparable/usable as a map key")
	}
}
