package specfile

import (
	"testing"

	"github.com/cppan/cppan/pkg/pkgpath"
)

func TestParseBasicFields(t *testing.T) {
	data := []byte(`
version: 1.2.3
root_project: org.foo
files: "*.cpp"
exclude_from_build: ["generated.cpp"]
type: library
library_type: static
c_standard: 11
cxx_standard: "1z"
import_from_bazel: true
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Version != "1.2.3" {
		t.Fatalf("Version = %q", s.Version)
	}
	if s.RootProject != "org.foo" {
		t.Fatalf("RootProject = %q", s.RootProject)
	}
	if len(s.Files) != 1 || s.Files[0] != "*.cpp" {
		t.Fatalf("Files = %v", s.Files)
	}
	if s.Type != "library" {
		t.Fatalf("Type = %q", s.Type)
	}
	if s.CStandard != "11" {
		t.Fatalf("CStandard = %q", s.CStandard)
	}
	if s.CxxStandard != "1z" {
		t.Fatalf("CxxStandard = %q", s.CxxStandard)
	}
	if !s.ImportFromBazel {
		t.Fatalf("ImportFromBazel = false")
	}
	found := false
	for _, f := range s.ExcludeFromBuild {
		if f == "BUILD" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected BUILD to be auto-excluded, got %v", s.ExcludeFromBuild)
	}
}

func TestParseFilesMapForm(t *testing.T) {
	data := []byte(`
files:
  group1:
    root: src
    files: ["a.cpp", "b.cpp"]
  group2: "*.h"
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string]bool{"src/a.cpp": true, "src/b.cpp": true, "*.h": true}
	if len(s.Files) != len(want) {
		t.Fatalf("Files = %v", s.Files)
	}
	for _, f := range s.Files {
		if !want[f] {
			t.Fatalf("unexpected file %q", f)
		}
	}
}

func TestParseIncludeDirectoriesScalarAndMap(t *testing.T) {
	s1, err := Parse([]byte(`include_directories: include`))
	if err != nil {
		t.Fatalf("Parse scalar: %v", err)
	}
	if len(s1.IncludeDirectories.Public) != 1 || s1.IncludeDirectories.Public[0] != "include" {
		t.Fatalf("Public = %v", s1.IncludeDirectories.Public)
	}

	s2, err := Parse([]byte(`
include_directories:
  public: ["include"]
  private: ["src"]
`))
	if err != nil {
		t.Fatalf("Parse map: %v", err)
	}
	if len(s2.IncludeDirectories.Public) != 1 || s2.IncludeDirectories.Public[0] != "include" {
		t.Fatalf("Public = %v", s2.IncludeDirectories.Public)
	}
	if len(s2.IncludeDirectories.Private) != 1 || s2.IncludeDirectories.Private[0] != "src" {
		t.Fatalf("Private = %v", s2.IncludeDirectories.Private)
	}
}

func TestParseDependenciesScalarAndMapForms(t *testing.T) {
	data := []byte(`
dependencies:
  - org.foo.bar @ "1.2"
  - name: org.foo.baz
  - org.foo.qux: "2"
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Dependencies) != 3 {
		t.Fatalf("Dependencies = %v", s.Dependencies)
	}

	root := pkgpath.MustParse("org.root")
	resolved, err := s.ResolveDependencies(root)
	if err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	if resolved[0].Path.String() != "org.foo.bar" || resolved[0].Predicate.String() != "1.2" {
		t.Fatalf("resolved[0] = %+v", resolved[0])
	}
	if resolved[1].Path.String() != "org.foo.baz" {
		t.Fatalf("resolved[1] = %+v", resolved[1])
	}
	if resolved[2].Path.String() != "org.foo.qux" || resolved[2].Predicate.String() != "2" {
		t.Fatalf("resolved[2] = %+v", resolved[2])
	}
}

func TestResolveDependenciesRebasesRelativePaths(t *testing.T) {
	decl := DependencyDecl{RawPath: "sub.pkg", Predicate: "1"}
	root := pkgpath.MustParse("org.root")
	p, v, err := decl.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.String() != "org.root.sub.pkg" {
		t.Fatalf("Path = %q", p.String())
	}
	if v.String() != "1" {
		t.Fatalf("Predicate = %q", v.String())
	}
}

func TestParseSourceGit(t *testing.T) {
	data := []byte(`
source:
  git:
    url: https://example.com/foo.git
    tag: v1.0.0
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g, ok := s.Source.(GitSource)
	if !ok {
		t.Fatalf("Source = %#v, want GitSource", s.Source)
	}
	if g.URL != "https://example.com/foo.git" || g.Tag != "v1.0.0" {
		t.Fatalf("GitSource = %+v", g)
	}
}

func TestParseSourceRemoteFiles(t *testing.T) {
	data := []byte(`
source:
  remote_files: ["https://example.com/a.h", "https://example.com/b.h"]
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rf, ok := s.Source.(RemoteFilesSource)
	if !ok {
		t.Fatalf("Source = %#v, want RemoteFilesSource", s.Source)
	}
	if len(rf.URLs) != 2 {
		t.Fatalf("URLs = %v", rf.URLs)
	}
}

func TestParseGitSourceRequiresExactlyOneRef(t *testing.T) {
	data := []byte(`
source:
  git:
    url: https://example.com/foo.git
    tag: v1.0.0
    branch: master
`)
	if _, err := Parse(data); err == nil {
		t.Fatalf("expected error for ambiguous git ref")
	}
}

func TestParseOptions(t *testing.T) {
	data := []byte(`
options:
  any:
    definitions: ["FOO=1"]
  static:
    definitions: "BAR=1"
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := s.Options["any"]["definitions"]; len(got) != 1 || got[0] != "FOO=1" {
		t.Fatalf("any.definitions = %v", got)
	}
	if got := s.Options["static"]["definitions"]; len(got) != 1 || got[0] != "BAR=1" {
		t.Fatalf("static.definitions = %v", got)
	}
}

func TestParsePatch(t *testing.T) {
	data := []byte(`
patch:
  replace_in_files:
    r1:
      from: "OLD_API"
      to: "NEW_API"
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Patch.ReplaceInFiles["OLD_API"] != "NEW_API" {
		t.Fatalf("ReplaceInFiles = %v", s.Patch.ReplaceInFiles)
	}
}

func TestParseProjectsMultiTarget(t *testing.T) {
	data := []byte(`
root_project: org.foo
projects:
  a:
    type: library
  b:
    type: executable
`)
	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Projects) != 2 {
		t.Fatalf("Projects = %v", s.Projects)
	}
	if s.Projects["a"].Type != "library" {
		t.Fatalf("a.Type = %q", s.Projects["a"].Type)
	}
	if s.Projects["b"].Type != "executable" {
		t.Fatalf("b.Type = %q", s.Projects["b"].Type)
	}
}
