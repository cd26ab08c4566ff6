package main

import (
	"bufio"
	"flag"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/cppanctx"
)

const fixImportsShortHelp = `Rewrite #include paths to resolved target names (internal)`
const fixImportsLongHelp = `
internal-fix-imports target aliases.file old.file new.file

Invoked by generated build steps, not by users directly: rewrites the
#include directives in old.file that reference an aliased dependency
path, writing the result to new.file. aliases.file holds one "alias
real-target-name" pair per line.
`

func (cmd *fixImportsCommand) Name() string      { return "internal-fix-imports" }
func (cmd *fixImportsCommand) Args() string      { return "target aliases.file old.file new.file" }
func (cmd *fixImportsCommand) ShortHelp() string { return fixImportsShortHelp }
func (cmd *fixImportsCommand) LongHelp() string  { return fixImportsLongHelp }
func (cmd *fixImportsCommand) Register(fs *flag.FlagSet) {}

type fixImportsCommand struct{}

func (cmd *fixImportsCommand) Run(loggers *Loggers, ctx *cppanctx.Context, args []string) error {
	if len(args) != 4 {
		return errors.Errorf("internal-fix-imports: want 4 args (target aliases.file old.file new.file), got %d", len(args))
	}
	_, aliasesPath, oldPath, newPath := args[0], args[1], args[2], args[3]

	aliases, err := loadImportAliases(aliasesPath)
	if err != nil {
		return errors.Wrapf(err, "reading aliases file %s", aliasesPath)
	}

	data, err := os.ReadFile(oldPath)
	if err != nil {
		return errors.Wrapf(err, "reading source file %s", oldPath)
	}

	fixed := rewriteIncludes(string(data), aliases)

	if err := os.WriteFile(newPath, []byte(fixed), 0o666); err != nil {
		return errors.Wrapf(err, "writing fixed source file %s", newPath)
	}
	return nil
}

// loadImportAliases parses "alias real-target-name" pairs, one per
// non-blank, non-comment line.
func loadImportAliases(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	aliases := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		aliases[fields[0]] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return aliases, nil
}

// rewriteIncludes replaces every "<alias/..." or "\"alias/..." include
// path prefix with the resolved target name, for each known alias.
func rewriteIncludes(src string, aliases map[string]string) string {
	for alias, target := range aliases {
		if alias == target {
			continue
		}
		src = strings.ReplaceAll(src, "<"+alias+"/", "<"+target+"/")
		src = strings.ReplaceAll(src, "\""+alias+"/", "\""+target+"/")
	}
	return src
}
