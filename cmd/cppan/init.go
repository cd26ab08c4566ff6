package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/cppanctx"
)

const initShortHelp = `Write a skeleton cppan.yml for a new project`
const initLongHelp = `
Write a skeleton cppan.yml at filepath root, or the current directory if
root isn't given. Fails if a spec file already exists there.
`

func (cmd *initCommand) Name() string      { return "init" }
func (cmd *initCommand) Args() string      { return "[root]" }
func (cmd *initCommand) ShortHelp() string { return initShortHelp }
func (cmd *initCommand) LongHelp() string  { return initLongHelp }

func (cmd *initCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.typ, "type", "executable", "project type: executable or library")
}

type initCommand struct {
	typ string
}

const initSkeleton = `version: 0.0.1
type: %s
files:
  - "*.cpp"
  - "*.h"
dependencies:
`

func (cmd *initCommand) Run(loggers *Loggers, ctx *cppanctx.Context, args []string) error {
	if len(args) > 1 {
		return errors.Errorf("too many args (%d)", len(args))
	}

	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	if !filepath.IsAbs(root) {
		abs, err := filepath.Abs(root)
		if err != nil {
			return errors.Wrapf(err, "resolving %s", root)
		}
		root = abs
	}
	if err := os.MkdirAll(root, 0o777); err != nil {
		return errors.Wrapf(err, "init failed: unable to create directory %s", root)
	}

	specPath := filepath.Join(root, "cppan.yml")
	if _, err := os.Stat(specPath); err == nil {
		return errors.Errorf("init aborted: spec file already exists at %s", specPath)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "checking for existing spec at %s", specPath)
	}

	typ := normalizeInitType(cmd.typ)
	content := fmt.Sprintf(initSkeleton, typ)
	if err := os.WriteFile(specPath, []byte(content), 0o666); err != nil {
		return errors.Wrapf(err, "writing spec file %s", specPath)
	}

	loggers.Out.Printf("wrote %s\n", specPath)
	return nil
}

func normalizeInitType(t string) string {
	switch t {
	case "l", "lib", "library":
		return "library"
	default:
		return "executable"
	}
}

