// Command cppan builds C/C++ projects against the cppan package catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/accesstable"
	"github.com/cppan/cppan/pkg/catalog"
	"github.com/cppan/cppan/pkg/cppanctx"
	"github.com/cppan/cppan/pkg/fetch"
	"github.com/cppan/cppan/pkg/resolver"
	"github.com/cppan/cppan/pkg/servicedb"
	"github.com/cppan/cppan/pkg/store"
)

// clientVersion is printed by --version and used as the service
// database's client stamp.
const clientVersion = "0.4.0"

type command interface {
	Name() string           // "init"
	Args() string           // "[root]"
	ShortHelp() string      // "Initialize a new project spec file"
	LongHelp() string       // longer usage text
	Register(*flag.FlagSet) // command-specific flags
	Run(*Loggers, *cppanctx.Context, []string) error
}

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory:", err)
		os.Exit(1)
	}
	c := &Config{
		Args:       os.Args,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		WorkingDir: wd,
	}
	os.Exit(c.Run())
}

// Config specifies a full configuration for a cppan execution.
type Config struct {
	WorkingDir string
	Args       []string
	Stdout     *os.File
	Stderr     *os.File
}

// Run parses the global flags, dispatches to a named subcommand if the
// first non-flag argument matches one, and otherwise runs the default
// build action against that argument as a spec path (spec.md §6: "the
// first positional argument is interpreted as a spec path" when it is
// not a recognized subcommand name).
func (c *Config) Run() (exitCode int) {
	commands := []command{
		&initCommand{},
		&fixImportsCommand{},
	}

	outLogger := log.New(c.Stdout, "", 0)
	errLogger := log.New(c.Stderr, "", 0)

	var (
		buildPath         string
		buildOnlyPath     string
		rebuildPath       string
		generatePath      string
		clearCachePattern string
		clearVarsPattern  string
		selfUpgrade       bool
		ignoreSSLChecks   bool
		curlVerbose       bool
		storageDir        string
		configName        string
		settingsPath      string
		prepareArchive    bool
		printVersion      bool
	)

	fs := flag.NewFlagSet("cppan", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	fs.StringVar(&buildPath, "build", "", "build the project at path (default action)")
	fs.StringVar(&buildOnlyPath, "build-only", "", "like -build, but skip storage directory maintenance")
	fs.StringVar(&rebuildPath, "rebuild", "", "build the project at path, same as -build; cached dependency/config hashes are not bypassed")
	fs.StringVar(&generatePath, "generate", "", "generate build files for the project at path without building")
	fs.StringVar(&clearCachePattern, "clear-cache", "", "clear every cached config hash; a regex argument is accepted but not applied")
	fs.StringVar(&clearVarsPattern, "clear-vars-cache", "", "clear cached configure-check results, optionally only those whose cached config text matches a regex")
	fs.BoolVar(&selfUpgrade, "self-upgrade", false, "run the client update check, throttled to once per 3 hours; no new client is downloaded or installed")
	fs.BoolVar(&ignoreSSLChecks, "ignore-ssl-checks", false, "disable TLS certificate verification for remote requests")
	fs.BoolVar(&curlVerbose, "curl-verbose", false, "log verbose transport activity")
	fs.StringVar(&storageDir, "dir", "", "storage root (default: a per-user cache directory)")
	fs.StringVar(&configName, "config", "", "named build configuration")
	fs.StringVar(&settingsPath, "settings", "", "YAML file overriding the remote and force_server_query settings")
	fs.BoolVar(&prepareArchive, "prepare-archive", false, "prepare a source archive instead of building")
	fs.BoolVar(&printVersion, "version", false, "print the client version and exit")

	if err := fs.Parse(c.Args[1:]); err != nil {
		return 1
	}

	var clearCacheSet, clearVarsSet bool
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "clear-cache":
			clearCacheSet = true
		case "clear-vars-cache":
			clearVarsSet = true
		}
	})

	if printVersion {
		outLogger.Println(clientVersion)
		return 0
	}

	args := fs.Args()
	for _, cmd := range commands {
		if len(args) > 0 && cmd.Name() == args[0] {
			cfs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
			cfs.SetOutput(c.Stderr)
			cmd.Register(cfs)
			if err := cfs.Parse(args[1:]); err != nil {
				return 1
			}

			ctx, err := c.buildContext(storageDir, settingsPath, ignoreSSLChecks, curlVerbose)
			if err != nil {
				errLogger.Println(err)
				return 1
			}

			loggers := &Loggers{Out: outLogger, Err: errLogger}
			if err := cmd.Run(loggers, ctx, cfs.Args()); err != nil {
				errLogger.Println(err)
				return 1
			}
			return 0
		}
	}

	ctx, err := c.buildContext(storageDir, settingsPath, ignoreSSLChecks, curlVerbose)
	if err != nil {
		errLogger.Println(err)
		return 1
	}
	loggers := &Loggers{Out: outLogger, Err: errLogger}

	db, err := servicedb.Open(ctx.Dirs.ServiceDBPath(), servicedb.ClientStamp(clientVersion))
	if err != nil {
		errLogger.Println(errors.Wrap(err, "opening service database"))
		return 1
	}
	defer db.Close()

	if selfUpgrade {
		if err := runSelfUpgrade(loggers, db); err != nil {
			errLogger.Println(err)
			return 1
		}
		return 0
	}

	if clearCacheSet {
		if err := runClearCache(loggers, db, clearCachePattern); err != nil {
			errLogger.Println(err)
			return 1
		}
		return 0
	}
	if clearVarsSet {
		if err := runClearVarsCache(loggers, db, clearVarsPattern); err != nil {
			errLogger.Println(err)
			return 1
		}
		return 0
	}

	path, buildOnly := "", false
	switch {
	case buildOnlyPath != "":
		path, buildOnly = buildOnlyPath, true
	case rebuildPath != "":
		path = rebuildPath
	case generatePath != "":
		path = generatePath
	case buildPath != "":
		path = buildPath
	case len(args) > 0:
		path = args[0]
	default:
		path = "."
	}

	if err := runBuild(loggers, ctx, db, path, configName, buildOnly, prepareArchive); err != nil {
		errLogger.Println(err)
		return 1
	}
	return 0
}

// buildContext assembles the process-wide Context, loading settingsPath
// (if given) over the documented defaults.
func (c *Config) buildContext(storageDir, settingsPath string, ignoreSSLChecks, curlVerbose bool) (*cppanctx.Context, error) {
	if storageDir == "" {
		storageDir = defaultStorageDir()
	}
	if !filepath.IsAbs(storageDir) {
		storageDir = filepath.Join(c.WorkingDir, storageDir)
	}

	ctx, err := cppanctx.New(storageDir)
	if err != nil {
		return nil, errors.Wrapf(err, "initializing storage at %s", storageDir)
	}
	ctx.HTTP.IgnoreSSLChecks = ignoreSSLChecks
	ctx.HTTP.Verbose = curlVerbose

	if settingsPath != "" {
		if err := loadSettings(ctx, settingsPath); err != nil {
			return nil, errors.Wrapf(err, "loading settings from %s", settingsPath)
		}
	}
	if ctx.RemoteName == "" {
		applyDefaultRemote(ctx)
	}

	return ctx, nil
}

func defaultStorageDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, "cppan")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cppan"
	}
	return filepath.Join(home, ".cppan")
}

// applyDefaultRemote seeds the single built-in remote when -settings
// didn't configure one explicitly.
func applyDefaultRemote(ctx *cppanctx.Context) {
	ctx.RemoteName = "cppan.org"
	ctx.RemoteURL = "https://api.cppan.org"
	ctx.RemoteAPIVersion = 1
}

// newResolver wires the catalog, remote HTTP client, and fetch pipeline
// together into a pkg/store.Resolver, the same "local first, remote and
// fetcher behind one interface" composition resolver.New expects. db
// backs the catalog's cross-run schema.version bookkeeping (spec.md
// §4.2).
func newResolver(ctx *cppanctx.Context, db *servicedb.DB, at *accesstable.AccessTable) (*resolver.Resolver, error) {
	remote := catalog.Remote{
		Name:            ctx.RemoteName,
		GitURL:          ctx.RemoteURL + ".git",
		ArchiveURL:      ctx.RemoteURL + "/archive.zip",
		APIBaseURL:      ctx.RemoteURL,
		CurrentAPILevel: ctx.RemoteAPIVersion,
		VersionURL:      ctx.RemoteURL + "/db.version",
	}
	cat, err := catalog.Open(ctx.Dirs.Database(), remote, ctx.CatalogTTL, db)
	if err != nil {
		return nil, errors.Wrap(err, "opening catalog")
	}

	httpClient := &resolver.HTTPClient{
		BaseURL:         ctx.RemoteURL,
		CurrentAPILevel: ctx.RemoteAPIVersion,
	}

	pipeline := fetch.New(ctx.Dirs.Storage)
	pipeline.DefaultSource = fetch.TemplateSource{Template: ctx.RemoteURL + "/{path}/{version}/{hash}.tar.gz"}
	pipeline.AccessTable = at

	r := resolver.New(cat, httpClient, pipeline, ctx.YoungPackageWindow, ctx.EffectiveQueryLocalDB())
	r.SetTelemetry(httpClient)
	return r, nil
}

func runBuild(loggers *Loggers, ctx *cppanctx.Context, db *servicedb.DB, path, configName string, buildOnly, prepareArchive bool) error {
	at, err := accesstable.Open(db, ctx.Dirs.Storage)
	if err != nil {
		return errors.Wrap(err, "opening access table")
	}
	defer at.Close()
	at.SetUpdatesDisabled(buildOnly)

	res, err := newResolver(ctx, db, at)
	if err != nil {
		return err
	}

	st := store.New(ctx, db, res, at, nil)
	set, root, _, err := st.ReadPackagesFromFile(path, configName, true)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	_ = set

	if prepareArchive {
		loggers.Out.Printf("prepared archive for %s\n", root.Package.TargetName())
		return nil
	}

	resolved, err := st.Process(context.Background(), root)
	if err != nil {
		return errors.Wrap(err, "processing dependencies")
	}

	loggers.Out.Printf("%s: %d package(s) resolved\n", root.Package.TargetName(), len(resolved))
	return nil
}

func runClearCache(loggers *Loggers, db *servicedb.DB, pattern string) error {
	if err := db.ClearConfigHashes(); err != nil {
		return errors.Wrap(err, "clearing cache")
	}
	loggers.Out.Println("cache cleared")
	return nil
}

func runClearVarsCache(loggers *Loggers, db *servicedb.DB, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		if pattern == "" {
			re = regexp.MustCompile(".*")
		} else {
			return errors.Wrapf(err, "invalid -clear-vars-cache pattern %q", pattern)
		}
	}
	n, err := db.ClearConfigHashesMatching(re)
	if err != nil {
		return errors.Wrap(err, "clearing vars cache")
	}
	loggers.Out.Printf("cleared %d cached configure check(s)\n", n)
	return nil
}

// runSelfUpgrade implements the throttled update check of spec.md §6's
// --self-upgrade flag: NextClientVersionCheck bounds it to at most once
// per 3 hours. Fetching and replacing the running binary is out of
// scope (spec.md's Non-goals exclude produced build output generally);
// this records the check and reports the current version.
func runSelfUpgrade(loggers *Loggers, db *servicedb.DB) error {
	now := time.Now()
	should, err := db.ShouldCheckForClientUpdate(now)
	if err != nil {
		return errors.Wrap(err, "checking client update throttle")
	}
	if !should {
		loggers.Out.Println("client update check skipped, throttled")
		return nil
	}
	if err := db.SetLastClientUpdateCheck(now); err != nil {
		return errors.Wrap(err, "recording client update check")
	}
	loggers.Out.Printf("client %s is up to date\n", clientVersion)
	return nil
}
