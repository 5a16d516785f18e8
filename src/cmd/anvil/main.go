// Command anvil is the minimal driver that wires the toy front-end (package toyfe) to
// the engine: it parses a handful of flags, loads persisted configuration, builds a
// BuildContext, and dispatches one of a few commands through match and execute. It is
// deliberately thin -- see SPEC_FULL.md's non-goals -- existing to exercise the engine
// end to end rather than to be a real build tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/thought-machine/go-flags"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/op/go-logging.v1"

	"github.com/anvilbuild/anvil/src/config"
	"github.com/anvilbuild/anvil/src/core"
	"github.com/anvilbuild/anvil/src/exec"
	"github.com/anvilbuild/anvil/src/filecache"
	"github.com/anvilbuild/anvil/src/logging"
	"github.com/anvilbuild/anvil/src/rule"
	"github.com/anvilbuild/anvil/src/scheduler"
	"github.com/anvilbuild/anvil/src/toyfe"
)

var log = logging.Log

var opts struct {
	Usage string `usage:"Anvil is a minimal build-engine driver used to exercise the core engine end to end."`

	Verbosity  int    `short:"v" long:"verbosity" default:"1" description:"Verbosity of output (0=critical .. 5=debug)"`
	OutBase    string `short:"o" long:"out_base" default:"anvil-out" description:"Output directory for build artifacts and persisted state"`
	NumThreads int    `short:"n" long:"num_threads" description:"Number of concurrent build operations. Default is number of CPUs."`
	KeepGoing  bool   `long:"keep_going" description:"Continue building independent sub-graphs after a failure"`
	Dump       bool   `long:"dump" description:"Dump the target graph after the run"`

	Build struct {
		Args struct {
			SrcDir string `positional-arg-name:"src_dir" description:"Directory of .src files to build"`
		} `positional-args:"true" required:"true"`
	} `command:"build" description:"Builds every .src file under src_dir into a linked executable"`

	Clean struct {
		Args struct {
			SrcDir string `positional-arg-name:"src_dir" description:"Directory of .src files whose outputs should be removed"`
		} `positional-args:"true" required:"true"`
	} `command:"clean" description:"Removes build outputs for src_dir"`

	Configure struct {
		Args struct {
			SrcDir string `positional-arg-name:"src_dir" description:"Source directory to persist as this project's configuration"`
		} `positional-args:"true" required:"true"`
	} `command:"configure" description:"Persists configuration for this project"`

	Disfigure struct {
	} `command:"disfigure" description:"Removes this project's persisted configuration"`
}

func main() {
	os.Exit(run())
}

func run() int {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}
	if parser.Active == nil {
		fmt.Fprintln(os.Stderr, "anvil: no command given; try --help")
		return 1
	}

	initLogging(opts.Verbosity)
	if _, err := maxprocs.Set(maxprocs.Logger(log.Infof)); err != nil {
		log.Warning("failed to set GOMAXPROCS: %s", err)
	}

	switch parser.Active.Name {
	case "configure":
		return runConfigure(opts.Configure.Args.SrcDir)
	case "disfigure":
		return runDisfigure()
	case "build":
		return runPerform(core.OpUpdate, opts.Build.Args.SrcDir)
	case "clean":
		return runPerform(core.OpClean, opts.Clean.Args.SrcDir)
	default:
		fmt.Fprintf(os.Stderr, "anvil: unknown command %q\n", parser.Active.Name)
		return 1
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(opts.OutBase)
	if err != nil {
		return nil, err
	}
	if home, ok := os.LookupEnv("HOME"); ok {
		if err := cfg.ApplyRCFile(home + "/.anvilrc"); err != nil {
			log.Warning("errors in ~/.anvilrc: %s", err)
		}
	}
	if err := cfg.ApplyRCFile(".anvilrc"); err != nil {
		log.Warning("errors in .anvilrc: %s", err)
	}
	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		log.Warning("errors in ANVIL_* environment variables: %s", err)
	}
	cfg.OutBase = opts.OutBase
	if opts.NumThreads > 0 {
		cfg.MaxActive = opts.NumThreads
	}
	cfg.KeepGoing = cfg.KeepGoing || opts.KeepGoing
	cfg.Verbosity = opts.Verbosity
	return cfg, nil
}

func runConfigure(srcDir string) int {
	cfg, err := loadConfig()
	if err != nil {
		log.Critical("%s", err)
		return 1
	}
	cfg.SrcBase = srcDir
	if err := cfg.Persist(); err != nil {
		log.Critical("%s", err)
		return 1
	}
	log.Notice("configured %s (out_base=%s)", srcDir, cfg.OutBase)
	return 0
}

func runDisfigure() int {
	if err := config.Disfigure(opts.OutBase); err != nil {
		log.Critical("%s", err)
		return 1
	}
	return 0
}

func runPerform(op core.OperationID, srcDir string) int {
	cfg, err := loadConfig()
	if err != nil {
		log.Critical("%s", err)
		return 1
	}
	if srcDir == "" {
		srcDir = cfg.SrcBase
	}
	if srcDir == "" {
		log.Critical("no source directory given and project is not configured")
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sched := scheduler.New(ctx, cfg.MaxActive, cfg.QueueDepth)
	defer sched.Shutdown()

	buildCtx := core.NewBuildContext(sched, cfg.OutBase)
	buildCtx.KeepGoing = cfg.KeepGoing
	// Replace the context's default-format cache with one honoring the project's
	// configured CacheFormat (persisted by `configure`, or overridden via .anvilrc /
	// ANVIL_CACHE_FORMAT).
	buildCtx.Cache = filecache.New(filepath.Join(cfg.OutBase, core.CacheDirName), cfg.CacheFormat)
	go buildCtx.Cache.Sweeper(ctx, filecache.DefaultSweepInterval, filecache.DefaultLowMemoryThreshold)

	rules := rule.NewMap()
	types := toyfe.Register(buildCtx.Scopes.Root(), rules)

	target, err := toyfe.Load(buildCtx, buildCtx.Scopes.Root(), types, cfg.OutBase, srcDir)
	if err != nil {
		log.Critical("%s", err)
		return 1
	}

	action := core.Action{MetaOp: core.MetaPerform, Op: op}
	matcher := exec.NewMatcher(rules, rule.DefaultFallbacks())
	if err := matcher.Match(buildCtx, action, target, ""); err != nil {
		log.Critical("%s", err)
		return 1
	}

	executor := exec.NewExecutor(cfg.KeepGoing)
	result := executor.Run(buildCtx, action, []*core.Target{target})

	if opts.Dump || opts.Verbosity >= 5 {
		fmt.Fprintln(os.Stderr, exec.Dump(buildCtx, action))
	}

	if !result.OK() {
		for _, t := range result.Failed {
			log.Error("failed: %s", t)
		}
		for _, t := range result.Postponed {
			log.Warning("postponed: %s", t)
		}
		return 1
	}
	log.Notice("%s: done", target)
	return 0
}

// initLogging points the singleton logger at stderr with verbosity translated the same
// way the teacher's cli.Verbosity flag does (0=critical through 5=debug), without
// pulling in its terminal-detection and file-logging machinery, which cmd/anvil has no
// use for.
func initLogging(verbosity int) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(
		"%{time:15:04:05.000} %{level:-8s} %{message}",
	))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(levelFor(verbosity), "")
	logging.SetBackend(leveled)
}

func levelFor(verbosity int) logging.Level {
	switch {
	case verbosity <= 0:
		return logging.CRITICAL
	case verbosity == 1:
		return logging.WARNING
	case verbosity == 2:
		return logging.NOTICE
	case verbosity == 3:
		return logging.INFO
	default:
		return logging.DEBUG
	}
}
