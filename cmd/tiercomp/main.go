// tiercomp CLI - compiles the methods of class files into target methods
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tiercomp/classfile"
	"github.com/chazu/tiercomp/codecache"
	"github.com/chazu/tiercomp/config"
	"github.com/chazu/tiercomp/cpool"
	"github.com/chazu/tiercomp/pipeline"
	"github.com/chazu/tiercomp/target"
)

var log = commonlog.GetLogger("tiercomp")

// options holds the command line after the configuration file has been
// applied.
type options struct {
	config   *config.Config
	filter   string
	bytecode bool
	dynamic  bool
	verbose  bool
}

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	configDir := flag.String("config", "", "Directory containing tiercomp.toml (default: search upward from .)")
	arch := flag.String("arch", "", "Target architecture: amd64, ppc64")
	printAsm := flag.Bool("S", false, "Print target method listings")
	printBytes := flag.Bool("x", false, "Include code bytes in listings")
	metrics := flag.Bool("metrics", false, "Print compilation metrics")
	cachePath := flag.String("cache", "", "Artifact cache database")
	workers := flag.Int("workers", 0, "Concurrent compilations")
	filter := flag.String("method", "", "Only compile methods whose key contains this string")
	bytecode := flag.Bool("bytecode", false, "Print the bytecode of each compiled method")
	dynamic := flag.Bool("dynamic", false, "Load classes on demand and compile them on background workers")
	verbosity := flag.Int("log", -1, "Log verbosity (overrides the configuration)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tiercomp [options] paths...\n\n")
		fmt.Fprintf(os.Stderr, "Compiles every method with code in the given class files and directories.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tiercomp ./classes                     # Compile for amd64\n")
		fmt.Fprintf(os.Stderr, "  tiercomp -arch ppc64 -S Point.class    # Print ppc64 listings\n")
		fmt.Fprintf(os.Stderr, "  tiercomp -cache .tiercomp/cache.db ./classes -metrics\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	// Command line flags override the configuration file
	if *arch != "" {
		cfg.Target.Arch = *arch
	}
	if *printAsm {
		cfg.Assembler.PrintAssembly = true
	}
	if *printBytes {
		cfg.Assembler.PrintCodeBytes = true
	}
	if *metrics {
		cfg.Assembler.PrintMetrics = true
	}
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts := options{config: cfg, filter: *filter, bytecode: *bytecode, dynamic: *dynamic, verbose: *verbose}
	failed, err := run(context.Background(), opts, flag.Args(), os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// run compiles the classes found under paths and writes a report to out.
// It returns the number of methods that failed to compile.
func run(ctx context.Context, opts options, paths []string, out io.Writer) (int, error) {
	cfg := opts.config
	files, err := collectClassFiles(paths)
	if err != nil {
		return 0, err
	}
	classes, err := readClasses(files)
	if err != nil {
		return 0, err
	}
	if opts.verbose {
		fmt.Fprintf(out, "Read %d classes from %d paths\n", len(classes), len(paths))
	}

	var m target.Metrics
	pipelineOpts := pipeline.Options{
		Arch:         cfg.Arch(),
		CodeCapacity: cfg.Target.CodeCapacity,
		Assembler:    cfg.AssemblerOptions(),
		Observers:    target.NewObservers(cfg.AssemblerOptions(), &m, out),
	}
	if path := cfg.CachePath(); path != "" {
		store, err := codecache.Open(path)
		if err != nil {
			return 0, err
		}
		defer store.Close()
		pipelineOpts.Cache = store
	}
	c, err := pipeline.NewCompiler(pipelineOpts)
	if err != nil {
		return 0, err
	}

	var results []*pipeline.Result
	if opts.dynamic {
		results, err = compileDynamic(c, cfg, classes, opts.filter)
	} else {
		results, err = compileClosedWorld(ctx, c, cfg, classes, opts.filter)
	}
	if err != nil {
		return 0, err
	}

	failed := report(out, results, opts.bytecode)
	if cfg.Assembler.PrintMetrics {
		fmt.Fprint(out, m.String())
	}
	if opts.verbose {
		fmt.Fprintf(out, "Compiled %d methods, %d failed\n", len(results)-failed, failed)
	}
	return failed, nil
}

// compileClosedWorld compiles every method in one batch against a universe
// of the input classes.
func compileClosedWorld(ctx context.Context, c *pipeline.Compiler, cfg *config.Config, classes []*classfile.ClassFile, filter string) ([]*pipeline.Result, error) {
	u, err := closedWorld(classes)
	if err != nil {
		return nil, err
	}
	var reqs []*pipeline.Request
	for _, cf := range classes {
		reqs = append(reqs, methodRequests(cf, cpool.NewClosedWorldResolver(cf.Pool, u), filter)...)
	}
	results, err := pipeline.CompileAll(ctx, c, reqs, cfg.Pipeline.Workers)
	if err != nil {
		// Per-method failures are reported with the results.
		log.Debugf("batch: %s", err)
	}
	return results, ctx.Err()
}

// compileDynamic loads each input class through a loader and compiles its
// methods on queue workers as it is defined.
func compileDynamic(c *pipeline.Compiler, cfg *config.Config, classes []*classfile.ClassFile, filter string) ([]*pipeline.Result, error) {
	files := make(map[string]*classfile.ClassFile, len(classes))
	for _, cf := range classes {
		files[cf.Name] = cf
	}
	stubs := make(map[string]*cpool.Class)
	for _, s := range stubClasses(classes) {
		stubs[s.Name] = s
	}
	var object *cpool.Class
	if s, ok := stubs[objectClass]; ok {
		object = s
		delete(stubs, objectClass)
	}

	loader, err := cpool.NewLoader(func(name string) (*cpool.Class, error) {
		if cf, ok := files[name]; ok {
			return cf.RuntimeClass(), nil
		}
		if s, ok := stubs[name]; ok {
			return s, nil
		}
		return nil, &cpool.ResolutionError{Kind: cpool.NoClassDefFound, Name: name}
	}, bootstrap(object)...)
	if err != nil {
		return nil, err
	}

	q := pipeline.NewQueue(c, cfg.Pipeline.Workers, cfg.Pipeline.QueueCapacity)
	defer q.Stop()
	q.WatchLoader(loader, func(rc *cpool.Class) []*pipeline.Request {
		cf, ok := files[rc.Name]
		if !ok {
			return nil
		}
		return methodRequests(cf, cpool.NewDynamicResolver(cf.Pool, loader), filter)
	})

	var errs []error
	for _, cf := range classes {
		if _, err := loader.Load(cf.Name); err != nil {
			errs = append(errs, err)
		}
	}
	q.Drain()

	stats := q.Stats()
	log.Infof("queue: %d compiled, %d cached, %d failed, %d dropped", stats.Compiled, stats.Cached, stats.Failed, stats.Dropped)
	return q.Results(), errors.Join(errs...)
}

func bootstrap(object *cpool.Class) []*cpool.Class {
	if object == nil {
		return nil
	}
	return []*cpool.Class{object}
}

// report prints one line per result and returns the number of failures.
func report(out io.Writer, results []*pipeline.Result, bytecode bool) int {
	failed := 0
	for _, res := range results {
		key := res.Request.Key()
		switch {
		case res.Err != nil:
			failed++
			fmt.Fprintf(out, "%s: error: %v\n", key, res.Err)
			continue
		case res.Cached:
			a := res.Artifact
			fmt.Fprintf(out, "%s: cached, %d bytes, frame %d, %d safepoints, %d handlers\n",
				key, len(a.Code), a.FrameSize, len(a.Safepoints), len(a.Handlers))
		default:
			tm := res.Method
			fmt.Fprintf(out, "%s: %d bytes, frame %d, %d safepoints, %d handlers (%s)\n",
				key, tm.CodeSize(), tm.FrameSize(), len(tm.Safepoints()), len(tm.ExceptionHandlers()), res.Elapsed)
		}
		if bytecode {
			for _, line := range strings.Split(strings.TrimRight(classfile.Disassemble(res.Request.Code.Code()), "\n"), "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
		}
	}
	return failed
}
