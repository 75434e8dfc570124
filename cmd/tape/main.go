// Tape CLI - compiles and runs tape programs
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"github.com/chazu/tape/compiler"
	"github.com/chazu/tape/manifest"
	"github.com/chazu/tape/server"
	"github.com/chazu/tape/store"
	"github.com/chazu/tape/vm"
	"github.com/chazu/tape/vm/dist"
)

const version = "0.1.0"

var log = commonlog.GetLogger("tape.cli")

var errorLabel = color.New(color.FgRed, color.Bold)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// countFlag counts how many times a boolean flag was given (-v -v).
type countFlag int

func (c *countFlag) String() string   { return strconv.Itoa(int(*c)) }
func (c *countFlag) IsBoolFlag() bool { return true }

func (c *countFlag) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*c++
	}
	return nil
}

// options holds parsed command-line flags.
type options struct {
	verbose   countFlag
	cells     int
	maxSteps  uint64
	output    string
	dis       bool
	cachePath string
	noCache   bool
	lsp       bool
	version   bool

	setFlags map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{setFlags: make(map[string]bool)}
	fs := flag.NewFlagSet("tape", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.Var(&opts.verbose, "v", "Verbose logging (repeat for more)")
	fs.IntVar(&opts.cells, "cells", 0, "Tape size in cells, must be positive (default from tape.toml, else 30000)")
	fs.Uint64Var(&opts.maxSteps, "max-steps", 0, "Stop after this many instructions (0 = unlimited)")
	fs.StringVar(&opts.output, "o", "", "Compile to an image file instead of running")
	fs.BoolVar(&opts.dis, "dis", false, "Print the compiled instructions instead of running")
	fs.StringVar(&opts.cachePath, "cache", "", "Enable the compile cache at this database path (:memory: keeps it in-process)")
	fs.BoolVar(&opts.noCache, "no-cache", false, "Do not read or write the compile cache")
	fs.BoolVar(&opts.lsp, "lsp", false, "Start the language server on stdio")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tape [options] <program>\n\n")
		fmt.Fprintf(stderr, "Compiles and runs a program. Files ending in %s are run as compiled images.\n\n", dist.ImageExt)
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  tape hello.b                  # Run a program\n")
		fmt.Fprintf(stderr, "  tape -o hello%s hello.b    # Compile to an image\n", dist.ImageExt)
		fmt.Fprintf(stderr, "  tape -dis hello.b             # Show compiled instructions\n")
		fmt.Fprintf(stderr, "  tape -lsp                     # Language server for editors\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	fs.Visit(func(f *flag.Flag) { opts.setFlags[f.Name] = true })
	return opts, fs, nil
}

// run is main without the process exit, so tests can drive it.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, fs, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}

	if opts.version {
		fmt.Fprintf(stdout, "tape %s\n", version)
		return 0
	}

	if opts.lsp {
		configureLogging(int(opts.verbose), "")
		if err := server.NewLSP(version).Run(); err != nil {
			reportError(stderr, fmt.Errorf("language server: %w", err))
			return 1
		}
		return 0
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  tape [options] <program>")
		return 1
	}
	path := fs.Arg(0)

	m, err := loadManifest(path)
	if err != nil {
		reportError(stderr, err)
		return 1
	}
	if err := applyFlags(m, opts); err != nil {
		reportError(stderr, err)
		return 1
	}
	configureLogging(m.Log.Verbosity, m.LogFilePath())

	if err := execute(path, m, opts, stdin, stdout); err != nil {
		reportError(stderr, err)
		return 1
	}
	return 0
}

func loadManifest(path string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

// applyFlags lets explicit flags override manifest settings. A relative
// -cache path is taken from the working directory, not the manifest's.
func applyFlags(m *manifest.Manifest, opts *options) error {
	if opts.setFlags["cells"] {
		if opts.cells <= 0 {
			return fmt.Errorf("-cells must be positive, got %d", opts.cells)
		}
		m.Tape.Cells = opts.cells
	}
	if opts.setFlags["max-steps"] {
		m.Run.MaxSteps = opts.maxSteps
	}
	if opts.setFlags["cache"] {
		path := opts.cachePath
		if path == "" {
			return fmt.Errorf("-cache needs a path")
		}
		if path != store.MemoryPath {
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("cannot resolve cache path %s: %w", path, err)
			}
			path = abs
		}
		m.Cache.Path = path
		enabled := true
		m.Cache.Enabled = &enabled
	}
	if opts.noCache {
		disabled := false
		m.Cache.Enabled = &disabled
	}
	if v := int(opts.verbose); v > m.Log.Verbosity {
		m.Log.Verbosity = v
	}
	return nil
}

func configureLogging(verbosity int, path string) {
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &path)
}

func reportError(w io.Writer, err error) {
	errorLabel.Fprint(w, "Error:")
	fmt.Fprintf(w, " %v\n", err)
}

// execute loads the program at path and compiles, disassembles or runs it.
func execute(path string, m *manifest.Manifest, opts *options, stdin io.Reader, stdout io.Writer) error {
	if filepath.Ext(path) == dist.ImageExt {
		if opts.output != "" {
			return fmt.Errorf("%s is already a compiled image", path)
		}
		prog, err := loadImage(path)
		if err != nil {
			return err
		}
		return runOrDisassemble(path, prog, m, opts, stdin, stdout)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open file %s for reading: %w", path, err)
	}

	if opts.output != "" {
		prog, err := compiler.ParseBytes(src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return writeImage(opts.output, prog, src, m.Image.IncludeSource)
	}

	prog, err := compileCached(path, src, m)
	if err != nil {
		return err
	}
	return runOrDisassemble(path, prog, m, opts, stdin, stdout)
}

func runOrDisassemble(path string, prog *vm.Program, m *manifest.Manifest, opts *options, stdin io.Reader, stdout io.Writer) error {
	if opts.dis {
		if prog.Len() > 0 {
			fmt.Fprintln(stdout, vm.Disassemble(prog))
		}
		return nil
	}
	if err := runProgram(prog, m, stdin, stdout); err != nil {
		return fmt.Errorf("run %s: %w", path, err)
	}
	return nil
}

// compileCached parses src, consulting the compile cache first when it is
// enabled. Cache failures are logged and otherwise ignored.
func compileCached(path string, src []byte, m *manifest.Manifest) (*vm.Program, error) {
	var cache store.Store
	if m.CacheEnabled() {
		c, err := store.New(store.Config{Path: m.CacheFilePath()})
		if err != nil {
			log.Warningf("compile cache unavailable: %v", err)
		} else {
			cache = c
			defer cache.Close()
		}
	}

	key := dist.SourceHash(src)
	if cache != nil {
		prog, ok, err := cache.Get(key)
		if err != nil {
			log.Warningf("compile cache lookup failed: %v", err)
		} else if ok {
			log.Infof("%s: %d instructions from cache", path, prog.Len())
			return prog, nil
		}
	}

	prog, err := compiler.ParseBytes(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	log.Infof("%s: compiled %d instructions", path, prog.Len())

	if cache != nil {
		img, err := dist.NewImage(prog, src, false)
		if err == nil {
			err = cache.Put(img)
		}
		if err != nil {
			log.Warningf("compile cache store failed: %v", err)
		}
	}
	return prog, nil
}

func loadImage(path string) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file %s for reading: %w", path, err)
	}
	img, err := dist.UnmarshalImage(data)
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", path, err)
	}
	if img.Source != "" {
		if err := dist.VerifyImageSource(img, compiler.ParseBytes); err != nil {
			return nil, fmt.Errorf("load image %s: %w", path, err)
		}
	}
	log.Infof("%s: loaded image with %d instructions", path, len(img.Code))
	return img.Program(), nil
}

func writeImage(path string, prog *vm.Program, src []byte, includeSource bool) error {
	img, err := dist.NewImage(prog, src, includeSource)
	if err != nil {
		return fmt.Errorf("building image: %w", err)
	}
	data, err := dist.MarshalImage(img)
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	log.Infof("wrote %s (%d instructions, %d bytes)", path, prog.Len(), len(data))
	return nil
}

// runProgram executes prog with stdout flushed after every output
// instruction. Interrupts cancel the run between instructions.
func runProgram(prog *vm.Program, m *manifest.Manifest, stdin io.Reader, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := bufio.NewWriter(stdout)
	interp := vm.NewInterpreter(prog, stdin, out, vm.Options{
		TapeSize: m.Tape.Cells,
		MaxSteps: m.Run.MaxSteps,
	})

	runErr := interp.Run(ctx)
	if err := out.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush output: %w", err)
	}
	log.Debugf("executed %d instructions", interp.Steps())
	return runErr
}
