// vmdk-dump converts a stream optimized VMDK extent into a raw disk image.
//
// Usage:
//
//	vmdk-dump [flags] <vmdk filename> [<raw output filename>]
//
// Without an output filename the marker stream is only listed.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aarsakian/VMDK_Dump/extent"
	"github.com/aarsakian/VMDK_Dump/logger"
	"github.com/aarsakian/VMDK_Dump/vmdk"
	"github.com/fatih/color"
	"github.com/spf13/pflag"
)

type options struct {
	loggerActive bool
	quiet        bool
	verify       bool
	descriptor   bool
	progress     bool
	noColor      bool

	imagePath  string
	outputPath string
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("expected <vmdk filename> [<raw output filename>]")

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	opts := new(options)
	flags := pflag.NewFlagSet("vmdk-dump", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.BoolVar(&opts.loggerActive, "log", false, "enable logging to logs<timestamp>.txt")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not list markers")
	flags.BoolVar(&opts.verify, "verify", false, "decompress grains when no output is given")
	flags.BoolVar(&opts.descriptor, "descriptor", false, "print the embedded descriptor")
	flags.BoolVar(&opts.progress, "progress", false, "show a progress bar while writing the raw image")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vmdk-dump [flags] <vmdk filename> (<raw output filename>)\n\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	positional := flags.Args()
	if len(positional) < 1 || len(positional) > 2 {
		flags.Usage()
		return nil, errUsage
	}
	opts.imagePath = positional[0]
	if len(positional) == 2 {
		opts.outputPath = positional[1]
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.noColor {
		color.NoColor = true
	}

	now := time.Now()
	logfilename := "logs" + now.Format("2006-01-02T15_04_05") + ".txt"
	if err := logger.InitializeLogger(opts.loggerActive, logfilename); err != nil {
		return err
	}
	defer logger.VMDKlogger.Close()

	ext, err := extent.Open(opts.imagePath)
	if err != nil {
		return err
	}
	defer ext.Close()

	fmt.Fprintln(stdout, ext.SparseHeader)
	describe(ext, opts, stdout, stderr)

	rep := newReporter(stdout, opts.quiet)
	walkOpts := extent.Options{Verify: opts.verify, Observer: rep.event}

	if opts.outputPath == "" {
		result, err := ext.Inspect(walkOpts)
		if err != nil {
			return err
		}
		rep.inspectSummary(result)
		return nil
	}

	var bar *progress
	if opts.progress {
		bar = newProgress(stderr, ext.Size)
		walkOpts.Observer = bar.wrap(walkOpts.Observer)
	}
	result, err := ext.Dump(opts.outputPath, walkOpts)
	bar.finish(err == nil)
	if err != nil {
		return err
	}
	rep.dumpSummary(result)
	return nil
}

func describe(ext *extent.Extent, opts *options, stdout, stderr io.Writer) {
	desc, err := vmdk.ReadDescriptor(ext.Fhandle, ext.SparseHeader)
	if err != nil {
		logger.VMDKlogger.Warning(fmt.Sprintf("Embedded descriptor unavailable: %v", err))
		if opts.descriptor {
			fmt.Fprintf(stderr, "warning: %v\n", err)
		}
		return
	}
	if !desc.IsStreamOptimized() {
		logger.VMDKlogger.Warning(fmt.Sprintf("Descriptor create type is %q, not streamOptimized.", desc.CreateType))
	}
	if opts.descriptor {
		fmt.Fprintln(stdout, desc)
	}
}
