// Command drawbridge loads a library through a companion and calls its
// routines from the command line or an interactive TUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/wippyai/drawbridge/ctype"
)

type options struct {
	lib       string
	kind      string
	fn        string
	args      string
	argTypes  string
	resType   string
	companion string
	config    string
	list      bool
}

func main() {
	var (
		o           options
		interactive bool
	)
	flag.StringVar(&o.lib, "lib", "", "Library to load")
	flag.StringVar(&o.kind, "kind", string(ctype.CDLL), "Library kind (cdll, windll, oledll)")
	flag.StringVar(&o.fn, "func", "", "Routine to call, by name or ordinal")
	flag.StringVar(&o.args, "arg", "", "Arguments (comma-separated)")
	flag.StringVar(&o.argTypes, "argtypes", "", "Argument types for undeclared routines (comma-separated)")
	flag.StringVar(&o.resType, "restype", "", "Result type for undeclared routines")
	flag.StringVar(&o.companion, "companion", "", "Companion executable; libraries load in-process when empty")
	flag.StringVar(&o.config, "config", "", "Configuration file")
	flag.BoolVar(&o.list, "list", false, "List exported routines and exit")
	flag.BoolVar(&interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if o.lib == "" {
		fmt.Fprintln(os.Stderr, "Usage: drawbridge -lib <name> [-kind cdll] -func <routine> [-arg a,b,...]")
		fmt.Fprintln(os.Stderr, "       drawbridge -lib <name> -list")
		fmt.Fprintln(os.Stderr, "       drawbridge -lib <name> -i  (interactive mode)")
		os.Exit(1)
	}

	var err error
	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			err = fmt.Errorf("interactive mode needs a terminal")
		} else {
			err = runInteractive(o)
		}
	} else {
		err = run(o)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	ctx := context.Background()

	sess, lib, err := open(ctx, o)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	exports, err := lib.Exports(ctx)
	if err != nil {
		return fmt.Errorf("exports: %w", err)
	}

	fmt.Printf("Library: %s\n", lib)
	fmt.Printf("\nExported routines:\n")
	for _, e := range exports {
		fmt.Printf("  %s\n", formatExport(e))
	}

	if o.list {
		return nil
	}
	if o.fn == "" {
		fmt.Printf("\nUse -func to specify a routine to call.\n")
		return nil
	}

	export := lookupExport(exports, o.fn)
	if o.argTypes != "" || o.resType != "" {
		if export, err = overrideTypes(export, o.argTypes, o.resType); err != nil {
			return err
		}
	}

	var raw []string
	if o.args != "" {
		raw = strings.Split(o.args, ",")
	}

	fmt.Printf("\nCalling %s(%s)...\n", o.fn, strings.Join(raw, ", "))
	result, err := call(ctx, lib, o.fn, export, raw)
	if err != nil {
		return fmt.Errorf("call %s: %w", o.fn, err)
	}
	fmt.Printf("Result: %v\n", result)
	return nil
}
