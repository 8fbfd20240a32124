// Command ppl runs a single .ppl pipeline file. Grounded on
// cmd/llmcmd/main.go's manual os.Args loop and os.Exit(1) idiom, and on
// original_source/main.py's chdir-then-run-then-preview CLI shape.
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mako10k/llmcmd/internal/ppl/config"
	"github.com/mako10k/llmcmd/internal/ppl/exec"
	"github.com/mako10k/llmcmd/internal/ppl/lines"
	"github.com/mako10k/llmcmd/internal/ppl/parser"
)

const version = "0.1.0"

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if cfg == nil {
		// --help or --version already printed their output.
		return
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (*config.Config, error) {
	verbose := false
	var path string
	for _, arg := range args {
		switch arg {
		case "-h", "--help":
			printUsage(os.Stdout)
			return nil, nil
		case "--version":
			fmt.Println("ppl version " + version)
			return nil, nil
		case "-v", "--verbose":
			verbose = true
		default:
			if path != "" {
				return nil, fmt.Errorf("unexpected extra argument '%s'", arg)
			}
			path = arg
		}
	}
	if path == "" {
		return nil, fmt.Errorf("missing pipeline file")
	}
	return config.New(path, verbose)
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "Usage: ppl [-v|--verbose] <file.ppl>")
	fmt.Fprintln(w, "       ppl --help")
	fmt.Fprintln(w, "       ppl --version")
}

func run(cfg *config.Config) error {
	absPath, err := filepath.Abs(cfg.PipelinePath)
	if err != nil {
		return fmt.Errorf("resolve path '%s': %w", cfg.PipelinePath, err)
	}

	cleaned, err := lines.Read(absPath)
	if err != nil {
		return err
	}

	nodes, err := parser.Parse(cleaned)
	if err != nil {
		return err
	}

	// Change into the pipeline file's directory so relative paths
	// inside it resolve predictably, per spec.md §6.
	if err := os.Chdir(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("change to pipeline directory: %w", err)
	}

	ctx, err := exec.NewContext(os.Stdout, cfg.Verbose)
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := exec.Run(ctx, nodes); err != nil {
		return err
	}

	printSummary(ctx)
	return nil
}

func printSummary(ctx *exec.Context) {
	if ctx.Table == nil {
		fmt.Println("Pipeline produced no output.")
		return
	}
	rowCount, err := ctx.Table.RowCount()
	if err != nil {
		fmt.Printf("Pipeline finished, but the result could not be inspected: %v\n", err)
		return
	}
	if rowCount == 0 {
		fmt.Println("Output is an empty table.")
		return
	}

	cols, err := ctx.Table.ColumnNames()
	if err != nil {
		fmt.Printf("Pipeline finished with %d row(s).\n", rowCount)
		return
	}
	fmt.Printf("Pipeline finished with %d row(s), %d column(s).\n", rowCount, len(cols))
	if ctx.Streaming {
		fmt.Printf("(source was read in streaming mode, chunk size %d)\n", ctx.ChunkSize)
	}

	fmt.Println("Preview (first 10 rows):")
	w := csv.NewWriter(os.Stdout)
	w.Comma = '\t'
	if err := ctx.Table.PreviewCSV(w, 10); err != nil {
		fmt.Printf("(preview unavailable: %v)\n", err)
	}
}
