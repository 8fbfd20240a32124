// Package config holds the run configuration derived from CLI flags,
// the same plain-struct-plus-constructor shape as the teacher's
// llmsh.Config (internal/llmsh/shell.go).
package config

import "fmt"

// Config is the full set of knobs cmd/ppl accepts.
type Config struct {
	// PipelinePath is the .ppl file to run.
	PipelinePath string
	// Verbose turns on extra run diagnostics on stderr.
	Verbose bool
}

// New validates and returns a Config for a single pipeline run.
func New(pipelinePath string, verbose bool) (*Config, error) {
	if pipelinePath == "" {
		return nil, fmt.Errorf("a pipeline file is required")
	}
	return &Config{PipelinePath: pipelinePath, Verbose: verbose}, nil
}
