package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ClassifyCmd implements 'llmguard classify'.
type ClassifyCmd struct {
	Provider string `short:"p" help:"Provider id or alias" default:"openai"`
	Message  string `arg:"" help:"Error message to classify"`
}

type classifyOutput struct {
	Processed any `json:"processed"`
	Error     any `json:"error"`
}

func (c *ClassifyCmd) Run(g *Global) error {
	d, err := g.Dispatcher()
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}
	pe := d.ProcessError(errors.New(c.Message), c.Provider, map[string]any{"source": "cli"})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(classifyOutput{Processed: pe, Error: pe.ToError()})
}
