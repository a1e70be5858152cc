package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/martinemde/llmguard/unifiedllm"
)

// BackoffCmd implements 'llmguard backoff'.
type BackoffCmd struct {
	Provider string `short:"p" help:"Provider id or alias" default:"openai"`
	NoJitter bool   `name:"no-jitter" help:"Show the deterministic schedule"`
}

func (c *BackoffCmd) Run(g *Global) error {
	d, err := g.Dispatcher()
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}
	cfg := d.GetHandlerForProvider(c.Provider).Config()
	if c.NoJitter {
		cfg.UseJitter = false
	}
	ex := unifiedllm.NewRetryExecutor(cfg)

	fmt.Printf("%s: max_retries=%d base=%v max=%v multiplier=%g jitter=%t\n",
		unifiedllm.ProviderDisplayName(c.Provider), cfg.MaxRetries, cfg.BaseDelay, cfg.MaxDelay, cfg.BackoffMultiplier, cfg.UseJitter)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RETRY\tDELAY")
	for n := 1; n <= cfg.MaxRetries; n++ {
		fmt.Fprintf(tw, "%d\t%v\n", n, ex.CalculateRetryDelay(n))
	}
	return tw.Flush()
}
