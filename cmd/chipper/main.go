// Command chipper is the CLI for the claim-extraction pipeline core.
//
// Usage:
//
//	chipper ingest --db chipper.db episode.json
//	chipper job create --db chipper.db --type pipeline --input ep_test_001 --stages transcribe,mine,flagship
//	chipper job run --db chipper.db <job-id>
//	chipper job status --db chipper.db <job-id>
//	chipper search --db chipper.db "adaptive learning rate"
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/knowledgechipper/core/pkg/logging"
)

// CLI is the kong struct-of-subcommands root: one exported *Cmd struct per
// subcommand, global flags on the root struct, kong.Parse + ctx.Run(&cli)
// in main.
type CLI struct {
	Ingest IngestCmd `cmd:"" help:"Ingest an episode bundle."`
	Job    JobCmd    `cmd:"" help:"Manage extraction jobs."`
	Search SearchCmd `cmd:"" help:"Full-text search over claim canonical_text."`

	Summarize SummarizeCmd `cmd:"" help:"Print short/long summaries composed from tiered claims."`
	Cost      CostCmd      `cmd:"" help:"Report token/cost accounting for a job."`
	Estimate  EstimateCmd  `cmd:"" help:"Estimate request count and cost for a pipeline job before running it."`

	Version VersionCmd `cmd:"" help:"Show version information."`

	DB        string `short:"d" help:"Path to the sqlite database file." default:"chipper.db" type:"path"`
	Config    string `short:"c" help:"Path to the YAML config file (providers, prices)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("chipper (knowledgechipper/core) dev")
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("chipper"),
		kong.Description("Claim-extraction and content-analysis pipeline core."),
		kong.UsageOnError(),
	)

	logging.Setup(logging.Options{Level: cli.LogLevel, Format: cli.LogFormat})

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
	if err != nil {
		os.Exit(1)
	}
}
