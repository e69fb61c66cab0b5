package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/orchestrator"
)

// JobCmd groups the job lifecycle subcommands, nested one level below the
// root since "job" has several sub-operations of its own.
type JobCmd struct {
	Create JobCreateCmd `cmd:"" help:"Create a queued job."`
	Run    JobRunCmd    `cmd:"" help:"Process a queued (or previously failed) job."`
	Resume JobResumeCmd `cmd:"" help:"Resume a job from its latest checkpoint."`
	Cancel JobCancelCmd `cmd:"" help:"Cancel a running job (cooperative; only effective within the process that is running it)."`
	Status JobStatusCmd `cmd:"" help:"Show a job's current status and latest run."`
}

// JobCreateCmd creates a queued job.
type JobCreateCmd struct {
	Type             string  `required:"" help:"Job type: transcribe, mine, flagship, or pipeline."`
	Input            string  `required:"" help:"input_id (usually a source_id/episode_id)."`
	ConfigFile       string  `name:"config-file" help:"YAML file holding a full job config; explicit flags below override its fields." type:"existingfile"`
	Stages           string  `help:"Comma-separated stage list for job_type=pipeline, e.g. transcribe,mine,flagship."`
	MinerModel       string  `name:"miner-model" help:"Provider name (registry key) used by the miner."`
	FlagshipModel    string  `name:"flagship-model" help:"Provider name used for flagship-tier evaluation."`
	LightweightModel string  `name:"lightweight-model" help:"Provider name used for the cheap evaluator path."`
	MaxWorkers       int     `name:"max-workers" help:"Hard cap overriding the resource governor's recommendation."`
	CheckpointEvery  int     `name:"checkpoint-every" help:"Segments between checkpoints (default 5)."`
	Temperature      float64 `help:"Sampling temperature for miner/evaluator calls (default 0)."`
}

func (c *JobCreateCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.buildOrchestrator()
	if err != nil {
		return err
	}

	var jobCfg config.JobConfig
	if c.ConfigFile != "" {
		raw, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("chipper: reading job config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &jobCfg); err != nil {
			return fmt.Errorf("chipper: parsing job config: %w", err)
		}
	}
	if c.MinerModel != "" {
		jobCfg.MinerModel = c.MinerModel
	}
	if c.FlagshipModel != "" {
		jobCfg.FlagshipModel = c.FlagshipModel
	}
	if c.LightweightModel != "" {
		jobCfg.LightweightModel = c.LightweightModel
	}
	if c.MaxWorkers > 0 {
		jobCfg.MaxWorkers = c.MaxWorkers
	}
	if c.CheckpointEvery > 0 {
		jobCfg.CheckpointEvery = c.CheckpointEvery
	}
	if c.Temperature != 0 {
		jobCfg.Temperature = c.Temperature
	}
	if c.Stages != "" {
		jobCfg.Stages = nil
		for _, s := range strings.Split(c.Stages, ",") {
			jobCfg.Stages = append(jobCfg.Stages, strings.TrimSpace(s))
		}
	}

	jobID, err := orch.CreateJob(context.Background(), config.JobType(c.Type), c.Input, jobCfg)
	if err != nil {
		return fmt.Errorf("chipper: create_job: %w", err)
	}
	fmt.Println(jobID)
	return nil
}

// JobRunCmd processes a queued job to a terminal state.
type JobRunCmd struct {
	JobID string `arg:"" help:"Job ID returned by \"job create\"."`
}

func (c *JobRunCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.buildOrchestrator()
	if err != nil {
		return err
	}

	result, runErr := orch.ProcessJob(context.Background(), c.JobID)
	printJobResult(result, runErr)
	return runErr
}

// JobResumeCmd resumes an interrupted or failed job from its staged
// progress.
type JobResumeCmd struct {
	JobID string `arg:"" help:"Job ID to resume from its latest checkpoint."`
}

func (c *JobResumeCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.buildOrchestrator()
	if err != nil {
		return err
	}

	result, runErr := orch.ResumeJob(context.Background(), c.JobID)
	printJobResult(result, runErr)
	return runErr
}

// JobCancelCmd cancels a running job. Cancellation is
// cooperative and observed only by the in-process orchestrator instance
// driving the job, so this is only useful against a job this same
// "chipper" process is concurrently running elsewhere (e.g. via a daemon
// mode); invoked against a fresh process with no in-flight job it is a
// documented no-op.
type JobCancelCmd struct {
	JobID string `arg:"" help:"Job ID to cancel."`
}

func (c *JobCancelCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.buildOrchestrator()
	if err != nil {
		return err
	}
	orch.CancelJob(c.JobID)
	fmt.Printf("cancel signal sent for job %s (no-op if not running in this process)\n", c.JobID)
	return nil
}

// JobStatusCmd prints a job's status and its latest run's metrics/error.
type JobStatusCmd struct {
	JobID string `arg:"" help:"Job ID to inspect."`
}

func (c *JobStatusCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	job, err := a.store.GetJob(ctx, c.JobID)
	if err != nil {
		return fmt.Errorf("chipper: %w", err)
	}

	statusColor := color.New(color.FgYellow)
	switch job.Status {
	case "succeeded":
		statusColor = color.New(color.FgGreen)
	case "failed":
		statusColor = color.New(color.FgRed)
	}

	fmt.Printf("job:    %s (%s)\n", job.JobID, job.JobType)
	fmt.Printf("input:  %s\n", job.InputID)
	fmt.Print("status: ")
	statusColor.Println(job.Status)

	run, err := a.store.GetLatestJobRun(ctx, c.JobID)
	if err != nil {
		fmt.Println("runs:   none yet")
		return nil
	}
	fmt.Printf("run:    %s (%s)\n", run.JobRunID, run.Status)
	if run.ErrorCode != nil {
		fmt.Printf("error:  %s: %s\n", *run.ErrorCode, derefOr(run.ErrorMessage, ""))
	}
	if run.MetricsJSON != nil {
		fmt.Printf("metrics: %s\n", *run.MetricsJSON)
	}
	if run.CheckpointJSON != nil {
		fmt.Printf("checkpoint: %s\n", *run.CheckpointJSON)
	}
	return nil
}

func printJobResult(result *orchestrator.JobResult, err error) {
	if result == nil {
		if err != nil {
			fmt.Printf("status: failed: %v\n", err)
		}
		return
	}
	fmt.Printf("job:    %s\n", result.JobID)
	fmt.Printf("status: %s\n", result.Status)
	fmt.Printf("segments: %d, claims: %d\n", result.SegmentCount, result.ClaimCount)
	if result.ErrorCode != "" {
		fmt.Printf("error:  %s: %s\n", result.ErrorCode, result.ErrorMessage)
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
