package main

import (
	"context"
	"fmt"
	"strings"
)

// CostCmd reports the post-hoc cost rollup for a job: it sums
// llm_requests/llm_responses by provider+model and estimates USD cost from
// the configured price table.
type CostCmd struct {
	JobID string `arg:"" help:"Job ID to report cost for."`
}

func (c *CostCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	usage, err := a.store.GetJobCost(context.Background(), c.JobID)
	if err != nil {
		return fmt.Errorf("chipper: get_job_cost: %w", err)
	}
	if len(usage) == 0 {
		fmt.Println("no LLM calls recorded for this job yet")
		return nil
	}

	var totalTokens int
	var totalCost float64
	for _, u := range usage {
		uri := fmt.Sprintf("%s:%s", u.Provider, u.Model)
		cost := a.cfg.Prices.EstimateCost(uri, u.PromptTokens, u.CompletionTokens)
		totalTokens += u.TotalTokens
		totalCost += cost
		fmt.Printf("%-30s requests=%-5d prompt=%-8d completion=%-8d total=%-8d cost=$%.4f\n",
			uri, u.RequestCount, u.PromptTokens, u.CompletionTokens, u.TotalTokens, cost)
	}
	fmt.Printf("%-30s total tokens=%-8d total cost=$%.4f\n", "TOTAL", totalTokens, totalCost)
	return nil
}

// EstimateCmd is the dry-run / estimate mode: given an
// already-ingested episode's segment count and the models a pipeline job
// would use, estimate request counts and rough cost before actually running
// it. Estimates are necessarily approximate — actual token usage depends on
// segment length and model output, which aren't known until the calls are
// made.
type EstimateCmd struct {
	Episode          string `arg:"" help:"episode_id to estimate for (must already be ingested)."`
	Stages           string `default:"mine,flagship" help:"Comma-separated stages to estimate (transcribe has no LLM cost)."`
	MinerModel       string `name:"miner-model" required:"" help:"Provider name used by the miner."`
	FlagshipModel    string `name:"flagship-model" help:"Provider name used for flagship-tier evaluation."`
	LightweightModel string `name:"lightweight-model" help:"Provider name used for the cheap evaluator path."`
	BatchSize        int    `name:"batch-size" default:"10" help:"Evaluator candidates per call."`
	AvgPromptTokens  int    `name:"avg-prompt-tokens" default:"600" help:"Rough average prompt size per call, for cost estimation."`
}

func (c *EstimateCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	segs, err := a.store.GetSegments(context.Background(), c.Episode)
	if err != nil {
		return fmt.Errorf("chipper: %w", err)
	}
	if len(segs) == 0 {
		return fmt.Errorf("chipper: episode %s has no segments to estimate over", c.Episode)
	}
	segmentCount := len(segs)

	stages := strings.Split(c.Stages, ",")
	var minerCalls, evaluatorCalls int
	const entityKinds = 4 // claims, people, jargon, concepts
	evaluatorBatches := (segmentCount + c.BatchSize - 1) / c.BatchSize

	for _, stageName := range stages {
		stageName = strings.TrimSpace(stageName)
		if stageName == "" || stageName == "transcribe" {
			continue
		}
		minerCalls += segmentCount
		evaluatorCalls += evaluatorBatches * entityKinds
	}

	totalCalls := minerCalls + evaluatorCalls
	fmt.Printf("segments:         %d\n", segmentCount)
	fmt.Printf("miner calls:      %d (1 per segment per stage)\n", minerCalls)
	fmt.Printf("evaluator calls:  %d (%d batches x %d entity kinds per stage)\n", evaluatorCalls, evaluatorBatches, entityKinds)
	fmt.Printf("total LLM calls:  %d\n", totalCalls)

	minerCost := a.estimateProviderCost(c.MinerModel, minerCalls, c.AvgPromptTokens)
	lightweightCost := a.estimateProviderCost(c.LightweightModel, evaluatorCalls, c.AvgPromptTokens)
	flagshipCost := 0.0
	if c.FlagshipModel != "" {
		// Flagship is only reached via dual-routing promotion or an
		// always-flagship policy; without running the lightweight pass
		// first there's no way to know how many candidates promote, so
		// this reports the worst case (every evaluator call re-priced at
		// flagship rates) rather than silently omitting it.
		flagshipCost = a.estimateProviderCost(c.FlagshipModel, evaluatorCalls, c.AvgPromptTokens)
		fmt.Printf("estimated cost (miner + lightweight evaluator): $%.4f\n", minerCost+lightweightCost)
		fmt.Printf("worst case if all candidates promote to flagship: $%.4f\n", minerCost+flagshipCost)
		return nil
	}

	fmt.Printf("estimated cost:   $%.4f\n", minerCost+lightweightCost)
	return nil
}

func (a *app) estimateProviderCost(providerName string, calls, avgPromptTokens int) float64 {
	if providerName == "" || calls == 0 {
		return 0
	}
	pc, ok := a.cfg.Provider(providerName)
	if !ok {
		return 0
	}
	uri := fmt.Sprintf("%s:%s", pc.Provider, pc.Model)
	maxTokens := pc.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return a.cfg.Prices.EstimateCost(uri, avgPromptTokens*calls, maxTokens*calls)
}
