package util

import "fmt"

// PipelineCounts aggregates per-document pipeline states for one tenant,
// plus duration estimates derived from recorded step timings.
type PipelineCounts struct {
	Total      int64
	Pending    int64
	Chunking   int64
	Extracting int64
	Merging    int64
	Describing int64
	Completed  int64
	Failed     int64

	EstimatedDuration int64
	RemainingDuration int64
}

type PipelineStepProgress struct {
	Pending    string `json:"pending,omitempty"`
	Chunking   string `json:"chunking,omitempty"`
	Extracting string `json:"extracting,omitempty"`
	Merging    string `json:"merging,omitempty"`
	Describing string `json:"describing,omitempty"`
	Completed  string `json:"completed,omitempty"`
	Failed     string `json:"failed,omitempty"`
}

type PipelineProgress struct {
	Step              *PipelineStepProgress `json:"step,omitempty"`
	Percentage        *int32                `json:"percentage,omitempty"`
	EstimatedDuration *int64                `json:"estimated_duration_ms,omitempty"`
	TimeRemaining     *int64                `json:"time_remaining_ms,omitempty"`
}

const pipelineStepCount int64 = 5

func BuildPipelineProgress(counts PipelineCounts) PipelineProgress {
	if counts.Total <= 0 {
		return PipelineProgress{}
	}

	stepProgress := PipelineStepProgress{}
	hasStep := false

	set := func(dst *string, count int64) {
		if count > 0 {
			*dst = fmt.Sprintf("%d/%d", count, counts.Total)
			hasStep = true
		}
	}
	set(&stepProgress.Pending, counts.Pending)
	set(&stepProgress.Chunking, counts.Chunking)
	set(&stepProgress.Extracting, counts.Extracting)
	set(&stepProgress.Merging, counts.Merging)
	set(&stepProgress.Describing, counts.Describing)
	set(&stepProgress.Completed, counts.Completed)
	set(&stepProgress.Failed, counts.Failed)

	progress := PipelineProgress{}
	if hasStep {
		progress.Step = &stepProgress
	}

	percentage := CalculatePipelinePercentage(counts)
	progress.Percentage = &percentage

	if counts.EstimatedDuration > 0 {
		progress.EstimatedDuration = &counts.EstimatedDuration
	}
	if counts.RemainingDuration > 0 {
		progress.TimeRemaining = &counts.RemainingDuration
	}

	return progress
}

// CalculatePipelinePercentage weights each document by how far it has moved
// through the pipeline, so a tenant with many completed documents and one
// still chunking reports close to 100 instead of jumping between extremes.
func CalculatePipelinePercentage(counts PipelineCounts) int32 {
	if counts.Total <= 0 {
		return 0
	}

	totalWork := counts.Total * pipelineStepCount
	completedWork := min(counts.Chunking+
		counts.Extracting*2+
		counts.Merging*3+
		counts.Describing*4+
		counts.Completed*5+
		counts.Failed*5, totalWork)

	return int32(completedWork * 100 / totalWork)
}
