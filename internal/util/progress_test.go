package util

import "testing"

func TestCalculatePipelinePercentage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		counts PipelineCounts
		want   int32
	}{
		{
			name:   "empty batch",
			counts: PipelineCounts{},
			want:   0,
		},
		{
			name:   "all pending",
			counts: PipelineCounts{Total: 4, Pending: 4},
			want:   0,
		},
		{
			name:   "all completed",
			counts: PipelineCounts{Total: 3, Completed: 3},
			want:   100,
		},
		{
			name:   "half the documents done",
			counts: PipelineCounts{Total: 2, Pending: 1, Completed: 1},
			want:   50,
		},
		{
			name:   "documents mid pipeline",
			counts: PipelineCounts{Total: 2, Extracting: 1, Describing: 1},
			want:   60,
		},
		{
			name:   "failed documents count as finished",
			counts: PipelineCounts{Total: 2, Failed: 2},
			want:   100,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := CalculatePipelinePercentage(tc.counts); got != tc.want {
				t.Fatalf("unexpected percentage: got %d want %d", got, tc.want)
			}
		})
	}
}

func TestBuildPipelineProgress(t *testing.T) {
	t.Parallel()

	counts := PipelineCounts{
		Total:             3,
		Chunking:          1,
		Completed:         2,
		EstimatedDuration: 9000,
		RemainingDuration: 3000,
	}

	progress := BuildPipelineProgress(counts)
	if progress.Step == nil {
		t.Fatal("expected step progress")
	}
	if progress.Step.Chunking != "1/3" {
		t.Fatalf("unexpected chunking step: %q", progress.Step.Chunking)
	}
	if progress.Step.Completed != "2/3" {
		t.Fatalf("unexpected completed step: %q", progress.Step.Completed)
	}
	if progress.Step.Pending != "" {
		t.Fatalf("zero-count steps must stay empty, got %q", progress.Step.Pending)
	}
	if progress.Percentage == nil || *progress.Percentage != 73 {
		t.Fatalf("unexpected percentage: %v", progress.Percentage)
	}
	if progress.EstimatedDuration == nil || *progress.EstimatedDuration != 9000 {
		t.Fatalf("unexpected estimated duration: %v", progress.EstimatedDuration)
	}
	if progress.TimeRemaining == nil || *progress.TimeRemaining != 3000 {
		t.Fatalf("unexpected time remaining: %v", progress.TimeRemaining)
	}
}

func TestBuildPipelineProgressEmpty(t *testing.T) {
	t.Parallel()

	progress := BuildPipelineProgress(PipelineCounts{})
	if progress.Step != nil {
		t.Fatal("empty batch must have no step progress")
	}
	if progress.Percentage != nil {
		t.Fatal("empty batch must have no percentage")
	}
	if progress.EstimatedDuration != nil || progress.TimeRemaining != nil {
		t.Fatal("empty batch must have no duration estimates")
	}
}
