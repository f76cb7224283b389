package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"basegraph.app/warden/core/config"
)

// maxTraceBytes caps how much of each job trace is kept for analysis.
const maxTraceBytes = 256 << 10

// GitLabLogs fetches failed job traces for a pipeline.
type GitLabLogs struct {
	client *gitlab.Client
}

func NewGitLabLogs(cfg config.GitLabConfig) (*GitLabLogs, error) {
	client, err := newGitLabClient(cfg.BaseURL, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &GitLabLogs{client: client}, nil
}

func newGitLabClient(baseURL, token string) (*gitlab.Client, error) {
	if baseURL == "" {
		return gitlab.NewClient(token)
	}
	apiURL := strings.TrimSuffix(baseURL, "/") + "/api/v4"
	return gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
}

// FailedJobTraces returns the concatenated traces of the failed jobs in a
// pipeline, each under a "=== job <name> ===" header, and the job names.
func (g *GitLabLogs) FailedJobTraces(ctx context.Context, projectID, pipelineID int64) (string, []string, error) {
	jobs, _, err := g.client.Jobs.ListPipelineJobs(projectID, pipelineID, &gitlab.ListJobsOptions{
		Scope: &[]gitlab.BuildStateValue{gitlab.Failed},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", nil, fmt.Errorf("listing failed jobs for pipeline %d: %w", pipelineID, err)
	}

	var (
		sb    strings.Builder
		names []string
	)
	for _, job := range jobs {
		names = append(names, job.Name)

		trace, _, err := g.client.Jobs.GetTraceFile(projectID, job.ID, gitlab.WithContext(ctx))
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch gitlab job trace",
				"error", err,
				"project_id", projectID,
				"job_id", job.ID)
			continue
		}
		data, err := io.ReadAll(io.LimitReader(trace, maxTraceBytes))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "=== job %s (%s) ===\n", job.Name, job.Stage)
		sb.Write(data)
		sb.WriteString("\n")
	}

	return sb.String(), names, nil
}
