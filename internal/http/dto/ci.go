package dto

import (
	"basegraph.app/warden/internal/model"
)

type AnalyzeRequest struct {
	Log        string `json:"log" binding:"required"`
	BuildID    string `json:"build_id"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
	Provider   string `json:"provider"`
	URL        string `json:"url" binding:"omitempty,url"`
}

func (r AnalyzeRequest) BuildInfo() model.BuildInfo {
	provider := r.Provider
	if provider == "" {
		provider = "api"
	}
	return model.BuildInfo{
		BuildID:    r.BuildID,
		Repository: r.Repository,
		Branch:     r.Branch,
		Commit:     r.Commit,
		Provider:   provider,
		URL:        r.URL,
	}
}
