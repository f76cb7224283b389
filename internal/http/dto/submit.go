package dto

// The typed requests below only validate the fields an action cannot run
// without. Handlers submit the full JSON body as the payload, so optional
// fields the router understands pass through untouched.

type CreatePullRequestRequest struct {
	Owner string `json:"owner" binding:"required"`
	Repo  string `json:"repo" binding:"required"`
	Head  string `json:"head" binding:"required"`
	Base  string `json:"base" binding:"required"`
	Title string `json:"title" binding:"required,max=256"`
	Body  string `json:"body"`
	Draft bool   `json:"draft"`
}

type CreateCommentRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Repo   string `json:"repo" binding:"required"`
	Number int    `json:"number" binding:"required,min=1"`
	Body   string `json:"body" binding:"required"`
}

type CreateIssueRequest struct {
	Owner  string   `json:"owner" binding:"required"`
	Repo   string   `json:"repo" binding:"required"`
	Title  string   `json:"title" binding:"required,max=256"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

type JiraCreateRequest struct {
	Project     string `json:"project" binding:"required"`
	Summary     string `json:"summary" binding:"required,max=255"`
	Description string `json:"description"`
	IssueType   string `json:"issue_type"`
}

type JiraUpdateRequest struct {
	Key    string         `json:"key" binding:"required"`
	Fields map[string]any `json:"fields" binding:"required,min=1"`
}

type JiraCommentRequest struct {
	Key  string `json:"key" binding:"required"`
	Body string `json:"body" binding:"required"`
}
