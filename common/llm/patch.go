package llm

import (
	"context"
	"fmt"
	"strings"
)

const proposePatchTool = "propose_patch"

const patchSystemPrompt = `You fix CI build failures. You are given one classified failure from a build log ` +
	`with the surrounding log lines. Call propose_patch with a minimal unified diff ` +
	`(paths relative to the repository root, a/ and b/ prefixes) that fixes it. ` +
	`If the failure cannot be fixed by a code change, call propose_patch with an empty patch ` +
	`and explain why.`

// PatchRequest describes one failure to fix.
type PatchRequest struct {
	Repository   string
	Branch       string
	FailureType  string
	Description  string
	MatchedText  string
	Context      []string
	SuggestedFix string
}

// PatchProposal is the generated fix. Patch is empty when the model declined.
type PatchProposal struct {
	Patch       string
	Explanation string
	TokensUsed  int64
}

type proposePatchArgs struct {
	Patch       string `json:"patch" jsonschema:"description=Unified diff fixing the failure; empty when no code change applies"`
	Explanation string `json:"explanation" jsonschema:"description=One or two sentences on what the patch changes"`
}

// PatchGenerator asks the model for a unified diff per failure.
type PatchGenerator struct {
	client AgentClient
}

func NewPatchGenerator(client AgentClient) *PatchGenerator {
	return &PatchGenerator{client: client}
}

func (g *PatchGenerator) GeneratePatch(ctx context.Context, req PatchRequest) (*PatchProposal, error) {
	resp, err := g.client.ChatWithTools(ctx, AgentRequest{
		Messages: []Message{
			{Role: "system", Content: patchSystemPrompt},
			{Role: "user", Content: renderPatchPrompt(req)},
		},
		Tools: []Tool{{
			Name:        proposePatchTool,
			Description: "Propose a unified diff that fixes the build failure.",
			Parameters:  GenerateSchema[proposePatchArgs](),
		}},
		ForceTool:   proposePatchTool,
		Temperature: Temp(0),
	})
	if err != nil {
		return nil, fmt.Errorf("generating patch: %w", err)
	}

	proposal := &PatchProposal{TokensUsed: resp.TotalTokens()}
	for _, tc := range resp.ToolCalls {
		if tc.Name != proposePatchTool {
			continue
		}
		args, err := ParseToolArguments[proposePatchArgs](tc.Arguments)
		if err != nil {
			return proposal, err
		}
		proposal.Patch = strings.TrimSpace(args.Patch)
		if proposal.Patch != "" {
			proposal.Patch += "\n"
		}
		proposal.Explanation = args.Explanation
		return proposal, nil
	}

	proposal.Explanation = resp.Content
	return proposal, nil
}

func renderPatchPrompt(req PatchRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\nBranch: %s\n", req.Repository, req.Branch)
	fmt.Fprintf(&b, "Failure type: %s (%s)\n", req.FailureType, req.Description)
	fmt.Fprintf(&b, "Matched: %s\n", req.MatchedText)
	if req.SuggestedFix != "" {
		fmt.Fprintf(&b, "Suggested fix: %s\n", req.SuggestedFix)
	}
	if len(req.Context) > 0 {
		b.WriteString("\nLog context:\n")
		for _, line := range req.Context {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
