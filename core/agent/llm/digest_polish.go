package llm

import (
	"context"
	"fmt"
	"strings"
)

// PolishDraft refines a deterministic reply draft without letting the model
// invent content. The draft's facts are the ceiling: no new names, dates,
// commitments, or attachments may appear. Callers fall back to the original
// draft when this errors.
func (c *Client) PolishDraft(ctx context.Context, subject, draft string) (string, error) {
	if strings.TrimSpace(draft) == "" {
		return "", fmt.Errorf("empty draft")
	}

	system := `You polish email reply drafts. Improve flow and tone only.
Rules:
- Do not add information, commitments, dates, or names that are not in the draft.
- Do not remove any question answered or action confirmed by the draft.
- Keep roughly the same length.
- Output only the reply body.`

	user := fmt.Sprintf("Subject: %s\n\nDraft:\n%s", subject, draft)

	polished, err := c.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return "", err
	}

	polished = strings.TrimSpace(polished)
	if polished == "" {
		return "", fmt.Errorf("empty polish result")
	}
	return polished, nil
}
