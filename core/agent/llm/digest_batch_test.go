package llm

import (
	"strings"
	"testing"
)

func TestCleanEmailBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		contains []string
		excludes []string
	}{
		{
			name:     "strips html tags",
			body:     "<div>Please review the <b>attached</b> doc</div>",
			contains: []string{"Please review the attached doc"},
			excludes: []string{"<div>", "<b>"},
		},
		{
			name:     "strips quoted history",
			body:     "Sounds good.\n> original message line one\n> line two",
			contains: []string{"Sounds good."},
			excludes: []string{"original message"},
		},
		{
			name:     "strips reply header",
			body:     "Agreed.\nOn Mon, Jan 5 John wrote: everything below",
			contains: []string{"Agreed."},
			excludes: []string{"wrote:"},
		},
		{
			name:     "strips signature",
			body:     "See you then.\nRegards,\nKim",
			contains: []string{"See you then."},
			excludes: []string{"Kim"},
		},
		{
			name:     "collapses whitespace",
			body:     "line one\n\n\n   line    two",
			contains: []string{"line one line two"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanEmailBody(tt.body)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("CleanEmailBody() = %q, should contain %q", got, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("CleanEmailBody() = %q, should not contain %q", got, bad)
				}
			}
		})
	}
}

func TestTruncateSummary(t *testing.T) {
	long := strings.Repeat("a", 300)

	got := TruncateSummary(long, 200)
	if len(got) != 203 {
		t.Errorf("len = %d, want 203 (200 chars + ellipsis)", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated text should end with ellipsis")
	}

	short := "already short"
	if TruncateSummary(short, 200) != short {
		t.Error("text under the limit must pass through unchanged")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"results":[]}`, `{"results":[]}`},
		{"json fence", "```json\n{\"results\":[]}\n```", `{"results":[]}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCalculateCost(t *testing.T) {
	cost := CalculateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	if cost != 0.75 {
		t.Errorf("cost = %v, want 0.75", cost)
	}

	if CalculateCost("unknown-model", 1000, 1000) != 0 {
		t.Error("unknown model should cost 0")
	}
}
