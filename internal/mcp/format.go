package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/ragcore/internal/jobs"
	"github.com/Aman-CERP/ragcore/internal/search"
)

// maxSnippetRunes bounds passage text in markdown output. Structured output
// always carries the full content.
const maxSnippetRunes = 800

// FormatSearchResults formats a retrieval result as markdown.
func FormatSearchResults(result *search.Result) string {
	if result == nil || len(result.Hits) == 0 {
		query := ""
		if result != nil {
			query = result.Query
		}
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", result.Query)
	fmt.Fprintf(&sb, "Found %d result", len(result.Hits))
	if len(result.Hits) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for _, h := range result.Hits {
		formatHit(&sb, h)
	}
	return sb.String()
}

func formatHit(sb *strings.Builder, h search.Hit) {
	c := h.Chunk
	label := c.Metadata.Title
	if label == "" {
		label = c.DocumentID
	}
	fmt.Fprintf(sb, "### %d. %s [%d/%d] (score: %.2f)\n",
		h.Rank, label, c.SequenceIndex+1, c.TotalChunks, h.Score)

	if c.Metadata.Source != "" {
		fmt.Fprintf(sb, "**Source:** %s\n", c.Metadata.Source)
	}
	fmt.Fprintf(sb, "**Chunk:** `chunk://%s`\n\n", c.ID)
	sb.WriteString(truncateRunes(c.Content, maxSnippetRunes))
	sb.WriteString("\n\n---\n\n")
}

// FormatJob formats a job as markdown.
func FormatJob(job *jobs.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Job %s: %s\n\n", job.ID, job.Status)
	fmt.Fprintf(&sb, "**Query:** %s\n\n", job.Request.Query)

	switch job.Status {
	case jobs.StatusPending, jobs.StatusRunning:
		fmt.Fprintf(&sb, "Poll `%s` with job_id `%s` for the answer.\n", ToolJobStatus, job.ID)
	case jobs.StatusFailed:
		if job.Cancelled {
			sb.WriteString("The job was cancelled before it started.\n")
		} else {
			fmt.Fprintf(&sb, "**Error** (%s): %s\n", job.ErrorCode, job.Error)
		}
	case jobs.StatusCompleted:
		if job.Result != nil && job.Result.Answer != nil {
			sb.WriteString(job.Result.Answer.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ToHitOutput converts a ranked hit to the tool output format.
func ToHitOutput(h search.Hit) HitOutput {
	c := h.Chunk
	return HitOutput{
		Rank:          h.Rank,
		ChunkID:       c.ID,
		DocumentID:    c.DocumentID,
		SequenceIndex: c.SequenceIndex,
		TotalChunks:   c.TotalChunks,
		Title:         c.Metadata.Title,
		Source:        c.Metadata.Source,
		Categories:    c.Metadata.Categories,
		Content:       c.Content,
		Score:         h.Score,
		LexicalScore:  h.LexicalScore,
		VectorScore:   h.VectorScore,
		MatchReason:   matchReason(h),
	}
}

// ToJobOutput converts a job to the tool output format.
func ToJobOutput(job *jobs.Job) JobOutput {
	out := JobOutput{
		JobID:     job.ID,
		Status:    string(job.Status),
		Query:     job.Request.Query,
		Error:     job.Error,
		ErrorCode: job.ErrorCode,
		Cancelled: job.Cancelled,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
	if job.Result == nil || job.Result.Answer == nil {
		return out
	}
	a := job.Result.Answer
	out.Answer = a.Text
	out.Model = a.Model
	out.Sources = make([]SourceOutput, 0, len(a.Sources))
	for _, s := range a.Sources {
		out.Sources = append(out.Sources, SourceOutput{
			Rank:       s.Rank,
			ChunkID:    s.ChunkID,
			DocumentID: s.DocumentID,
			Title:      s.Title,
			Score:      s.Score,
		})
	}
	return out
}

// matchReason names the retrieval signal that placed a hit.
func matchReason(h search.Hit) string {
	switch {
	case h.LexicalScore > 0 && h.VectorScore > 0:
		return "matched query terms and meaning"
	case h.LexicalScore > 0:
		return "matched query terms"
	case h.VectorScore > 0:
		return "semantically similar"
	default:
		return ""
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// clampTopK applies the default and the upper bound to a requested top_k.
func clampTopK(topK, defaultVal, maxVal int) int {
	if topK <= 0 {
		return defaultVal
	}
	return min(topK, maxVal)
}
