package mcp

import (
	"fmt"
	"strings"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/pkg/searcher"
)

const maxReasonTags = 5

// ToFrameOutput converts a scored frame to its tool representation.
func ToFrameOutput(f *frame.Frame) FrameOutput {
	if f == nil {
		return FrameOutput{}
	}
	out := FrameOutput{
		Key:       f.Key,
		Score:     f.FinalScore,
		Selected:  f.Selected,
		FramePath: f.Keyframe.FramePath,
		VideoPath: f.Keyframe.VideoPath,
		Timestamp: f.Keyframe.Timestamp,
		Tags:      f.Tags,
	}
	if len(f.Score.Details) > 0 {
		out.Modalities = make(map[string]float64, len(f.Score.Details))
		for m, c := range f.Score.Details {
			out.Modalities[m.String()] = c.Score
		}
	}
	out.MatchReason = matchReason(f)
	return out
}

// ToSearchOutput converts a result page.
func ToSearchOutput(res *searcher.SearchResult) SearchOutput {
	if res == nil {
		return SearchOutput{Frames: []FrameOutput{}}
	}
	out := SearchOutput{
		Frames:  make([]FrameOutput, 0, len(res.Frames)),
		Total:   res.Total,
		Page:    res.Page,
		PerPage: res.PerPage,
		HasMore: res.HasMore,
	}
	for _, f := range res.Frames {
		if f != nil {
			out.Frames = append(out.Frames, ToFrameOutput(f))
		}
	}
	return out
}

// matchReason explains which modalities ranked the frame, e.g.
// "text #1 (0.812), tag #4 (0.500); tags: beach, sunset".
func matchReason(f *frame.Frame) string {
	var parts []string
	for _, m := range frame.Modalities() {
		c, ok := f.Score.Details[m]
		if !ok {
			continue
		}
		if c.Rank > 0 {
			parts = append(parts, fmt.Sprintf("%s #%d (%.3f)", m, c.Rank, c.Score))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%.3f)", m, c.Score))
		}
	}
	reason := strings.Join(parts, ", ")
	if len(f.Tags) > 0 {
		tags := f.Tags
		if len(tags) > maxReasonTags {
			tags = tags[:maxReasonTags]
		}
		if reason != "" {
			reason += "; "
		}
		reason += "tags: " + strings.Join(tags, ", ")
	}
	return reason
}

// FormatSearchResults formats a result page as markdown.
func FormatSearchResults(description string, res *searcher.SearchResult) string {
	if res == nil || len(res.Frames) == 0 {
		return fmt.Sprintf("No keyframes found for %s", description)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Keyframes for %s\n\n", description)
	fmt.Fprintf(&sb, "Page %d, %d of %d candidates", res.Page, len(res.Frames), res.Total)
	if res.HasMore {
		sb.WriteString(", more available")
	}
	sb.WriteString("\n\n")

	offset := (res.Page - 1) * res.PerPage
	for i, f := range res.Frames {
		formatFrame(&sb, offset+i+1, f)
	}
	return sb.String()
}

// FormatSelection formats a user's selection as markdown.
func FormatSelection(user string, frames []*frame.Frame) string {
	if len(frames) == 0 {
		return fmt.Sprintf("No frames selected for %s", user)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Selection of %s (%d)\n\n", user, len(frames))
	for i, f := range frames {
		formatFrame(&sb, i+1, f)
	}
	return sb.String()
}

func formatFrame(sb *strings.Builder, n int, f *frame.Frame) {
	mark := ""
	if f.Selected {
		mark = " ★"
	}
	fmt.Fprintf(sb, "%d. **%s**%s score %.4f\n", n, f.Key, mark, f.FinalScore)
	fmt.Fprintf(sb, "   - frame: `%s`\n", f.Keyframe.FramePath)
	if f.Keyframe.VideoPath != "" {
		fmt.Fprintf(sb, "   - video: `%s` at %.2fs\n", f.Keyframe.VideoPath, f.Keyframe.Timestamp)
	}
	if reason := matchReason(f); reason != "" {
		fmt.Fprintf(sb, "   - matched: %s\n", reason)
	}
}
