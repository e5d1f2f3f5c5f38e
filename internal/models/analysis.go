package models

import (
	"fmt"
	"strconv"
	"strings"
)

// AnalysisResult is the structured output of one analysis. Field names match
// the JSON document the model is constrained to produce.
type AnalysisResult struct {
	StreamMeta StreamMeta `json:"stream_meta"`
	Clips      []Clip     `json:"clips"`
	Summary    string     `json:"summary"`
}

type StreamMeta struct {
	Duration     string `json:"duration"`
	StreamerVibe string `json:"streamer_vibe"`
}

// Clip is a candidate viral moment. Timestamps are "HH:MM:SS" or "MM:SS".
type Clip struct {
	StartTimestamp string `json:"start_timestamp"`
	EndTimestamp   string `json:"end_timestamp"`
	ViralityScore  int    `json:"virality_score"`
	Title          string `json:"title"`
	Reason         string `json:"reason"`
}

// StartSeconds returns the clip start offset in seconds.
func (c Clip) StartSeconds() (int, error) { return ParseTimestamp(c.StartTimestamp) }

// EndSeconds returns the clip end offset in seconds.
func (c Clip) EndSeconds() (int, error) { return ParseTimestamp(c.EndTimestamp) }

// ParseTimestamp converts "HH:MM:SS" or "MM:SS" into seconds.
func ParseTimestamp(ts string) (int, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("models: timestamp %q: want HH:MM:SS or MM:SS", ts)
	}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("models: timestamp %q: bad component %q", ts, p)
		}
		// minutes and seconds fields are bounded; the leading field is not
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("models: timestamp %q: component %q out of range", ts, p)
		}
		total = total*60 + n
	}
	return total, nil
}
