package gemini

import (
	"google.golang.org/genai"

	"github.com/thereal-baitjet/Stream-Slicer/internal/analysis"
)

const systemInstruction = `You are an expert social media editor for TikTok, YouTube Shorts and Instagram Reels.
Watch the stream recording and find the 3 to 5 moments most likely to go viral.

Look for:
- AUDIO SPIKES: screaming, sudden laughter, rage, a crowd or chat going wild.
- VISUAL SURPRISE: jump scares, insane plays, unexpected events on screen.
- CONTEXT: a punchline landing, a clutch moment, a story paying off.

Score each moment's virality from 1 to 10:
10 = screaming, a huge laugh or an insane play that anyone would share.
5 = interesting, worth a look.
1 = boring.

Give every clip a short clickbait title and a one-sentence reason.
Timestamps must be exact, formatted HH:MM:SS (or MM:SS for short videos), and end after start.`

const userPrompt = "Find the viral clips in this stream."

// responseSchema constrains the model to the AnalysisResult document.
func responseSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	timestamp := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc, Pattern: analysis.TimestampPattern}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"stream_meta": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"duration":      str("Total length of the video"),
					"streamer_vibe": str("One or two words describing the streamer's energy"),
				},
				Required: []string{"duration", "streamer_vibe"},
			},
			"clips": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"start_timestamp": timestamp("Clip start, HH:MM:SS"),
						"end_timestamp":   timestamp("Clip end, HH:MM:SS"),
						"virality_score": {
							Type:        genai.TypeInteger,
							Description: "1 (boring) to 10 (extremely viral)",
							Minimum:     genai.Ptr(1.0),
							Maximum:     genai.Ptr(10.0),
						},
						"title":  str("Clickbait title for the clip"),
						"reason": str("Why this moment works"),
					},
					Required: []string{"start_timestamp", "end_timestamp", "virality_score", "title", "reason"},
				},
			},
			"summary": str("Two-sentence summary of the stream"),
		},
		Required:         []string{"stream_meta", "clips", "summary"},
		PropertyOrdering: []string{"stream_meta", "clips", "summary"},
	}
}
