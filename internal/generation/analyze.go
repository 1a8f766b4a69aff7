package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/llm"
)

// Photo is an uploaded picture to build a creature from.
type Photo struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Ref is the back-reference stored on the creature.
func (p Photo) Ref() *creature.PhotoRef {
	return &creature.PhotoRef{Name: p.Name, MIMEType: p.MIMEType, Size: int64(len(p.Data))}
}

const analysisInstruction = `You design small fantasy creatures called Cory from photos.
Look at the photo and invent one Cory inspired by its colors, mood and objects.
Answer with a single JSON object and nothing else, using exactly this shape:
{
  "name": "a short, cute name",
  "color": {"r": 0-255, "g": 0-255, "b": 0-255, "hex": "#RRGGBB"},
  "personality": {"traits": ["trait1", "trait2", "trait3"], "description": "one sentence"},
  "story": {"summary": "one line background story", "lines": ["line 1", "line 2", "line 3", "line 4", "line 5"]}
}
The color should be the dominant or most characterful color of the photo.
Story lines are things the Cory would say, in its own voice.`

const analysisPrompt = "Create a Cory from this photo."

// Analyzer turns photos into creature attributes using a vision backend.
type Analyzer struct {
	vision llm.Vision
}

func NewAnalyzer(v llm.Vision) *Analyzer {
	return &Analyzer{vision: v}
}

// Analyze returns ErrUnconfigured or an UpstreamError from the backend
// unchanged; a reply that is not usable JSON is an *AnalysisParseError.
func (a *Analyzer) Analyze(ctx context.Context, photo Photo) (creature.Attributes, error) {
	if a.vision == nil {
		return creature.Attributes{}, llm.ErrUnconfigured
	}
	mime := photo.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	raw, err := a.vision.Describe(ctx, analysisInstruction, analysisPrompt, photo.Data, mime)
	if err != nil {
		return creature.Attributes{}, err
	}
	return ParseAttributes(raw)
}

// ParseAttributes extracts the attributes object from a model reply that may
// be wrapped in code fences or prose.
func ParseAttributes(raw string) (creature.Attributes, error) {
	body := StripFences(raw)
	if body == "" {
		return creature.Attributes{}, &AnalysisParseError{Reason: "no JSON object in response", Raw: raw}
	}

	var attrs creature.Attributes
	if err := json.Unmarshal([]byte(body), &attrs); err != nil {
		return creature.Attributes{}, &AnalysisParseError{Reason: fmt.Sprintf("decoding JSON: %v", err), Raw: raw}
	}

	attrs.Name = strings.TrimSpace(attrs.Name)
	switch {
	case attrs.Name == "":
		return creature.Attributes{}, &AnalysisParseError{Reason: "missing name", Raw: raw}
	case attrs.Color == (creature.Color{}):
		return creature.Attributes{}, &AnalysisParseError{Reason: "missing color", Raw: raw}
	case len(attrs.Personality.Traits) == 0:
		return creature.Attributes{}, &AnalysisParseError{Reason: "missing personality traits", Raw: raw}
	case attrs.Story.Summary == "" && len(attrs.Story.Lines) == 0:
		return creature.Attributes{}, &AnalysisParseError{Reason: "missing story", Raw: raw}
	}
	attrs.Color = attrs.Color.Canonical()
	return attrs, nil
}

// StripFences removes markdown code fences and any text outside the outermost
// braces. It returns "" when there is no object.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
