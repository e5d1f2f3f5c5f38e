package analysis

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

//go:embed schema/clips.v1.json
var clipsSchema string

// TimestampPattern is the clip timestamp format, [H]H:MM:SS or M:SS. The
// embedded schema and the schema sent to the model both use it.
const TimestampPattern = `^[0-9]+(:[0-5][0-9]){1,2}$`

// ErrValidation marks model output that does not match the result schema.
var ErrValidation = errors.New("result validation failed")

// ResultValidator checks raw model output against the result schema before
// it is decoded.
type ResultValidator struct {
	schema *jsonschema.Schema
}

func NewResultValidator() (*ResultValidator, error) {
	s, err := jsonschema.CompileString("https://streamslicer.dev/schemas/clips.v1.json", clipsSchema)
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	return &ResultValidator{schema: s}, nil
}

// Parse validates text and decodes it into a result.
func (v *ResultValidator) Parse(text string) (*models.AnalysisResult, error) {
	text = stripFence(text)
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var res models.AnalysisResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if res.Clips == nil {
		res.Clips = []models.Clip{}
	}
	return &res, nil
}

// stripFence drops a ```json ... ``` wrapper some model versions add despite
// the JSON response type.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
