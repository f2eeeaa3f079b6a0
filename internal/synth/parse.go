package synth

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// articleSchema is the contract the model output must satisfy before it is
// rendered. Validation happens locally; the backend is not asked for
// structured output because the DeepSeek endpoint does not support it.
const articleSchema = `{
	"type": "object",
	"required": ["title", "sections"],
	"properties": {
		"title": {"type": "string"},
		"intro": {"type": "string"},
		"sections": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["heading"],
				"properties": {
					"heading": {"type": "string"},
					"content": {
						"anyOf": [
							{"type": "string"},
							{"type": "array", "items": {"type": "string"}}
						]
					}
				}
			}
		},
		"bullets": {"type": "array", "items": {"type": "string"}},
		"closing": {"type": "string"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("article.json", articleSchema)

var fenceOpen = regexp.MustCompile("^```[a-zA-Z]*\\s*")

// paragraphs accepts either a single string or a string array, because the
// model alternates between the two shapes.
type paragraphs []string

func (p *paragraphs) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*p = nil
			return nil
		}
		*p = paragraphs{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("section content must be string or string array: %w", err)
	}
	*p = paragraphs(many)
	return nil
}

type articleSection struct {
	Heading string     `json:"heading"`
	Content paragraphs `json:"content"`
}

type articlePayload struct {
	Title    string           `json:"title"`
	Intro    string           `json:"intro"`
	Sections []articleSection `json:"sections"`
	Bullets  []string         `json:"bullets"`
	Closing  string           `json:"closing"`
}

// normalizeJSON recovers a JSON object from raw model output, tolerating
// markdown code fences and surrounding commentary.
func normalizeJSON(content string) (string, error) {
	cleaned := strings.TrimSpace(content)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = fenceOpen.ReplaceAllString(cleaned, "")
		if idx := strings.Index(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	if !strings.HasPrefix(cleaned, "{") {
		return "", fmt.Errorf("no JSON object found in model output")
	}
	return cleaned, nil
}

// parseArticle normalizes, validates, and decodes model output.
func parseArticle(content string) (articlePayload, error) {
	normalized, err := normalizeJSON(content)
	if err != nil {
		return articlePayload{}, err
	}

	var doc any
	if err := json.Unmarshal([]byte(normalized), &doc); err != nil {
		return articlePayload{}, fmt.Errorf("decode model output: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return articlePayload{}, fmt.Errorf("model output does not match article schema: %w", err)
	}

	var payload articlePayload
	if err := json.Unmarshal([]byte(normalized), &payload); err != nil {
		return articlePayload{}, fmt.Errorf("decode article payload: %w", err)
	}
	return payload, nil
}
