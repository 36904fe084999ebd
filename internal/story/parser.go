package story

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonBlockRe = regexp.MustCompile(`(?s)(\[.*\]|\{.*\})`)

// ParsePrompts extracts a list of scene prompts from a model response.
// Models mostly honor the "JSON array only" instruction, but not always, so
// parsing degrades through several tiers:
//
//  1. the whole response as JSON,
//  2. the first JSON array/object embedded in surrounding prose,
//  3. "Prompt N:" / "Story N:" / "Scene N:" line blocks,
//  4. plain paragraphs as a last resort.
func ParsePrompts(text string) ([]string, error) {
	if prompts, ok := parseJSONPrompts(text); ok {
		return prompts, nil
	}

	if m := jsonBlockRe.FindString(text); m != "" {
		if prompts, ok := parseJSONPrompts(m); ok {
			return prompts, nil
		}
	}

	if prompts := parseLabeledLines(text); len(prompts) > 0 {
		return prompts, nil
	}

	if prompts := parseParagraphs(text); len(prompts) > 0 {
		return prompts, nil
	}

	return nil, fmt.Errorf("story: could not parse prompts from response")
}

// parseJSONPrompts accepts the JSON shapes models actually produce: a plain
// string array, an array of {"prompt": ...} objects, or an object with a
// "prompts" field holding either.
func parseJSONPrompts(text string) ([]string, bool) {
	text = strings.TrimSpace(text)

	var plain []string
	if err := json.Unmarshal([]byte(text), &plain); err == nil {
		return nonEmpty(plain), len(nonEmpty(plain)) > 0
	}

	var objs []struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(text), &objs); err == nil {
		out := make([]string, 0, len(objs))
		for _, o := range objs {
			if strings.TrimSpace(o.Prompt) != "" {
				out = append(out, strings.TrimSpace(o.Prompt))
			}
		}
		return out, len(out) > 0
	}

	var wrapper struct {
		Prompts json.RawMessage `json:"prompts"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil && len(wrapper.Prompts) > 0 {
		return parseJSONPrompts(string(wrapper.Prompts))
	}

	return nil, false
}

func parseLabeledLines(text string) []string {
	var prompts []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			prompts = append(prompts, s)
		}
		current.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Prompt") || strings.HasPrefix(line, "Story") || strings.HasPrefix(line, "Scene") {
			flush()
			// Drop the label up to the first colon, keep the rest.
			if i := strings.Index(line, ":"); i >= 0 {
				line = strings.TrimSpace(line[i+1:])
			}
			current.WriteString(line)
		} else if current.Len() > 0 {
			current.WriteString(" ")
			current.WriteString(line)
		}
	}
	flush()

	return prompts
}

func parseParagraphs(text string) []string {
	var prompts []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if len(p) > 20 {
			prompts = append(prompts, p)
		}
	}
	return prompts
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
