package tools

import (
	"encoding/json"
)

// OutputVersion identifies the tool-output shape below. Outputs carrying a
// different version are treated as having no results.
const OutputVersion = "answer/v1"

// Output is what every research tool returns to the model:
// {answer: {results: [{content: [{text}], source: {url, title}}]}}.
type Output struct {
	Version      string `json:"version"`
	SearchParams any    `json:"searchParams,omitempty"`
	Answer       Answer `json:"answer"`
}

type Answer struct {
	Results []Result `json:"results"`
}

type Result struct {
	Content []Content `json:"content"`
	Source  Source    `json:"source"`
}

type Content struct {
	Text string `json:"text"`
}

type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func newOutput(params any, results []Result) Output {
	if results == nil {
		results = []Result{}
	}
	return Output{
		Version:      OutputVersion,
		SearchParams: params,
		Answer:       Answer{Results: results},
	}
}

// ParseOutput decodes a tool result. ok is false when the payload does not
// have the expected shape; callers treat that as "no results".
func ParseOutput(raw json.RawMessage) (Output, bool) {
	if len(raw) == 0 {
		return Output{}, false
	}

	var out Output
	if err := json.Unmarshal(raw, &out); err == nil && out.Version == OutputVersion {
		return out, true
	}

	// Some tool runtimes wrap non-map results as {"result": ...}.
	var wrapped struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Result) > 0 {
		out = Output{}
		if err := json.Unmarshal(wrapped.Result, &out); err == nil && out.Version == OutputVersion {
			return out, true
		}
	}

	return Output{}, false
}
