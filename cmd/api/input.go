package main

import (
	"bytes"
	"encoding/json"
	"strings"
)

// inputKind tags how a request body was understood.
type inputKind int

const (
	inputObject   inputKind = iota // {"question": "..."}
	inputEnvelope                  // {"input": ...}
	inputString                    // "..."
	inputOther                     // anything else, stringified
)

// question is the resolved request input.
type question struct {
	Kind inputKind
	Text string
}

// parseInput accepts {"input": X}, {"question": "..."}, a bare JSON string or
// any other JSON value, which is used in its compact text form.
func parseInput(body []byte) question {
	body = bytes.TrimSpace(body)
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return question{Kind: inputOther, Text: strings.TrimSpace(string(body))}
	}
	return resolve(raw, 0)
}

func resolve(v any, depth int) question {
	switch t := v.(type) {
	case string:
		return question{Kind: inputString, Text: t}
	case map[string]any:
		if inner, ok := t["input"]; ok && depth < 2 {
			q := resolve(inner, depth+1)
			q.Kind = inputEnvelope
			return q
		}
		if s, ok := t["question"].(string); ok {
			return question{Kind: inputObject, Text: s}
		}
	case nil:
		return question{Kind: inputOther}
	}
	out, _ := json.Marshal(v)
	return question{Kind: inputOther, Text: string(out)}
}
