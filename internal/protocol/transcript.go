package protocol

import (
	"encoding/json"
	"strings"
)

// ParseTranscript extracts a flat transcript from a recognition response.
// Known shapes are tried in a fixed order; anything unrecognized yields "".
func ParseTranscript(raw []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	for _, shape := range transcriptShapes {
		if text, ok := shape(fields); ok {
			return text
		}
	}
	return ""
}

type transcriptShape func(fields map[string]json.RawMessage) (string, bool)

var transcriptShapes = []transcriptShape{
	stringList("result"),
	stringList("results"),
	firstResultAlternative,
	firstAlternative("alternatives"),
	plainString("text"),
	firstHypothesis,
}

func stringList(key string) transcriptShape {
	return func(fields map[string]json.RawMessage) (string, bool) {
		var items []string
		if !decodeField(fields, key, &items) {
			return "", false
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(item); s != "" {
				parts = append(parts, s)
			}
		}
		return nonEmpty(strings.Join(parts, " "))
	}
}

type alternative struct {
	Transcript string `json:"transcript"`
}

func firstAlternative(key string) transcriptShape {
	return func(fields map[string]json.RawMessage) (string, bool) {
		var alts []alternative
		if !decodeField(fields, key, &alts) || len(alts) == 0 {
			return "", false
		}
		return nonEmpty(alts[0].Transcript)
	}
}

func firstResultAlternative(fields map[string]json.RawMessage) (string, bool) {
	var results []struct {
		Alternatives []alternative `json:"alternatives"`
	}
	if !decodeField(fields, "results", &results) || len(results) == 0 || len(results[0].Alternatives) == 0 {
		return "", false
	}
	return nonEmpty(results[0].Alternatives[0].Transcript)
}

func plainString(key string) transcriptShape {
	return func(fields map[string]json.RawMessage) (string, bool) {
		var s string
		if !decodeField(fields, key, &s) {
			return "", false
		}
		return nonEmpty(s)
	}
}

func firstHypothesis(fields map[string]json.RawMessage) (string, bool) {
	var hyps []struct {
		Utterance string `json:"utterance"`
	}
	if !decodeField(fields, "hypotheses", &hyps) || len(hyps) == 0 {
		return "", false
	}
	return nonEmpty(hyps[0].Utterance)
}

func decodeField(fields map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := fields[key]
	if !ok || len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}
