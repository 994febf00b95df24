package protocol

import (
	"errors"
	"testing"
)

func TestParseTranscriptShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"result list", `{"result":["привет","мир"]}`, "привет мир"},
		{"results list", `{"results":["hello"]}`, "hello"},
		{"results alternatives", `{"results":[{"alternatives":[{"transcript":"hi"}]}]}`, "hi"},
		{"alternatives", `{"alternatives":[{"transcript":"bonjour"},{"transcript":"other"}]}`, "bonjour"},
		{"text", `{"text":"hello"}`, "hello"},
		{"hypotheses", `{"hypotheses":[{"utterance":"hey there"}]}`, "hey there"},
		{"empty object", `{}`, ""},
		{"not json", `garbage`, ""},
		{"array root", `["x"]`, ""},
		{"wrong types", `{"result":42,"text":{"a":1}}`, ""},
		{"empty result falls through", `{"result":[],"text":"fallback"}`, "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseTranscript([]byte(tc.raw)); got != tc.want {
				t.Fatalf("ParseTranscript(%s) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseTranscriptPriority(t *testing.T) {
	raw := []byte(`{"text":"second","result":["first"]}`)
	if got := ParseTranscript(raw); got != "first" {
		t.Fatalf("ParseTranscript() = %q, want %q", got, "first")
	}
}

func TestSynthesizeRequestValidate(t *testing.T) {
	if err := (SynthesizeRequest{Token: "t"}).Validate(); !errors.Is(err, ErrMissingText) {
		t.Fatalf("Validate() error = %v, want ErrMissingText", err)
	}
	if err := (SynthesizeRequest{Text: "hi", Token: "  "}).Validate(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Validate() error = %v, want ErrMissingToken", err)
	}
	if err := (SynthesizeRequest{Text: "hi", Token: "t"}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestPCMContentType(t *testing.T) {
	if got := PCMContentType(16000); got != "audio/x-pcm;bit=16;rate=16000" {
		t.Fatalf("PCMContentType(16000) = %q", got)
	}
}

func BenchmarkParseTranscriptNested(b *testing.B) {
	raw := []byte(`{"results":[{"alternatives":[{"transcript":"hello world","confidence":0.93}]}]}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if got := ParseTranscript(raw); got != "hello world" {
			b.Fatalf("ParseTranscript() = %q", got)
		}
	}
}
