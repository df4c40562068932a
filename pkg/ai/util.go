package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema reflects a JSON schema for out's type, in the shape the
// structured-output APIs expect: inlined definitions and no additional
// properties.
func GenerateSchema(out any) any {
	t := reflect.TypeOf(out)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(reflect.New(t).Interface())
}

// UnmarshalFlexible parses model output that is supposed to be JSON but
// often is not quite. It accepts clean JSON, JSON double-encoded as a
// string, fenced markdown blocks, and anything jsonrepair can patch up, in
// that order.
func UnmarshalFlexible(input string, out any) error {
	input = stripCodeFence(strings.TrimSpace(input))
	if tryUnmarshal(input, out) {
		return nil
	}

	// Models sometimes return the object serialized a second time inside a
	// JSON string.
	var inner string
	if json.Unmarshal([]byte(input), &inner) == nil {
		inner = stripCodeFence(strings.TrimSpace(inner))
		if tryUnmarshal(inner, out) {
			return nil
		}
		input = inner
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}
	if tryUnmarshal(repaired, out) {
		return nil
	}
	return fmt.Errorf("unmarshal failed after repair: input=%s repaired=%s", input, repaired)
}

func tryUnmarshal(s string, out any) bool {
	return json.Unmarshal([]byte(s), out) == nil
}

// stripCodeFence removes a surrounding markdown code fence, with or without
// a language tag, leaving other input untouched.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(body[:idx])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}[]\"") {
			body = body[idx+1:]
		}
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

// stripDuplicateLeadingBrace drops one brace from a "{{" start, a common
// failure mode when a model opens the requested object twice.
func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "{")
	if !ok {
		return s
	}
	if rest = strings.TrimSpace(rest); strings.HasPrefix(rest, "{") {
		return rest
	}
	return s
}
