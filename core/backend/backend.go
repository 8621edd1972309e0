// Package backend holds the capability interfaces of the pluggable model
// backends, a registry resolving configured names to implementations and the
// rule table routing generation requests between them.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// Generation tasks used for routing.
const (
	TaskAnswer = "answer"
	TaskClaims = "claims"
)

// GenerateOptions holds the settings of one generation request.
type GenerateOptions struct {
	Model         string
	Task          string
	SystemPrompts []string
	Temperature   float64
	// Schema asks the backend for JSON output matching a reflected JSON schema.
	Schema     any
	SchemaName string
}

// GenerateOption configures a generation request.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the configured model.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithTask names the task the request serves.
func WithTask(task string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Task = task
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temperature
	}
}

// WithJSONSchema requests structured output shaped like value.
func WithJSONSchema(name string, value any) GenerateOption {
	return func(o *GenerateOptions) {
		o.SchemaName = name
		o.Schema = GenerateSchema(value)
	}
}

// ApplyOptions folds opts over the defaults.
func ApplyOptions(defaults GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, o := range opts {
		o(&defaults)
	}
	return defaults
}

// Generator is the LLM backend: generate(prompt) -> text.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
}

// GenerateFunc adapts a function to Generator.
type GenerateFunc func(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

func (f GenerateFunc) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return f(ctx, prompt, opts...)
}

// GenerateSchema reflects a JSON schema from the type of value.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflector.Reflect(reflect.New(t).Interface())
}

// UnmarshalFlexible parses model output into out. It accepts plain JSON,
// JSON wrapped in a string or a markdown fence, and repairs malformed JSON as a
// last resort.
func UnmarshalFlexible(input string, out any) error {
	input = stripFence(strings.TrimSpace(input))

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w", err)
	}
	return nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
