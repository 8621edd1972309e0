package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jdkato/prose/v2"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
)

// DefaultGazetteer types well known names the rule extractor cannot infer from shape.
var DefaultGazetteer = map[string]model.EntityType{
	"openai":        model.EntityTypeOrganization,
	"microsoft":     model.EntityTypeOrganization,
	"google":        model.EntityTypeOrganization,
	"apple":         model.EntityTypeOrganization,
	"amazon":        model.EntityTypeOrganization,
	"anthropic":     model.EntityTypeOrganization,
	"nvidia":        model.EntityTypeOrganization,
	"tesla":         model.EntityTypeOrganization,
	"reuters":       model.EntityTypeOrganization,
	"san francisco": model.EntityTypeLocation,
	"new york":      model.EntityTypeLocation,
	"london":        model.EntityTypeLocation,
	"berlin":        model.EntityTypeLocation,
	"paris":         model.EntityTypeLocation,
	"seattle":       model.EntityTypeLocation,
	"redmond":       model.EntityTypeLocation,
	"california":    model.EntityTypeLocation,
	"germany":       model.EntityTypeLocation,
}

var (
	capitalizedRun = regexp.MustCompile(`\p{Lu}[\p{L}\p{N}&'’\-]*(?:[ \t]+\p{Lu}[\p{L}\p{N}&'’\-]*)*`)

	leadingStopwords = mapset.NewSet(
		"the", "a", "an", "it", "its", "he", "she", "they", "we", "i", "this", "that", "these", "those",
		"in", "on", "at", "by", "for", "from", "with", "after", "before", "when", "while", "but", "and",
		"his", "her", "their", "our", "my", "as", "if", "then", "there", "what", "who", "which", "how",
		"why", "where", "yesterday", "today", "monday", "tuesday", "wednesday", "thursday", "friday",
		"saturday", "sunday", "january", "february", "march", "april", "may", "june", "july", "august",
		"september", "october", "november", "december",
	)
	organizationSuffixes = mapset.NewSet(
		"inc", "inc.", "corp", "corp.", "corporation", "ltd", "ltd.", "llc", "gmbh", "ag", "labs", "lab",
		"university", "institute", "company", "foundation", "group", "ai", "technologies", "systems",
	)
	locationPrepositions = mapset.NewSet("in", "at", "near", "from", "to")
)

// RuleExtractor is a dependency free NER backend based on capitalization,
// shape and a gazetteer.
type RuleExtractor struct {
	Gazetteer map[string]model.EntityType
}

// NewRuleExtractor creates a rule based extractor. A nil gazetteer uses DefaultGazetteer.
func NewRuleExtractor(gazetteer map[string]model.EntityType) *RuleExtractor {
	if gazetteer == nil {
		gazetteer = DefaultGazetteer
	}
	return &RuleExtractor{Gazetteer: gazetteer}
}

// Extract returns one mention per capitalized run that is not a sentence-initial function word.
func (e *RuleExtractor) Extract(ctx context.Context, text string) ([]*model.Mention, error) {
	var mentions []*model.Mention
	for _, loc := range capitalizedRun.FindAllStringIndex(text, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end := loc[0], loc[1]

		// Drop leading function words such as "The" or "In".
		for {
			word, rest := firstWord(text[start:end])
			if !leadingStopwords.Contains(strings.ToLower(word)) {
				break
			}
			if rest == "" {
				start = end
				break
			}
			start = end - len(rest)
		}
		if start >= end {
			continue
		}

		for end > start && (text[end-1] == '\'' || text[end-1] == '-') {
			end--
		}
		surface := text[start:end]
		if surface == "" {
			continue
		}

		entityType, score := e.classify(text, start, surface)
		mentions = append(mentions, &model.Mention{
			SurfaceText: surface,
			EntityType:  entityType,
			Kind:        model.MentionKindName,
			ByteStart:   start,
			ByteEnd:     end,
			Score:       score,
		})
	}
	return mentions, nil
}

func (e *RuleExtractor) classify(text string, start int, surface string) (model.EntityType, float64) {
	lower := strings.ToLower(surface)
	if t, ok := e.Gazetteer[lower]; ok {
		return t, 0.9
	}

	words := strings.Fields(surface)
	last := strings.ToLower(words[len(words)-1])
	switch {
	case strings.IndexFunc(surface, unicode.IsDigit) >= 0:
		return model.EntityTypeProduct, 0.75
	case organizationSuffixes.Contains(last):
		return model.EntityTypeOrganization, 0.8
	case locationPrepositions.Contains(strings.ToLower(previousWord(text, start))):
		return model.EntityTypeLocation, 0.7
	case len(words) == 1 && upperCount(surface) >= 2:
		return model.EntityTypeOrganization, 0.75
	case len(words) >= 2 && len(words) <= 3:
		return model.EntityTypePerson, 0.7
	}
	return model.EntityTypeMisc, 0.5
}

func firstWord(s string) (string, string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t")
}

func previousWord(text string, start int) string {
	fields := strings.Fields(text[:start])
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func upperCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsUpper(r) {
			n++
		}
	}
	return n
}

// HugotExtractor creates an entity extractor using a NER model, by default
// KnightsAnalytics/distilbert-NER. It detects PER, ORG, LOC and MISC.
func HugotExtractor(modelName string) (EntityExtractFunc, error) {
	if modelName == "" {
		modelName = "KnightsAnalytics/distilbert-NER"
	}
	modelPath, err := helper.PrepareModel(modelName, "model.onnx")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "ner-pipeline",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return func(ctx context.Context, text string) ([]*model.Mention, error) {
		result, err := nerPipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to run NER: %w", err)
		}
		if len(result.Entities) == 0 {
			return nil, nil
		}

		var mentions []*model.Mention
		cursor := 0
		for _, entity := range result.Entities[0] {
			surface := strings.TrimSpace(entity.Word)
			start, end := locate(text, surface, int(entity.Start), cursor)
			if start < 0 {
				continue
			}
			cursor = end
			mentions = append(mentions, &model.Mention{
				SurfaceText: text[start:end],
				EntityType:  entityTypeFromLabel(entity.Entity),
				Kind:        model.MentionKindName,
				ByteStart:   start,
				ByteEnd:     end,
				Score:       float64(entity.Score),
			})
		}
		return mentions, nil
	}, nil
}

// ProseExtractor uses the prose averaged perceptron NER model.
func ProseExtractor() EntityExtractFunc {
	return func(ctx context.Context, text string) ([]*model.Mention, error) {
		doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
		if err != nil {
			return nil, fmt.Errorf("failed to run prose: %w", err)
		}

		var mentions []*model.Mention
		cursor := 0
		for _, entity := range doc.Entities() {
			start, end := locate(text, entity.Text, -1, cursor)
			if start < 0 {
				continue
			}
			cursor = end
			mentions = append(mentions, &model.Mention{
				SurfaceText: entity.Text,
				EntityType:  entityTypeFromLabel(entity.Label),
				Kind:        model.MentionKindName,
				ByteStart:   start,
				ByteEnd:     end,
				Score:       0.8,
			})
		}
		return mentions, nil
	}
}

// locate finds surface in text, trusting hint when it points at the surface.
func locate(text, surface string, hint, cursor int) (int, int) {
	if surface == "" {
		return -1, -1
	}
	if hint >= 0 && hint+len(surface) <= len(text) && text[hint:hint+len(surface)] == surface {
		return hint, hint + len(surface)
	}
	if cursor > len(text) {
		return -1, -1
	}
	i := strings.Index(text[cursor:], surface)
	if i < 0 {
		return -1, -1
	}
	return cursor + i, cursor + i + len(surface)
}

// entityTypeFromLabel maps NER labels with or without BIO prefixes to entity types.
func entityTypeFromLabel(label string) model.EntityType {
	label = strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")
	switch strings.ToUpper(label) {
	case "PER", "PERSON":
		return model.EntityTypePerson
	case "ORG", "ORGANIZATION":
		return model.EntityTypeOrganization
	case "LOC", "GPE", "LOCATION":
		return model.EntityTypeLocation
	case "PRODUCT":
		return model.EntityTypeProduct
	case "WORK_OF_ART", "WORK":
		return model.EntityTypeWork
	}
	return model.EntityTypeMisc
}
