package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/common"
)

// DedupeBatchSize caps how many entities a single dedupe request may carry.
// Larger sets overwhelm structured output and must be split by the caller.
const DedupeBatchSize = 300

// DuplicateGroup names one cluster of entities the model judged to be the
// same thing, plus the name the cluster should collapse to.
type DuplicateGroup struct {
	Name     string   `json:"canonicalName" jsonschema_description:"Name the whole group collapses to."`
	Entities []string `json:"entities" jsonschema_description:"Names of the entities that are the same thing."`
}

// DuplicatesResponse is the structured reply of a dedupe call.
type DuplicatesResponse struct {
	Duplicates []DuplicateGroup `json:"duplicates" jsonschema_description:"Every duplicate group found in the roster."`
}

// CallDedupeAI asks the model which of the given entities are duplicates
// of one another. Entities with blank names or types are ignored; fewer
// than two usable entities short-circuit to an empty response without a
// model call.
func CallDedupeAI(
	ctx context.Context,
	entities []common.Entity,
	aiClient GraphAIClient,
	maxRetries int,
) (*DuplicatesResponse, error) {
	if aiClient == nil {
		return nil, errors.New("nil ai client")
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	cleaned := usableDedupeEntities(entities)
	if len(cleaned) < 2 {
		return &DuplicatesResponse{Duplicates: []DuplicateGroup{}}, nil
	}
	if len(cleaned) > DedupeBatchSize {
		return nil, fmt.Errorf("dedupe batch of %d exceeds the limit of %d", len(cleaned), DedupeBatchSize)
	}

	prompt := dedupePromptFor(cleaned)

	var res DuplicatesResponse
	err := util.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return aiClient.GenerateCompletionWithFormat(
			ctx, "duplicate_groups", "Group duplicate entities.", prompt, &res,
		)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// usableDedupeEntities normalizes names and types and drops entities that
// end up blank.
func usableDedupeEntities(entities []common.Entity) []common.Entity {
	cleaned := make([]common.Entity, 0, len(entities))
	for _, entity := range entities {
		name := NormalizeDedupeValue(entity.Name)
		typeName := NormalizeDedupeValue(entity.Type)
		if name == "" || typeName == "" {
			continue
		}
		cleaned = append(cleaned, common.Entity{Name: name, Type: typeName})
	}
	return cleaned
}

// dedupePromptFor renders the entity roster into the dedupe prompt.
func dedupePromptFor(entities []common.Entity) string {
	var roster strings.Builder
	roster.WriteString("Entities:\n")
	for _, e := range entities {
		fmt.Fprintf(&roster, "- Name: %s, Type: %s\n", e.Name, e.Type)
	}
	return fmt.Sprintf(DedupePrompt, roster.String())
}

// NormalizeDedupeValue collapses all runs of whitespace to single spaces
// so the same name written with different spacing or line breaks compares
// equal.
func NormalizeDedupeValue(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
