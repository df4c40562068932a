package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/invopop/jsonschema"

	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/loader"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Extraction responses must satisfy a JSON schema, which smaller models
// occasionally miss. A failed unit is retried this many times before the
// whole document is failed.
const extractMaxTries = 3

type extractEntity struct {
	EntityName        string `json:"entity_name" jsonschema_description:"Entity name, fully capitalized"`
	EntityType        string `json:"entity_type" jsonschema_description:"One of the listed entity types"`
	EntityDescription string `json:"entity_description" jsonschema_description:"Complete description of the entity's attributes and activities as stated in the source text"`
}

type extractRelationship struct {
	SourceEntity            string  `json:"source_entity" jsonschema_description:"Name of the source entity from the extracted entities"`
	TargetEntity            string  `json:"target_entity" jsonschema_description:"Name of the target entity from the extracted entities"`
	RelationshipDescription string  `json:"relationship_description" jsonschema_description:"Why the source and target entity relate to each other"`
	RelationshipStrength    float64 `json:"relationship_strength" jsonschema_description:"Score between 0 and 1 for how strongly the two entities are related"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities found in the document"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships between the found entities"`
}

// extractFromUnit runs the schema-constrained extraction prompt over one
// unit and materializes the response into entities and relationships, each
// backed by a source record pointing at the unit.
func extractFromUnit(
	ctx context.Context, unit *common.Unit, file loader.GraphFile, client ai.GraphAIClient,
) ([]common.Entity, []common.Relationship, error) {
	res, err := runExtraction(ctx, unit, file, client)
	if err != nil {
		return nil, nil, err
	}

	entities, index, err := materializeEntities(unit, res.Entities)
	if err != nil {
		return nil, nil, err
	}
	relations, err := materializeRelationships(unit, res.Relationships, entities, index)
	if err != nil {
		return nil, nil, err
	}
	return entities, relations, nil
}

// runExtraction builds the extraction prompt for the unit's file type and
// asks the model for schema-bound entities and relationships. CSV units get
// a prompt primed with a summary of the table instead of the bare text.
func runExtraction(ctx context.Context, unit *common.Unit, file loader.GraphFile, client ai.GraphAIClient) (*extractResponse, error) {
	entityTypes := file.CustomEntities
	if len(entityTypes) == 0 {
		entityTypes = common.EntityTypes
	}
	baseName := filepath.Base(file.FilePath)
	typeList := strings.Join(entityTypes, ",")

	var systemPrompt string
	if file.FileType == loader.GraphFileTypeCSV {
		systemPrompt = fmt.Sprintf(ai.ExtractPromptCSV, typeList, baseName, summarizeCSV(unit.Text, baseName), typeList, typeList)
	} else {
		systemPrompt = fmt.Sprintf(ai.ExtractPromptText, typeList, baseName, typeList, typeList)
	}

	res := &extractResponse{}
	err := util.RetryErrWithContext(ctx, extractMaxTries, func(ctx context.Context) error {
		return client.GenerateCompletionWithFormat(
			ctx,
			"extract_entities_and_relationships",
			"Extract entities and relationships from a provided document.",
			unit.Text,
			res,
			ai.WithSystemPrompts(systemPrompt),
		)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// materializeEntities turns raw extraction rows into entities, each carrying
// one source record for the unit. Rows without a name are dropped; names and
// types are uppercased so later merging is case-insensitive. The returned
// index maps each name to its slice position, last occurrence winning.
func materializeEntities(unit *common.Unit, raw []extractEntity) ([]common.Entity, map[string]int, error) {
	entities := make([]common.Entity, 0, len(raw))
	index := make(map[string]int, len(raw))
	for _, row := range raw {
		name := strings.ToUpper(strings.TrimSpace(row.EntityName))
		if name == "" {
			continue
		}
		entityID, sourceID, err := newIDPair("entity")
		if err != nil {
			return nil, nil, err
		}
		entities = append(entities, common.Entity{
			ID:   entityID,
			Name: name,
			Type: strings.ToUpper(strings.TrimSpace(row.EntityType)),
			Sources: []common.Source{{
				ID:          sourceID,
				Unit:        unit,
				Description: row.EntityDescription,
			}},
		})
		index[name] = len(entities) - 1
	}
	return entities, index, nil
}

// materializeRelationships resolves raw relationship rows against the
// extracted entities. Rows naming an unknown entity are dropped, as are
// self-relations, which carry no graph information.
func materializeRelationships(
	unit *common.Unit, raw []extractRelationship, entities []common.Entity, index map[string]int,
) ([]common.Relationship, error) {
	relations := make([]common.Relationship, 0, len(raw))
	for _, row := range raw {
		sourceName := strings.ToUpper(strings.TrimSpace(row.SourceEntity))
		targetName := strings.ToUpper(strings.TrimSpace(row.TargetEntity))
		if sourceName == targetName {
			continue
		}
		src, okSrc := index[sourceName]
		dst, okDst := index[targetName]
		if !okSrc || !okDst {
			continue
		}

		relationshipID, sourceID, err := newIDPair("relationship")
		if err != nil {
			return nil, err
		}
		relations = append(relations, common.Relationship{
			ID:       relationshipID,
			Source:   &entities[src],
			Target:   &entities[dst],
			Strength: clampStrength(row.RelationshipStrength),
			Sources: []common.Source{{
				ID:          sourceID,
				Unit:        unit,
				Description: row.RelationshipDescription,
			}},
		})
	}
	return relations, nil
}

// newIDPair mints public IDs for one graph object and the source record
// attached to it.
func newIDPair(kind string) (string, string, error) {
	objectID, err := gonanoid.New()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ID for %s: %w", kind, err)
	}
	sourceID, err := gonanoid.New()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ID for source: %w", err)
	}
	return objectID, sourceID, nil
}

// clampStrength pins a model-reported strength into [0, 1].
func clampStrength(strength float64) float64 {
	return min(max(strength, 0), 1)
}

// summarizeCSV condenses a CSV unit into filename, headers, row count, and a
// few sample rows. The extraction prompt gets this digest alongside the raw
// text so the model sees the table's shape.
func summarizeCSV(text, baseName string) string {
	rows := strings.Split(strings.TrimSpace(text), "\n")
	if rows[0] == "" {
		return ""
	}

	dataRows := rows
	if isCSVHeader(rows) {
		dataRows = rows[1:]
	}

	var digest strings.Builder
	if baseName != "" {
		fmt.Fprintf(&digest, "Filename: %s\n", baseName)
	}
	fmt.Fprintf(&digest, "Headers: %s\n", rows[0])
	fmt.Fprintf(&digest, "Row count: %d\n", len(dataRows))
	if len(dataRows) > 0 {
		digest.WriteString("Sample rows:\n")
		digest.WriteString(strings.Join(dataRows[:min(3, len(dataRows))], "\n"))
	}
	return digest.String()
}
