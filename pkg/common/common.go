package common

// Graph is one tenant's extraction output: the entities found in a set of
// documents, the relationships connecting them, and the text units both
// were derived from. Entities and relationships never cross tenant
// boundaries.
type Graph struct {
	Tenant        string         `json:"tenant"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Units         []*Unit        `json:"units"`
}

// Entity is a graph node: an organization, person, place, or other concept
// pulled out of the text. Description is an AI summary folded together from
// the attached sources; Frequency counts how often the extraction saw it.
type Entity struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Frequency   int      `json:"frequency,omitempty"`
	Sources     []Source `json:"sources"`
}

// EntityTypes lists the categories the extraction step is allowed to assign.
var EntityTypes = []string{
	"ORGANIZATION",
	"PERSON",
	"LOCATION",
	"CONCEPT",
	"DATE",
	"PRODUCT",
	"EVENT",
}

// Source ties an entity or relationship back to the unit it was derived
// from, carrying the fragment that unit contributed.
type Source struct {
	ID          string `json:"id"`
	Unit        *Unit  `json:"unit"`
	Description string `json:"description"`
}

// Relationship is a directed edge from Source to Target, with the sources
// backing it and a strength score. Type carries the relation category when
// one was detected (WORKS_FOR, FOUNDED, ...); pattern-derived co-occurrence
// edges use CO_MENTIONED.
type Relationship struct {
	ID          string   `json:"id"`
	Source      *Entity  `json:"source"`
	Target      *Entity  `json:"target"`
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description"`
	Strength    float64  `json:"strength"`
	Sources     []Source `json:"sources"`
}

// Unit chunk types assigned by the splitter.
const (
	UnitTypeText  = "text"
	UnitTypeTable = "table"
	UnitTypeList  = "list"
	UnitTypeTitle = "title"
)

// Unit is one contiguous chunk of a document, the smallest piece of
// provenance entities and relationships point back to. The splitter caps
// units by token count and records the character span. The unit ID is
// derived from the document content hash plus the chunk index, so
// re-processing the same document produces the same ids.
type Unit struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
	Type       string `json:"type,omitempty"`
	Section    string `json:"section,omitempty"`
}
