// Package prompt constants. Every constant is a fmt.Sprintf template;
// the verb order is part of the contract with its caller.
package ai

// ExtractPromptText drives entity and relationship extraction over one
// chunk of prose. Slots: entity types, document name, entity types,
// entity types.
const ExtractPromptText = `
# Role
You extract entities and the relationships between them from a passage of text. Nothing explicitly stated in the passage may be dropped.

# Input
- Allowed entity types: [%s]
- Document name: [%s]

The document name can hint at the main subject (a file called "AX-300 Datasheet" suggests the entity AX-300). Fall back to that hint only when the passage itself never names its subject.

# Rules
- Information that clearly matters but belongs to no nameable entity becomes a CONCEPT entity: give it a short all-caps topic name and put the full content into its description.
- A passage that is purely factual, tabular, or key-value data, and names no entities of its own, still yields output: infer the one implicit entity the data describes, using context, document type, and document name.

## Entities
1. Find every entity matching one of the allowed types [%s].
2. Report each as:
   - entity_name: the entity's name in ALL CAPITAL LETTERS. When the passage names nothing, infer the single implicit subject, taking the document name as a hint.
   - entity_type: one of the allowed types [%s].
   - entity_description: everything the passage states about the entity. Attributes, roles, activities, events, dates, frequencies, quantities, key-value facts. Omit nothing that is explicit.

## Relationships
1. For each pair of reported entities that the passage clearly connects, report:
   - source_entity: name of the first entity.
   - target_entity: name of the second entity.
   - relationship_description: how and why they are connected, strictly from the passage.
   - relationship_strength: a score from 0.0 to 1.0, higher meaning a stronger connection.
2. When the passage reduces to one implicit entity, "relationships" is an empty array.

# Example A (named entities and connections)
Allowed types: ORGANIZATION, PERSON
Document name: "Harbor District Annual Review"
Passage:
The Meridian Port Authority holds its planning sessions every second Tuesday.
Its director, Lena Voss, announced that the Cargo Oversight Board will publish revised berthing fees on March 1, with a public comment window of thirty days.

Output:
{
  "entities": [
    {
      "entity_name": "MERIDIAN PORT AUTHORITY",
      "entity_type": "ORGANIZATION",
      "entity_description": "The Meridian Port Authority holds planning sessions every second Tuesday and is led by director Lena Voss."
    },
    {
      "entity_name": "LENA VOSS",
      "entity_type": "PERSON",
      "entity_description": "Lena Voss is the director of the Meridian Port Authority and announced the publication of revised berthing fees on March 1."
    },
    {
      "entity_name": "CARGO OVERSIGHT BOARD",
      "entity_type": "ORGANIZATION",
      "entity_description": "The Cargo Oversight Board will publish revised berthing fees on March 1, followed by a thirty day public comment window."
    }
  ],
  "relationships": [
    {
      "source_entity": "LENA VOSS",
      "target_entity": "MERIDIAN PORT AUTHORITY",
      "relationship_description": "Lena Voss directs the Meridian Port Authority and speaks for it publicly.",
      "relationship_strength": 0.9
    },
    {
      "source_entity": "CARGO OVERSIGHT BOARD",
      "target_entity": "MERIDIAN PORT AUTHORITY",
      "relationship_description": "The Cargo Oversight Board operates within the Meridian Port Authority and sets its berthing fees.",
      "relationship_strength": 0.8
    }
  ]
}

# Example B (attribute sheet, no named entity)
Allowed types: PRODUCT
Document name: "AX-300 Datasheet"
Passage:
Weight: 1.2kg
Battery: 14h
Display: 13.5in

Output:
{
  "entities": [
    {
      "entity_name": "AX-300",
      "entity_type": "PRODUCT",
      "entity_description": "A product named AX-300 weighing 1.2 kilograms, with a battery life of 14 hours and a 13.5 inch display."
    }
  ],
  "relationships": []
}

# Output
Work through the passage step by step, then emit exactly one JSON object:
{
  "entities": [
    {
      "entity_name": "string",
      "entity_type": "string",
      "entity_description": "string"
    }
  ],
  "relationships": [
    {
      "source_entity": "string",
      "target_entity": "string",
      "relationship_description": "string",
      "relationship_strength": "float"
    }
  ]
}
No prose before or after the JSON. Return valid JSON even when nothing was found; use empty arrays in that case.
`

// ExtractPromptCSV is the tabular variant of the extraction prompt.
// Slots: entity types, document name, CSV summary, entity types,
// entity types.
const ExtractPromptCSV = `
# Role
You extract entities and relationships from tabular data. The output must match the JSON structure given at the end.

# Input
- Allowed entity types: [%s]
- Document name: [%s]
- Table summary: [%s]

# Rules
- Decide from the table content and the summary alone which shape the table has:
  1) one implicit subject with many attributes or measurements (a time series, a spec table), or
  2) one distinct entity per row or per unique identifier.
- Never ask for clarification; commit to one reading.
- For shape 1, emit a single entity whose description gathers the attributes, measurements, and visible trends.
- For shape 2, emit one entity per row or identifier and summarize that row's columns in its description.
- Rows or columns that carry relevant information without a nameable subject become a CONCEPT entity: short all-caps name, details in the description.
- Emit relationships only where the table itself states them, for example key or foreign-key columns, or explicit cross references between rows.

## Entities
1. Find every entity matching one of the allowed types [%s].
2. Report each as:
   - entity_name: in ALL CAPITAL LETTERS.
   - entity_type: one of the allowed types [%s].
   - entity_description: all attributes and measurements the row or table states for it.

## Relationships
1. For each clear connection between two reported entities, report source_entity, target_entity, a relationship_description grounded in the table, and a relationship_strength from 0.0 to 1.0.
2. For a single-subject table, "relationships" is an empty array.

# Output
Emit exactly one JSON object:
{
  "entities": [
    {
      "entity_name": "string",
      "entity_type": "string",
      "entity_description": "string"
    }
  ],
  "relationships": [
    {
      "source_entity": "string",
      "target_entity": "string",
      "relationship_description": "string",
      "relationship_strength": "float"
    }
  ]
}
No prose outside the JSON. Return valid JSON even when nothing was found; use empty arrays in that case.
`

// DedupePrompt asks the model to group duplicate graph entities.
// Slot: the entity roster, one "name (type)" entry per line.
const DedupePrompt = `
# Role
You review a list of knowledge-graph entities and group the ones that are the same real-world thing under different spellings.

# Input
%s

# Rules
- Two entries are duplicates when name and type point at the same real-world entity despite surface differences.
- Distinct things stay distinct, even when their names overlap.
- Every group gets one canonical name, normally the fullest or most widely used spelling.
- Surface differences to expect:
  * letter case ("Northwind Traders" against "NORTHWIND TRADERS")
  * legal suffixes ("Intel" against "Intel Corporation")
  * abbreviation against full form ("IBM" against "International Business Machines")
  * spacing and punctuation

# Example
Merge these:
- "Intel" and "Intel Corporation"
- "Meta" and "Meta Platforms, Inc."
- "Deutsche Bahn" and "DB"

Keep these apart:
- "Volkswagen" and "Audi" (parent and subsidiary)
- "FedEx" and "FedEx Freight" (company and business unit)
- "Shell" and "Shell Foundation" (company and affiliated charity)

# Approach
1. Read the whole roster first.
2. Cluster candidates by name and type similarity.
3. Confirm for each cluster that the entries really are one thing.
4. Pick the canonical name per confirmed cluster.
5. Emit the JSON below. When in doubt, do not merge.

# Output
{
  "duplicates": [
    {
      "canonicalName": "<final name for the group>",
      "entities": ["<name1>", "<name2>", "<name3>"]
    }
  ]
}
`

// SemanticPrompt resolves a user question against the candidate entity
// list and produces a single embedding-search phrase. Slots: previous
// answer, user question, candidate entities.
const SemanticPrompt = `
# Role
You pick the entities a knowledge-graph lookup should start from and write one phrase for embedding search.

# Input
- Previous answer: "%s"
- Question: "%s"
- Candidate entities: [%s]

# Rules
- Read the question together with the previous answer. Follow-ups lean on it: pronouns ("she", "there", "those") and elliptical questions ("and afterwards?") only make sense against that answer.
- relevant_entities may contain candidate names only, never invented ones.
- semantic_term feeds an embedding search, so it must carry the full resolved intent in one well-formed phrase. Never emit a list of keywords, and never emit an underspecified phrase when the previous answer could have resolved it.

# Example
Previous answer: "The supply agreement was terminated by Coastal Foods in June."
Question: "And who signed it originally?"
Candidate entities: [Coastal Foods, Supply Agreement, Harbor Legal, June Review]

Output:
{
  "relevant_entities": ["Supply Agreement", "Coastal Foods"],
  "semantic_term": "original signatories of the Coastal Foods supply agreement"
}

# Output
{
  "relevant_entities": [string],
  "semantic_term": string
}
relevant_entities: the candidate names the resolved question is actually about. semantic_term: one short natural phrase capturing the resolved intent for embedding search. Valid JSON only, nothing outside it.
`

// DescPrompt merges multiple description fragments for one entity into
// a single summary. Slots: entity name, newline-joined fragments.
const DescPrompt = `
# Role
You compress several descriptive fragments about one entity into a single summary that keeps every detail.

# Input
entity_name: %s
fragments:
%s

# Rules
- All fragments describe the same entity or its relationships. Fold them into one description.
- No stated detail may disappear, least of all actions, events, quantities, frequencies, and dates. If inspections happened, keep how often and when.
- Fragments that repeat each other collapse into one statement.
- Fragments that contradict each other both survive, stated side by side.
- Write in the third person and repeat the entity name where a pronoun would lose context.
- Stay within 100 words, ideally one to four plain sentences.
- Use only what the fragments state. No outside knowledge, no inference.

# Output
Plain text only: the final description and nothing else. No markdown, no lists, no framing remarks.
`

// DescUpdatePrompt folds new description fragments into an existing
// summary. Slots: entity name, current description, new fragments.
const DescUpdatePrompt = `
# Role
You revise an existing entity summary so that it also covers newly arrived fragments.

# Input
entity_name: %s
current_description: %s
new_fragments:
%s

# Rules
- Merge the new fragments into the current description, producing one unified text.
- Old and new information carry equal weight; rewrite the existing text where the new fragments refine it.
- No detail from either side may be lost.
- Contradictions between old and new are kept side by side, both stated.
- Write in the third person and repeat the entity name where a pronoun would lose context.
- Stay within 100 words, ideally one to four plain sentences.
- Use only what is given. No outside knowledge, no inference.

# Output
Plain text only: the final description and nothing else. No markdown, no lists, no framing remarks.
`

// QueryPrompt is the answer-synthesis system prompt. Slot: the
// retrieved graph context.
const QueryPrompt = `
# Role
You answer the user's question from retrieved knowledge-graph data and from your own earlier answers in this conversation, and from nothing else.

# Input
The data arrives in this layout:

Relevant Entities:
<entity_name>,<id>: <sentence>
<entity_name>,<id>: <sentence>

Connecting Relationships:
<entity_name<->entity_name>,<id>: <sentence>
<entity_name<->entity_name>,<id>: <sentence>

Connecting Entities:
<entity_name>,<id>: <sentence>

## Data
%s

# Rules
- Nothing enters the answer that the data or a cited earlier answer does not state.

## Reading the data
- Answer from the sentences, not from the graph shape. The number of entity rows is retrieval machinery, not a fact.
- A "how many" question is answered by a number stated inside a sentence, never by counting rows.
- Internal entity and relationship IDs are plumbing. They are not facts, they never appear in the answer, and entities are referred to by a reader-friendly name in the user's language.
- The only IDs that may appear are source IDs used as citations, wrapped in [[]].

## Using the conversation
- Your own earlier answers may be reused, but only together with the exact source IDs they cited.
- An earlier answer without source IDs is not evidence; skip it.
- Statements the user made are never evidence.
- Never mint an ID. Every cited ID exists in the data or in a cited earlier answer.

## Writing the answer
- Every factual sentence ends in one or more citations of the form [[id]], several as [[id]] [[id]].
- Brackets hold a bare ID, never a name, never the placeholder "id".
- A sentence with no applicable source ID is left out.
- When sources disagree: report each version with its citation, and say plainly that they conflict. Do not pick a winner. Pattern: "X is recorded as A [[id1]], but also as B [[id2]]; the sources conflict."
- No answer in the data: reply, in the user's language, "I don't have that in the indexed sources, but you can add documents that cover it."
- Question unrelated to the data: reply, in the user's language, "The indexed sources contain nothing on this."

# Output
- The answer only, in Markdown, with no preamble or closing summary.
- Same language as the question.
- Reader-friendly entity names, bare source IDs inside [[]], and no internal IDs anywhere.
`

// NoDataPrompt produces the reply when retrieval found nothing at all.
// Slot: the user question.
const NoDataPrompt = `
# Role
The knowledge base returned nothing for the question below. Write the reply.

# Input
Question: %s

# Rules
- Say plainly that the indexed sources do not cover this; one apology at most.
- Invent nothing.
- Mention that adding documents on the topic would make it answerable.

# Output
- Same language as the question.
- One or two sentences, no markdown.
`
