package extract

import (
	"fmt"
	"os"
	"strings"
)

// Default entity types and delimiters of the extraction grammar.
var DefaultEntityTypes = []string{"ORGANIZATION", "GEO", "PERSON"}

const (
	DefaultTupleDelimiter      = "|"
	DefaultRecordDelimiter     = "##"
	DefaultCompletionDelimiter = "$$$"
	DefaultSystemPrompt        = "You are a helpful extraction assistant."
)

// Delimiters are the three separators of the delimited record grammar.
type Delimiters struct {
	Tuple      string `json:"tuple" yaml:"tuple"`
	Record     string `json:"record" yaml:"record"`
	Completion string `json:"completion" yaml:"completion"`
}

// DefaultDelimiters returns "|", "##" and "$$$".
func DefaultDelimiters() Delimiters {
	return Delimiters{
		Tuple:      DefaultTupleDelimiter,
		Record:     DefaultRecordDelimiter,
		Completion: DefaultCompletionDelimiter,
	}
}

// Validate rejects empty or colliding delimiters.
func (d Delimiters) Validate() error {
	if d.Tuple == "" || d.Record == "" || d.Completion == "" {
		return fmt.Errorf("delimiters must be non-empty")
	}
	if d.Tuple == d.Record || d.Tuple == d.Completion || d.Record == d.Completion {
		return fmt.Errorf("delimiters must be distinct")
	}
	return nil
}

// Template is an extraction prompt with {placeholder} slots.
type Template struct {
	Text        string
	EntityTypes []string
	Delimiters  Delimiters
}

// NewTemplate returns the built-in template configured with types and
// delimiters.
func NewTemplate(types []string, d Delimiters) *Template {
	if len(types) == 0 {
		types = DefaultEntityTypes
	}
	return &Template{Text: defaultTemplate, EntityTypes: types, Delimiters: d}
}

// LoadTemplate reads template text from path. The file may use the
// {entity_types}, {tuple_delimiter}, {record_delimiter},
// {completion_delimiter}, {document} and {context} placeholders.
func LoadTemplate(path string, types []string, d Delimiters) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	if !strings.Contains(string(data), "{document}") {
		return nil, fmt.Errorf("template %s has no {document} placeholder", path)
	}
	t := NewTemplate(types, d)
	t.Text = string(data)
	return t, nil
}

// Render substitutes the configuration, the chunk text and the names of
// entities already seen in the same document.
func (t *Template) Render(document string, known []string) string {
	var context string
	if len(known) > 0 {
		context = "\n\n**Entities already extracted from earlier parts of this document** " +
			"(reuse these exact names when they recur): " + strings.Join(known, ", ")
	}
	r := strings.NewReplacer(
		"{entity_types}", "["+strings.Join(t.EntityTypes, ", ")+"]",
		"{tuple_delimiter}", t.Delimiters.Tuple,
		"{record_delimiter}", t.Delimiters.Record,
		"{completion_delimiter}", t.Delimiters.Completion,
		"{document}", document,
		"{context}", context,
	)
	return r.Replace(t.Text)
}

const defaultTemplate = `-Goal-
Given a text document, extract entities and the relationships between them, limited to the allowed entity types.

-Allowed Entity Types-
{entity_types}

-Definitions-
ORGANIZATION: named institutions, agencies, companies, governments, exchanges.
GEO: named countries, cities, provinces and historical territories treated as places.
PERSON: individual humans referenced by full name as written in the text, diacritics kept.

-Never Extract-
Generic or referential nouns such as "the document" or "the agency" unless they are capitalized proper nouns.
Titles and honorifics ("Dr.", "Mr.", "Agent") are never part of a name, though claims may mention them.

-Steps-
1) Entities. For every entity of an allowed type give:
  - entity_name: the proper name exactly as it appears in the text. PERSON: full name only. ORGANIZATION/GEO: no leading "the" unless it belongs to the name.
  - entity_type: one of the allowed types.
  - entity_claim: a self-contained statement about the entity's attributes, activities or status. Split distinct claims into separate rows that repeat the same entity_name and entity_type. Interactions with other entities belong in relationships.
Format: ("entity"{tuple_delimiter}<entity_name>{tuple_delimiter}<entity_type>{tuple_delimiter}<entity_claim>)

2) Relationships. For every clear link between two extracted entities give:
  - source_entity and target_entity, spelled exactly like an extracted entity_name.
  - relationship_claim: a concise statement of the link as claimed in the text.
Format: ("relationship"{tuple_delimiter}<source_entity>{tuple_delimiter}<target_entity>{tuple_delimiter}<relationship_claim>)

3) Optional claim_date. When the text dates the claimed event, append it as a final field:
  - year only: "YYYY"
  - year and month: "YYYY-MM"
  - quarter: the first month of the quarter (Q1 "YYYY-01", Q2 "YYYY-04", Q3 "YYYY-07", Q4 "YYYY-10")
  - full date: "YYYY-MM-DD"
Date the event, not later consequences: "announced in June 2025 that works would last until November" is 2025-06. Omit the field when unsure.

4) Output. Separate all tuples with {record_delimiter} and finish with {completion_delimiter}.

-Canonical Names-
Use the identical entity_name string in every tuple, with the same casing and accents. Prefer the most explicit form present in the text ("United States", not "US").

-Example-
**Document**:
The Ministry of Urban Mobility of Arcania cancelled the provisional award of a tram contract to Polar Tram AG on 16 August 2025. Polar Tram AG is headquartered in Rautenstadt. Its chief executive, Leena Väisänen, said the company complied with disclosure rules.
**Output**:
("entity"{tuple_delimiter}Ministry of Urban Mobility of Arcania{tuple_delimiter}ORGANIZATION{tuple_delimiter}National ministry responsible for public transport procurement in Arcania)
{record_delimiter}
("entity"{tuple_delimiter}Polar Tram AG{tuple_delimiter}ORGANIZATION{tuple_delimiter}Tram manufacturer headquartered in Rautenstadt)
{record_delimiter}
("entity"{tuple_delimiter}Rautenstadt{tuple_delimiter}GEO{tuple_delimiter}City hosting the headquarters of Polar Tram AG)
{record_delimiter}
("entity"{tuple_delimiter}Leena Väisänen{tuple_delimiter}PERSON{tuple_delimiter}Chief executive of Polar Tram AG)
{record_delimiter}
("relationship"{tuple_delimiter}Ministry of Urban Mobility of Arcania{tuple_delimiter}Polar Tram AG{tuple_delimiter}Cancelled the provisional award of a tram contract{tuple_delimiter}2025-08-16)
{record_delimiter}
("relationship"{tuple_delimiter}Leena Väisänen{tuple_delimiter}Polar Tram AG{tuple_delimiter}Stated that the company complied with disclosure rules)
{completion_delimiter}

-Real-
**Document**:
{document}{context}
**Output**:`
