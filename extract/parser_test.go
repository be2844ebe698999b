package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func render(s string) string {
	return strings.NewReplacer(
		"{t}", DefaultTupleDelimiter,
		"{r}", DefaultRecordDelimiter,
		"{c}", DefaultCompletionDelimiter,
	).Replace(s)
}

func TestParseResponseWellFormed(t *testing.T) {
	text := render(`
("entity"{t}Republic of Arcania{t}GEO{t}Country in which Sankt Rúna is located)
{r}
("entity"{t}Polar Tram AG{t}ORGANIZATION{t}Tram maker{t}2025)
{r}
("relationship"{t}Transparency Watch Europa{t}Polar Tram AG{t}Filed a complaint{t}Q3 2025)
{c}`)

	r := ParseResponse(text, DefaultDelimiters(), nil)
	require.Len(t, r.Entities, 2)
	require.Len(t, r.Relationships, 1)
	assert.Zero(t, r.Malformed)
	assert.Zero(t, r.Discarded)

	assert.Equal(t, EntityRecord{Name: "Republic of Arcania", Type: "GEO", Claim: "Country in which Sankt Rúna is located"}, r.Entities[0])
	assert.Equal(t, "2025", r.Entities[1].ClaimDate)
	assert.Equal(t, "Transparency Watch Europa", r.Relationships[0].Source)
	assert.Equal(t, "2025-07", r.Relationships[0].ClaimDate)
}

func TestParseResponseRobustness(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		entities      int
		relationships int
		malformed     int
		discarded     int
	}{
		{
			name:      "too few fields",
			text:      render(`("entity"{t}Republic of Arcania{t}GEO){r}("entity"{t}A{t}GEO{t}claim){c}`),
			entities:  1,
			malformed: 1,
		},
		{
			name:      "truncated final tuple",
			text:      render(`("entity"{t}A{t}GEO{t}claim){r}("entity"{t}B{t}PERSON{t}cut off mid`),
			entities:  1,
			malformed: 1,
		},
		{
			name:      "missing completion delimiter",
			text:      render(`("entity"{t}A{t}GEO{t}claim){r}("entity"{t}B{t}PERSON{t}claim)`),
			entities:  2,
			malformed: 0,
		},
		{
			name:      "preamble and trailing chatter",
			text:      render(`Here are the tuples:{r}("entity"{t}A{t}GEO{t}claim){c} Hope this helps!`),
			entities:  1,
			discarded: 2,
		},
		{
			name:      "preamble glued to first record",
			text:      render("Sure.\n(\"entity\"{t}A{t}GEO{t}claim){c}"),
			entities:  1,
			discarded: 1,
		},
		{
			name:      "empty required field",
			text:      render(`("entity"{t} {t}GEO{t}claim){r}("relationship"{t}A{t}B{t}  ){c}`),
			malformed: 2,
		},
		{
			name:      "unknown marker opener is discarded",
			text:      render(`("event"{t}A{t}B{t}C){c}`),
			discarded: 1,
		},
		{
			name: "empty completion",
			text: "",
		},
		{
			name:          "unquoted markers",
			text:          render(`(entity{t}A{t}GEO{t}claim){r}(relationship{t}A{t}B{t}claim){c}`),
			entities:      1,
			relationships: 1,
		},
		{
			name:      "records wrapped in a code fence",
			text:      "```\n(\"entity\"|Alice|PERSON|A person)\n##\n(\"entity\"|Bob|PERSON|Another person)\n```",
			entities:  2,
			discarded: 2,
		},
		{
			name:     "missing record delimiter between records",
			text:     "(\"entity\"|Alice|PERSON|A person)\n(\"entity\"|Bob|PERSON|Another person)\n$$$",
			entities: 2,
		},
		{
			name:          "relationship glued to entity",
			text:          render(`("entity"{t}A{t}GEO{t}claim) ("relationship"{t}A{t}B{t}claim){c}`),
			entities:      1,
			relationships: 1,
		},
		{
			name:      "truncated tuple with parenthesis in claim",
			text:      render(`("entity"{t}A{t}GEO{t}claim){r}("entity"{t}B{t}PERSON{t}born (1970){t}cut`),
			entities:  1,
			malformed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseResponse(tt.text, DefaultDelimiters(), nil)
			assert.Len(t, r.Entities, tt.entities)
			assert.Len(t, r.Relationships, tt.relationships)
			assert.Equal(t, tt.malformed, r.Malformed, "malformed")
			assert.Equal(t, tt.discarded, r.Discarded, "discarded")
		})
	}
}

func TestParseResponseClaimDateHandling(t *testing.T) {
	tests := []struct {
		name      string
		record    string
		claim     string
		claimDate string
	}{
		{"no date", `("entity"{t}A{t}GEO{t}claim)`, "claim", ""},
		{"full date", `("entity"{t}A{t}GEO{t}claim{t}2025-08-16)`, "claim", "2025-08-16"},
		{"invalid date omitted, claim kept", `("entity"{t}A{t}GEO{t}claim{t}sometime soon)`, "claim", ""},
		{"impossible date omitted", `("entity"{t}A{t}GEO{t}claim{t}2025-02-30)`, "claim", ""},
		{"delimiter inside claim", `("entity"{t}A{t}GEO{t}left{t}right{t}2025-03)`, "left|right", "2025-03"},
		{"delimiter inside claim without date", `("entity"{t}A{t}GEO{t}x{t}y{t}z)`, "x|y|z", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseResponse(render(tt.record), DefaultDelimiters(), nil)
			require.Len(t, r.Entities, 1)
			assert.Equal(t, tt.claim, r.Entities[0].Claim)
			assert.Equal(t, tt.claimDate, r.Entities[0].ClaimDate)
		})
	}
}

func TestParseResponseSplitsGluedRecords(t *testing.T) {
	text := "(\"entity\"|Alice|PERSON|A person)\n(\"entity\"|Bob|PERSON|Another person)\n$$$"
	r := ParseResponse(text, DefaultDelimiters(), nil)
	require.Len(t, r.Entities, 2)
	assert.Equal(t, EntityRecord{Name: "Alice", Type: "PERSON", Claim: "A person"}, r.Entities[0])
	assert.Equal(t, EntityRecord{Name: "Bob", Type: "PERSON", Claim: "Another person"}, r.Entities[1])
	assert.Zero(t, r.Malformed)
}

func TestParseResponseStripsQuotedFields(t *testing.T) {
	text := render(`("entity"{t}"Alice"{t}"PERSON"{t}"A person"{t}'2025-08'){r}("relationship"{t}'Alice'{t}"Bob"{t}"knows"){c}`)
	r := ParseResponse(text, DefaultDelimiters(), nil)
	require.Len(t, r.Entities, 1)
	require.Len(t, r.Relationships, 1)
	assert.Equal(t, EntityRecord{Name: "Alice", Type: "PERSON", Claim: "A person", ClaimDate: "2025-08"}, r.Entities[0])
	assert.Equal(t, "Alice", r.Relationships[0].Source)
	assert.Equal(t, "Bob", r.Relationships[0].Target)
	assert.Equal(t, "knows", r.Relationships[0].Claim)

	res := NewCanonicalizer(DefaultEntityTypes, EndpointStore, nil).Canonicalize(r)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "Alice", res.Entities[0].Name)
	assert.Equal(t, "PERSON", res.Entities[0].Type)
	assert.Zero(t, res.Dropped)
}

func TestParseResponseCustomDelimiters(t *testing.T) {
	d := Delimiters{Tuple: "<|>", Record: "\n", Completion: "<END>"}
	text := "(\"entity\"<|>A<|>GEO<|>claim)\n(\"relationship\"<|>A<|>B<|>claim)\n<END>"
	r := ParseResponse(text, d, nil)
	assert.Len(t, r.Entities, 1)
	assert.Len(t, r.Relationships, 1)
}

func TestProperty_ParseResponseNeverPanics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringMatching(`[()"a-z|#$ \n]{0,200}`).Draw(rt, "text")
		r := ParseResponse(text, DefaultDelimiters(), nil)
		require.NotNil(rt, r)
		for _, e := range r.Entities {
			assert.NotEmpty(rt, e.Name)
			assert.NotEmpty(rt, e.Type)
			assert.NotEmpty(rt, e.Claim)
		}
		for _, rel := range r.Relationships {
			assert.NotEmpty(rt, rel.Source)
			assert.NotEmpty(rt, rel.Target)
			assert.NotEmpty(rt, rel.Claim)
		}
	})
}
