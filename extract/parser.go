package extract

import (
	"strings"

	"go.uber.org/zap"
)

// Record markers of the delimited grammar.
const (
	markerEntity       = "entity"
	markerRelationship = "relationship"
)

// EntityRecord is one parsed ("entity"|name|type|claim[|date]) tuple.
type EntityRecord struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Claim     string `json:"claim"`
	ClaimDate string `json:"claim_date,omitempty"`
}

// RelationshipRecord is one parsed ("relationship"|source|target|claim[|date])
// tuple. Undeclared lists endpoints that no entity tuple of the same
// response declared; the store decides whether they exist.
type RelationshipRecord struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Claim      string   `json:"claim"`
	ClaimDate  string   `json:"claim_date,omitempty"`
	Undeclared []string `json:"undeclared,omitempty"`
}

// Response is the outcome of parsing one model completion.
type Response struct {
	Entities      []EntityRecord
	Relationships []RelationshipRecord
	// Malformed counts fragments that looked like records but could not be
	// read: too few fields, empty required fields or a truncated tuple.
	Malformed int
	// Discarded counts non-record text such as preambles or trailing chatter.
	Discarded int
}

// ParseResponse reads a completion written in the delimited record
// grammar. It never fails: anything it cannot read is counted and logged.
func ParseResponse(text string, d Delimiters, logger *zap.Logger) *Response {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "parser"))
	out := &Response{}

	if i := strings.Index(text, d.Completion); i >= 0 {
		if strings.TrimSpace(text[i+len(d.Completion):]) != "" {
			out.Discarded++
		}
		text = text[:i]
	}

	for _, frag := range strings.Split(text, d.Record) {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}

		starts := recordOpeners(frag, d.Tuple)
		if len(starts) == 0 {
			out.Discarded++
			log.Debug("parser: discarded non-record text", zap.String("fragment", preview(frag)))
			continue
		}
		if strings.TrimSpace(frag[:starts[0]]) != "" {
			out.Discarded++
		}
		// A missing record delimiter leaves several records in one fragment.
		for i, start := range starts {
			end := len(frag)
			if i+1 < len(starts) {
				end = starts[i+1]
			}
			out.parseRecord(strings.TrimSpace(frag[start:end]), d, log)
		}
	}

	return out
}

// parseRecord reads one record that starts at its opener. Text after the
// closing parenthesis, such as a code fence, is counted as discarded.
func (out *Response) parseRecord(rec string, d Delimiters, log *zap.Logger) {
	closing := strings.LastIndex(rec, ")")
	if closing < 0 || strings.Contains(rec[closing+1:], d.Tuple) {
		out.Malformed++
		log.Warn("parser: truncated record", zap.String("fragment", preview(rec)))
		return
	}
	if strings.TrimSpace(rec[closing+1:]) != "" {
		out.Discarded++
		log.Debug("parser: discarded text after record", zap.String("text", preview(rec[closing+1:])))
	}
	body := rec[1:closing]
	fields := strings.Split(body, d.Tuple)
	marker := strings.ToLower(strings.Trim(strings.TrimSpace(fields[0]), `"'`))
	fields = fields[1:]

	if len(fields) < 3 {
		out.Malformed++
		log.Warn("parser: record has too few fields",
			zap.String("marker", marker), zap.Int("fields", len(fields)), zap.String("fragment", preview(rec)))
		return
	}
	for i := range fields {
		fields[i] = unquote(fields[i])
	}

	a, b := fields[0], fields[1]
	claim, rawDate := splitClaimAndDate(fields[2:], d.Tuple)
	claim = unquote(claim)
	if a == "" || b == "" || claim == "" {
		out.Malformed++
		log.Warn("parser: record has empty required field",
			zap.String("marker", marker), zap.String("fragment", preview(rec)))
		return
	}

	date := ""
	if rawDate != "" {
		var ok bool
		date, ok = NormalizeClaimDate(rawDate)
		if !ok {
			log.Debug("parser: claim date omitted", zap.String("raw", rawDate))
		}
	}

	switch marker {
	case markerEntity:
		out.Entities = append(out.Entities, EntityRecord{Name: a, Type: b, Claim: claim, ClaimDate: date})
	case markerRelationship:
		out.Relationships = append(out.Relationships, RelationshipRecord{Source: a, Target: b, Claim: claim, ClaimDate: date})
	default:
		out.Malformed++
		log.Warn("parser: unknown record marker", zap.String("marker", marker))
	}
}

// recordOpeners returns the offsets of every ("entity" or ("relationship"
// opener in frag. The marker may be double quoted, single quoted or bare,
// and must be followed by the tuple delimiter.
func recordOpeners(frag, tuple string) []int {
	var starts []int
	for i := 0; i < len(frag); i++ {
		if frag[i] == '(' && isOpener(frag[i+1:], tuple) {
			starts = append(starts, i)
		}
	}
	return starts
}

func isOpener(s, tuple string) bool {
	var q byte
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		q, s = s[0], s[1:]
	}
	for _, m := range []string{markerEntity, markerRelationship} {
		if len(s) < len(m) || !strings.EqualFold(s[:len(m)], m) {
			continue
		}
		rest := s[len(m):]
		if q != 0 {
			if rest == "" || rest[0] != q {
				continue
			}
			rest = rest[1:]
		}
		if strings.HasPrefix(strings.TrimLeft(rest, " \t"), tuple) {
			return true
		}
	}
	return false
}

// unquote trims s and strips one matching pair of surrounding quotes.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// splitClaimAndDate separates the claim from the optional trailing date.
// With exactly two remaining fields the second is the date slot. With more,
// the last field is taken as a date only when it normalizes; otherwise the
// tuple delimiter is assumed to be part of the claim text.
func splitClaimAndDate(rest []string, tuple string) (claim, date string) {
	switch len(rest) {
	case 1:
		return strings.TrimSpace(rest[0]), ""
	case 2:
		return strings.TrimSpace(rest[0]), strings.TrimSpace(rest[1])
	}
	last := strings.TrimSpace(rest[len(rest)-1])
	if _, ok := NormalizeClaimDate(last); ok {
		return strings.TrimSpace(strings.Join(rest[:len(rest)-1], tuple)), last
	}
	return strings.TrimSpace(strings.Join(rest, tuple)), ""
}

func preview(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
