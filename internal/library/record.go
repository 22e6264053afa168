package library

import (
	"fmt"
	"strings"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// RecordFields is the number of fields of a compound list record.
const RecordFields = 11

// Entry is a parsed compound list record, before its peaks are attached.
type Entry struct {
	Active bool   `json:"active" yaml:"active"`
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Group  string `json:"group,omitempty" yaml:"group,omitempty"`
	Record `json:",inline" yaml:",inline"`
}

// ParseRecord parses an ordered compound list record: active flag, id, name,
// BMRB id, HMDB id, peak file, format, group, PubChem id, KEGG id, SMILES.
func ParseRecord(fields []string) (Entry, error) {
	invalid := func(format string, args ...interface{}) error {
		return &optimization.Error{
			Message: fmt.Sprintf(format, args...),
			Op:      "ParseRecord",
			Err:     optimization.ErrInvalidParameter,
		}
	}
	if len(fields) != RecordFields {
		return Entry{}, invalid("there should be %d fields, the record has %d", RecordFields, len(fields))
	}

	var e Entry
	switch strings.ToUpper(strings.TrimSpace(fields[0])) {
	case "YES":
		e.Active = true
	case "NO":
	default:
		return Entry{}, invalid("active flag must be YES or NO, got %q", fields[0])
	}

	e.ID = strings.TrimSpace(fields[1])
	if e.ID == "" {
		return Entry{}, invalid("record has no compound id")
	}
	e.Name = strings.TrimSpace(fields[2])
	e.Group = NormalizeGroup(fields[7])
	e.Record = Record{
		BMRBID:    strings.ToLower(strings.TrimSpace(fields[3])),
		HMDBID:    strings.ToLower(strings.TrimSpace(fields[4])),
		PeakFile:  strings.TrimSpace(fields[5]),
		Format:    strings.ToUpper(strings.TrimSpace(fields[6])),
		PubChemID: strings.TrimSpace(fields[8]),
		KEGGID:    strings.ToUpper(strings.TrimSpace(fields[9])),
		SMILES:    strings.TrimSpace(fields[10]),
	}
	return e, nil
}

// Compound builds a compound from the entry and its peak list.
func (e Entry) Compound(peaks []Peak) (*Compound, error) {
	c, err := NewCompound(e.ID, e.Name, e.Group, e.Active, peaks)
	if err != nil {
		return nil, err
	}
	c.Record = e.Record
	return c, nil
}
