// Package marc implements the small slice of the bibliographic exchange
// format the harvester emits: records made of a leader, control fields and
// data fields with subfields, with MARC-XML and ISO 2709 serializations.
package marc

import (
	"sort"
	"strings"
)

// Tags used for origin bookkeeping; they are excluded from the record
// checksum because they change between runs without the content changing.
const (
	TagControlNumber = "001"
	TagURL           = "URL"
	TagZID           = "ZID"
	TagJournalName   = "JOU"
)

type Subfield struct {
	Code  byte
	Value string
}

// Field is either a control field (ControlValue set, no subfields) or a
// data field with indicators and subfields.
type Field struct {
	Tag          string
	Ind1         byte
	Ind2         byte
	ControlValue string
	Subfields    []Subfield
}

// IsControl reports whether the field is a control field. Local
// bookkeeping tags (URL, ZID, JOU) are treated as control fields too.
func (f *Field) IsControl() bool {
	return len(f.Subfields) == 0 && f.ControlValue != ""
}

// Subfield returns the first subfield with the given code, or "".
func (f *Field) Subfield(code byte) string {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return sf.Value
		}
	}
	return ""
}

// AddSubfield appends a subfield; empty values are dropped.
func (f *Field) AddSubfield(code byte, value string) *Field {
	if value != "" {
		f.Subfields = append(f.Subfields, Subfield{Code: code, Value: value})
	}
	return f
}

// Contents flattens the field for matching: control value, or all subfield
// values joined by spaces.
func (f *Field) Contents() string {
	if f.IsControl() {
		return f.ControlValue
	}
	values := make([]string, 0, len(f.Subfields))
	for _, sf := range f.Subfields {
		values = append(values, sf.Value)
	}
	return strings.Join(values, " ")
}

// Record is one catalog record. Fields are kept sorted by tag.
type Record struct {
	Leader string
	Fields []Field
}

// LeaderSerialComponentPart is the leader used for article-level records.
const LeaderSerialComponentPart = "00000nab a22000002  4500"

func NewRecord() *Record {
	return &Record{Leader: LeaderSerialComponentPart}
}

// insertIndex finds the insertion point keeping fields grouped and ordered
// by tag, with same-tag fields staying in insertion order.
func (r *Record) insertIndex(tag string) int {
	return sort.Search(len(r.Fields), func(i int) bool {
		return r.Fields[i].Tag > tag
	})
}

// InsertField adds the field at its tag-ordered position and returns a
// pointer valid until the next insertion.
func (r *Record) InsertField(field Field) *Field {
	i := r.insertIndex(field.Tag)
	r.Fields = append(r.Fields, Field{})
	copy(r.Fields[i+1:], r.Fields[i:])
	r.Fields[i] = field
	return &r.Fields[i]
}

// AddControlField inserts a control field with the given value.
func (r *Record) AddControlField(tag, value string) {
	r.InsertField(Field{Tag: tag, ControlValue: value})
}

// AddDataField inserts an empty data field and returns it for chaining
// AddSubfield calls.
func (r *Record) AddDataField(tag string, ind1, ind2 byte) *Field {
	return r.InsertField(Field{Tag: tag, Ind1: ind1, Ind2: ind2})
}

// FirstField returns the first field with the tag, or nil.
func (r *Record) FirstField(tag string) *Field {
	i := sort.Search(len(r.Fields), func(i int) bool {
		return r.Fields[i].Tag >= tag
	})
	if i < len(r.Fields) && r.Fields[i].Tag == tag {
		return &r.Fields[i]
	}
	return nil
}

// FieldsByTag returns all fields with the tag in order.
func (r *Record) FieldsByTag(tag string) []*Field {
	var out []*Field
	for i := range r.Fields {
		if r.Fields[i].Tag == tag {
			out = append(out, &r.Fields[i])
		}
	}
	return out
}

// RemoveFields drops every field with the tag for which match returns true.
func (r *Record) RemoveFields(tag string, match func(*Field) bool) int {
	removed := 0
	kept := r.Fields[:0]
	for i := range r.Fields {
		if r.Fields[i].Tag == tag && (match == nil || match(&r.Fields[i])) {
			removed++
			continue
		}
		kept = append(kept, r.Fields[i])
	}
	r.Fields = kept
	return removed
}

// RemoveSubfields drops the given subfield codes from every field with the
// tag; fields left without subfields are removed entirely.
func (r *Record) RemoveSubfields(tag string, codes string) {
	for _, f := range r.FieldsByTag(tag) {
		kept := f.Subfields[:0]
		for _, sf := range f.Subfields {
			if strings.IndexByte(codes, sf.Code) < 0 {
				kept = append(kept, sf)
			}
		}
		f.Subfields = kept
	}
	r.RemoveFields(tag, func(f *Field) bool {
		return !f.IsControl() && len(f.Subfields) == 0
	})
}

// ControlNumber returns the 001 value, or "".
func (r *Record) ControlNumber() string {
	if f := r.FirstField(TagControlNumber); f != nil {
		return f.ControlValue
	}
	return ""
}

// MainTitle returns the 245$a value, or "".
func (r *Record) MainTitle() string {
	if f := r.FirstField("245"); f != nil {
		return f.Subfield('a')
	}
	return ""
}
