package marc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	fieldTerminator  = 0x1e
	recordTerminator = 0x1d
	subfieldDelim    = 0x1f
)

// Binary renders the record in ISO 2709 framing. The result is the blob
// archived in the delivery store.
func (r *Record) Binary() []byte {
	var directory bytes.Buffer
	var data bytes.Buffer

	for _, f := range r.Fields {
		start := data.Len()
		if f.IsControl() {
			data.WriteString(f.ControlValue)
		} else {
			data.WriteByte(f.Ind1)
			data.WriteByte(f.Ind2)
			for _, sf := range f.Subfields {
				data.WriteByte(subfieldDelim)
				data.WriteByte(sf.Code)
				data.WriteString(sf.Value)
			}
		}
		data.WriteByte(fieldTerminator)
		// Local bookkeeping tags are longer than 3 bytes; the directory
		// stores them verbatim since the blob is only read back by us.
		fmt.Fprintf(&directory, "%-3s%04d%05d", f.Tag, data.Len()-start, start)
	}
	directory.WriteByte(fieldTerminator)

	baseAddress := 24 + directory.Len()
	recordLength := baseAddress + data.Len() + 1

	leader := []byte(r.Leader)
	if len(leader) < 24 {
		leader = append(leader, bytes.Repeat([]byte{' '}, 24-len(leader))...)
	}
	copy(leader[0:5], fmt.Sprintf("%05d", recordLength))
	copy(leader[12:17], fmt.Sprintf("%05d", baseAddress))

	var out bytes.Buffer
	out.Grow(recordLength)
	out.Write(leader[:24])
	out.Write(directory.Bytes())
	out.Write(data.Bytes())
	out.WriteByte(recordTerminator)
	return out.Bytes()
}

// Checksum hashes the record excluding the volatile bookkeeping fields
// (001, URL, ZID, JOU) so that re-harvests of unchanged content produce the
// same hash. Lowercase hex.
func (r *Record) Checksum() string {
	excluded := map[string]bool{
		TagControlNumber: true,
		TagURL:           true,
		TagZID:           true,
		TagJournalName:   true,
	}

	fields := make([]Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		if !excluded[f.Tag] {
			fields = append(fields, f)
		}
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Tag < fields[j].Tag })

	h := xxhash.New()
	for _, f := range fields {
		h.WriteString(f.Tag)
		if f.IsControl() {
			h.WriteString(f.ControlValue)
		} else {
			h.Write([]byte{f.Ind1, f.Ind2})
			for _, sf := range f.Subfields {
				h.Write([]byte{subfieldDelim, sf.Code})
				h.WriteString(sf.Value)
			}
		}
		h.Write([]byte{fieldTerminator})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// MARC-XML structures, namespace per LOC slim schema.

type xmlSubfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

type xmlControlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

type xmlDataField struct {
	Tag       string        `xml:"tag,attr"`
	Ind1      string        `xml:"ind1,attr"`
	Ind2      string        `xml:"ind2,attr"`
	Subfields []xmlSubfield `xml:"subfield"`
}

type xmlRecord struct {
	XMLName       xml.Name          `xml:"record"`
	Leader        string            `xml:"leader"`
	ControlFields []xmlControlField `xml:"controlfield"`
	DataFields    []xmlDataField    `xml:"datafield"`
}

// XML renders the record as a MARC-XML <record> element, indented for
// diffable output files.
func (r *Record) XML() ([]byte, error) {
	x := xmlRecord{Leader: r.Leader}
	for _, f := range r.Fields {
		if f.IsControl() {
			x.ControlFields = append(x.ControlFields, xmlControlField{Tag: f.Tag, Value: f.ControlValue})
			continue
		}
		df := xmlDataField{Tag: f.Tag, Ind1: indicator(f.Ind1), Ind2: indicator(f.Ind2)}
		for _, sf := range f.Subfields {
			df.Subfields = append(df.Subfields, xmlSubfield{Code: string(sf.Code), Value: sf.Value})
		}
		x.DataFields = append(x.DataFields, df)
	}
	return xml.MarshalIndent(x, "  ", "  ")
}

func indicator(b byte) string {
	if b == 0 || b == ' ' {
		return " "
	}
	return string(b)
}

// CollectionHeader and CollectionTrailer frame a MARC-XML output file.
const CollectionHeader = xml.Header +
	`<collection xmlns="http://www.loc.gov/MARC21/slim">` + "\n"

const CollectionTrailer = "</collection>\n"

// TruncateSubfield shortens a value to the subfield maximum, appending an
// ellipsis when it was cut.
func TruncateSubfield(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := strings.TrimRight(value[:max-3], " ")
	return cut + "..."
}
