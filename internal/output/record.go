package output

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/chatcrawler/pkg/tabular"
)

// Field is one named cell of a record.
type Field struct {
	Name  string
	Value string
}

// Record is a table row keyed by header. Field order follows the header, and
// JSON and YAML encodings keep that order.
type Record []Field

// RecordsFrom converts every row of t into a Record.
func RecordsFrom(t tabular.Table) []Record {
	recs := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(Record, len(t.Headers))
		for i, h := range t.Headers {
			rec[i] = Field{Name: h}
			if i < len(row) {
				rec[i].Value = row[i]
			}
		}
		recs = append(recs, rec)
	}
	return recs
}

// Get returns the value of the first field named name.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalJSON encodes the record as an object with keys in header order.
// Repeated header names keep the first value.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(r))
	first := true
	for _, f := range r {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		if !first {
			buf.WriteByte(',')
		}
		first = false

		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML encodes the record as a mapping with keys in header order.
func (r Record) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	seen := make(map[string]bool, len(r))
	for _, f := range r {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Value},
		)
	}
	return node, nil
}
