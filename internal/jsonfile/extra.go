package jsonfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Extra holds top-level fields of a document that its Go type does not
// declare, so that they survive a load/save cycle.
type Extra map[string]json.RawMessage

// SplitExtra decodes the top-level object in data and returns the members
// whose names are not in known.
func SplitExtra(data []byte, known ...string) (Extra, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return Extra(all), nil
}

// AppendExtra adds the members of extra to the JSON object in obj, in key
// order. Members already present in obj win.
func AppendExtra(obj []byte, extra Extra) ([]byte, error) {
	if len(extra) == 0 {
		return obj, nil
	}
	obj = bytes.TrimSpace(obj)
	if len(obj) < 2 || obj[0] != '{' || obj[len(obj)-1] != '}' {
		return nil, fmt.Errorf("appending extra fields: not a JSON object")
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(obj, &present); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if _, ok := present[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(obj[:len(obj)-1])
	first := len(present) == 0
	for _, k := range keys {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		name, _ := json.Marshal(k)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
