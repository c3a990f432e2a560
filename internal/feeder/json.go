package feeder

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// readJSON expects an array of flat objects. Scalar values are kept as their
// string form; nested values keep their raw JSON text.
func readJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode JSON %s: invalid document", path)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("decode JSON %s: expected an array of objects", path)
	}

	var (
		records []Record
		bad     error
	)
	doc.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			bad = fmt.Errorf("record %d is not an object", len(records))
			return false
		}
		rec := Record{}
		item.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() || value.IsArray() {
				rec[key.String()] = value.Raw
			} else {
				rec[key.String()] = value.String()
			}
			return true
		})
		if len(rec) == 0 {
			bad = fmt.Errorf("record %d is empty", len(records))
			return false
		}
		records = append(records, rec)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return records, nil
}
