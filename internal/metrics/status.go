package metrics

import "sort"

// StatusBucket is the number of attempts of one call that ended with one status.
type StatusBucket struct {
	Call  string `json:"call" yaml:"call"`
	Code  string `json:"code" yaml:"code"`
	Count int    `json:"count" yaml:"count"`
}

// FlattenStatusBuckets converts a nested call->status map into a sorted slice of StatusBucket rows.
// Rows are sorted by descending count, then by call/code for stability.
func FlattenStatusBuckets(buckets map[string]map[string]int) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0)
	for call, codes := range buckets {
		for code, count := range codes {
			rows = append(rows, StatusBucket{Call: call, Code: code, Count: count})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Call == rows[j].Call {
				return rows[i].Code < rows[j].Code
			}
			return rows[i].Call < rows[j].Call
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
