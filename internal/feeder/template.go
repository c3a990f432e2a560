package feeder

import "strings"

// Expand copies inputs, replacing every {{field}} with the record's value.
// Placeholders naming a missing field are left as written. Record fields
// never become inputs on their own because the workflow rejects undeclared
// inputs.
func Expand(inputs map[string]string, rec Record) map[string]string {
	out := make(map[string]string, len(inputs)+1)
	for k, v := range inputs {
		out[k] = substitute(v, rec)
	}
	return out
}

func substitute(template string, rec Record) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	result := template
	for key, value := range rec {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}
