package utils

import (
	"encoding/json"
)

// Remarshal copies input into output through its JSON representation, so
// output only holds JSON types (float64, string, bool, nil, maps, slices).
func Remarshal(input interface{}, output interface{}) error {
	b, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, output)
}
