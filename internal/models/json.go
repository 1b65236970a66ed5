package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

func marshalPair(label string, count int) ([]byte, error) {
	return json.Marshal([]any{label, count})
}

func (c *CountEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("count entry: expected [label, count], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.Label); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &c.Count)
}
