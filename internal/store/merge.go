package store

import (
	"encoding/json"
	"fmt"
)

// Merge overlays patch on current. Nested objects are merged key by key;
// any other value in patch, null included, replaces the current one.
func Merge(current, patch json.RawMessage) (json.RawMessage, error) {
	var p map[string]any
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("merge patch must be an object: %w", err)
	}
	c := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &c); err != nil || c == nil {
			c = map[string]any{}
		}
	}
	mergeInto(c, p)
	out, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	return out, nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		existing, ok := dst[k].(map[string]any)
		if !ok {
			existing = map[string]any{}
		}
		mergeInto(existing, sub)
		dst[k] = existing
	}
}

// Resolve returns the value to store for a set with the given merge flag.
func Resolve(current json.RawMessage, exists bool, data json.RawMessage, merge bool) (json.RawMessage, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("document data is not valid JSON")
	}
	if !merge || !exists {
		if merge {
			return Merge(nil, data)
		}
		return data, nil
	}
	return Merge(current, data)
}
