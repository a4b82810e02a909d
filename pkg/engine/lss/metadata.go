package lss

import "encoding/json"

// mergeMetadata decodes metadata as a JSON object (treating nil/empty
// as {}), sets key to value, and re-encodes it. This mirrors the
// teacher's json.Marshal/json.Unmarshal tag-handling idiom
// (pkg/dcb/event_store.go's tagMap round-trip) applied to metadata
// instead of tags.
func mergeMetadata(metadata []byte, key, value string) ([]byte, error) {
	fields := map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &fields); err != nil {
			return nil, err
		}
	}
	fields[key] = value
	return json.Marshal(fields)
}
