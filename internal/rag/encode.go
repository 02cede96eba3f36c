package rag

import "encoding/json"

func encodeChunk(c Chunk) ([]byte, error) { return json.Marshal(c) }

func decodeChunk(raw []byte) (Chunk, error) {
	var c Chunk
	err := json.Unmarshal(raw, &c)
	return c, err
}

// ordinalFromMetadata recovers an int ordinal from a vector backend's
// metadata map, which may have round-tripped through JSON (turning it
// into a float64) depending on the backend implementation.
func ordinalFromMetadata(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
