package comm

import "encoding/json"

// Serializer defines the contract for serializing and deserializing wire
// frames, so the transport can swap formats without touching the framing
// code.
type Serializer interface {
	// Marshal serializes a Go struct (e.g. ServerMessage) into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a Go struct.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// DefaultJSONSerializer is the default JSON implementation.
type DefaultJSONSerializer struct{}

func (s *DefaultJSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *DefaultJSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
