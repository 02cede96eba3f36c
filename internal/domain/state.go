package domain

import "time"

// StateClass classifies a stored key, governing validation-hook bypass,
// encryption at rest, and retention.
type StateClass string

const (
	StateTrusted   StateClass = "trusted"
	StateStandard  StateClass = "standard"
	StateSensitive StateClass = "sensitive"
	StateEphemeral StateClass = "ephemeral"
)

// ClassForKey infers a StateClass from a key-prefix table when no
// explicit class was given on write. Unmatched keys default to Standard.
func ClassForKey(key string) StateClass {
	for _, rule := range keyClassRules {
		if len(key) >= len(rule.prefix) && key[:len(rule.prefix)] == rule.prefix {
			return rule.class
		}
	}
	return StateStandard
}

var keyClassRules = []struct {
	prefix string
	class  StateClass
}{
	{"secret:", StateSensitive},
	{"credential:", StateSensitive},
	{"temp:", StateEphemeral},
	{"cache:", StateEphemeral},
	{"benchmark:", StateTrusted},
	{"internal:", StateTrusted},
}

// StateEntry is the value the state manager persists for a key.
type StateEntry struct {
	Value     []byte            `json:"value"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Class     StateClass        `json:"class"`
}
