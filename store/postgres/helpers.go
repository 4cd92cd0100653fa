package postgres

import (
	"encoding/json"

	engine "github.com/membank/engine"
)

// jsonOrNil marshals v to a *string for a JSONB column, returning nil when v
// is the zero value (empty slice/map), matching the teacher's optional-JSONB
// pattern in store/postgres/postgres.go (thread/chunk metadata).
func jsonOrNil(v any) *string {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil
		}
	case []engine.HistoryEntry:
		if len(t) == 0 {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	s := string(data)
	return &s
}

func unmarshalStrings(raw []byte, out *[]string) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}

func unmarshalHistory(raw []byte, out *[]engine.HistoryEntry) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}

func notFound(kind, id string) error {
	return &engine.ErrInvariant{Invariant: kind + "_exists", Detail: "no " + kind + " with id " + id}
}
