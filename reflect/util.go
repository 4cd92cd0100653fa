package reflect

import (
	"encoding/json"
	"strings"
)

// jsonLines accumulates one JSON object per line, the format tool results
// are rendered in — compact enough for the model to scan, and line-based so
// a later entry being malformed can't corrupt earlier ones.
type jsonLines struct {
	b strings.Builder
}

func (j *jsonLines) add(v any) {
	enc, err := json.Marshal(v)
	if err != nil {
		return
	}
	j.b.Write(enc)
	j.b.WriteByte('\n')
}

func (j *jsonLines) String() string {
	if j.b.Len() == 0 {
		return "no results"
	}
	return j.b.String()
}
