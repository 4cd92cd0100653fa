package reflect

import "log/slog"

// doneArgs is the parsed payload of a done tool call.
type doneArgs struct {
	Answer              string   `json:"answer"`
	MemoryIDs           []string `json:"memory_ids"`
	MentalModelIDs      []string `json:"mental_model_ids"`
	ObservationIDs      []string `json:"observation_ids"`
	DirectiveCompliance []string `json:"directive_compliance,omitempty"`
}

// errNoEvidence is returned by the evidence guardrail to force another loop
// iteration instead of accepting an unsupported answer (§4.9 step 4).
type errNoEvidence struct{}

func (errNoEvidence) Error() string {
	return "done was called with no cited evidence and nothing has been gathered yet; search before answering"
}

// checkEvidence rejects a done call that cites nothing and has gathered
// nothing, unless this is the last allowed iteration (in which case the
// caller falls through to returning whatever was produced).
func checkEvidence(args doneArgs, available *availableIDs, isLastIteration bool) error {
	citedNothing := len(args.MemoryIDs) == 0 && len(args.MentalModelIDs) == 0 && len(args.ObservationIDs) == 0
	if citedNothing && !isLastIteration && available.empty() {
		return errNoEvidence{}
	}
	return nil
}

// validateIDs drops any cited id not present in the corresponding
// available_*_ids set, logging how many were dropped per tier (§4.9 step 4
// ID validation).
func validateIDs(args doneArgs, available *availableIDs, logger *slog.Logger) doneArgs {
	args.MemoryIDs, _ = filterKnown(args.MemoryIDs, available.memory, "memory_ids", logger)
	args.MentalModelIDs, _ = filterKnown(args.MentalModelIDs, available.mentalModel, "mental_model_ids", logger)
	args.ObservationIDs, _ = filterKnown(args.ObservationIDs, available.observation, "observation_ids", logger)
	return args
}

func filterKnown(ids []string, known map[string]bool, field string, logger *slog.Logger) ([]string, int) {
	out := make([]string, 0, len(ids))
	dropped := 0
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		} else {
			dropped++
		}
	}
	if dropped > 0 && logger != nil {
		logger.Warn("reflect: dropped uncited-in-tool-results ids", "field", field, "dropped", dropped)
	}
	return out, dropped
}
