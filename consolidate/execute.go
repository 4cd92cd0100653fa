package consolidate

import (
	"context"
	"fmt"

	engine "github.com/membank/engine"
)

// processFact adjudicates one fact against its related observations and
// executes the resulting create/update action (§4.3 steps 2-3). It returns
// the action taken ("create", "update", or "" for no durable knowledge) and
// the entity IDs linked to the fact, for the caller's mental-model trigger
// bookkeeping.
func (w *Worker) processFact(ctx context.Context, bank string, fact engine.MemoryUnit, mission string, now int64) (string, []string, error) {
	entityIDs, err := w.Store.GetEntityIDsForUnit(ctx, bank, fact.ID)
	if err != nil {
		return "", nil, err
	}

	related, err := w.findRelatedObservations(ctx, bank, fact)
	if err != nil {
		return "", nil, err
	}

	decision, ok, err := adjudicate(ctx, w.Provider, fact, related, mission)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", entityIDs, nil
	}

	switch decision.Action {
	case "create":
		if err := w.createObservation(ctx, bank, fact, decision, now); err != nil {
			return "", nil, err
		}
		return "create", entityIDs, nil
	case "update":
		if err := w.updateObservation(ctx, bank, fact, decision, related, now); err != nil {
			return "", nil, err
		}
		return "update", entityIDs, nil
	default:
		return "", entityIDs, nil
	}
}

// findRelatedObservations fetches up to 10 observations semantically close
// to fact, each carrying up to 5 of its source memories (§4.3 step 2a).
func (w *Worker) findRelatedObservations(ctx context.Context, bank string, fact engine.MemoryUnit) ([]relatedObservation, error) {
	embedding := fact.Embedding
	if len(embedding) == 0 {
		emb, err := embedOne(ctx, w.Embedding, fact.Text)
		if err != nil {
			return nil, err
		}
		embedding = emb
	}

	candidates, err := w.Store.SearchUnitsSemantic(ctx, bank, embedding, relatedObservationScore, 0, relatedObservationLimit, engine.UnitFilter{
		FactTypes: []engine.FactType{engine.FactObservation},
	})
	if err != nil {
		return nil, err
	}

	out := make([]relatedObservation, 0, len(candidates))
	for _, c := range candidates {
		sourceIDs := c.SourceMemoryIDs
		if len(sourceIDs) > relatedSourcesPerModel {
			sourceIDs = sourceIDs[:relatedSourcesPerModel]
		}
		var sources []engine.MemoryUnit
		if len(sourceIDs) > 0 {
			sources, err = w.Store.GetUnitsByIDs(ctx, bank, sourceIDs)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, relatedObservation{ID: c.ID, Text: c.Text, Sources: sources})
	}
	return out, nil
}

// createObservation inserts a brand-new Observation unit carrying the fact
// as its sole source (§4.3 step 2b, create).
func (w *Worker) createObservation(ctx context.Context, bank string, fact engine.MemoryUnit, decision adjudication, now int64) error {
	embedding, err := embedOne(ctx, w.Embedding, decision.Text)
	if err != nil {
		return err
	}

	obs := engine.MemoryUnit{
		ID:              engine.NewID(),
		Bank:            bank,
		Text:            decision.Text,
		FactType:        engine.FactObservation,
		ProofCount:      1,
		SourceMemoryIDs: []string{fact.ID},
		MentionedAt:     now,
		CreatedAt:       now,
		Embedding:       embedding,
		FreshnessStatus: engine.FreshnessNew,
	}
	if fact.OccurredStart != nil {
		start := *fact.OccurredStart
		obs.OccurredStart = &start
	}
	if fact.OccurredEnd != nil {
		end := *fact.OccurredEnd
		obs.OccurredEnd = &end
	}
	return w.Store.InsertUnit(ctx, obs)
}

// updateObservation appends a history entry, idempotently extends the
// source list, regenerates the embedding, and widens the temporal envelope
// of an existing Observation (§4.3 step 2b, update).
func (w *Worker) updateObservation(ctx context.Context, bank string, fact engine.MemoryUnit, decision adjudication, related []relatedObservation, now int64) error {
	var target *relatedObservation
	for i := range related {
		if related[i].ID == decision.LearningID {
			target = &related[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("consolidate: update references unknown observation %q", decision.LearningID)
	}

	obs, err := w.Store.GetUnit(ctx, bank, decision.LearningID)
	if err != nil {
		return err
	}

	embedding, err := embedOne(ctx, w.Embedding, decision.Text)
	if err != nil {
		return err
	}

	previousText := obs.Text
	obs.Text = decision.Text
	obs.Embedding = embedding
	obs.History = append(obs.History, engine.HistoryEntry{
		PreviousText:   previousText,
		ChangedAt:      now,
		Reason:         decision.Reason,
		SourceMemoryID: fact.ID,
	})

	if !containsID(obs.SourceMemoryIDs, fact.ID) {
		obs.SourceMemoryIDs = append(obs.SourceMemoryIDs, fact.ID)
	}
	obs.ProofCount = len(obs.SourceMemoryIDs)

	if fact.OccurredStart != nil {
		if obs.OccurredStart == nil || *fact.OccurredStart < *obs.OccurredStart {
			start := *fact.OccurredStart
			obs.OccurredStart = &start
		}
	}
	if fact.OccurredEnd != nil {
		if obs.OccurredEnd == nil || *fact.OccurredEnd > *obs.OccurredEnd {
			end := *fact.OccurredEnd
			obs.OccurredEnd = &end
		}
	}

	return w.Store.UpdateObservation(ctx, obs)
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
