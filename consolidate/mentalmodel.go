package consolidate

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	engine "github.com/membank/engine"
)

// refreshTriggeredModels re-runs Reflect for up to maxRefreshedModels
// mental models flagged refresh_after_consolidation, replacing their
// content with the fresh answer (§4.3 step 4).
func (w *Worker) refreshTriggeredModels(ctx context.Context, bank string, now int64) {
	models, err := w.Store.GetMentalModelsByTrigger(ctx, bank, true, maxRefreshedModels)
	if err != nil {
		w.logger().Warn("consolidate: fetch triggered models failed", "bank", bank, "err", err)
		return
	}

	for _, model := range models {
		// Tag security: a tagged model may only refresh from evidence
		// carrying every one of its own tags, never from untagged or
		// partially-tagged memories (mental_model_trigger.py's tags_match).
		tagMatch := engine.TagMatchAny
		if len(model.Tags) > 0 {
			tagMatch = engine.TagMatchAllStrict
		}
		result, err := w.Reflector.Reflect(ctx, bank, model.SourceQuery, model.Tags, tagMatch, []string{model.ID}, autoGenMaxIterations)
		if err != nil {
			w.logger().Warn("consolidate: model refresh failed", "bank", bank, "model", model.ID, "err", err)
			continue
		}
		if utf8.RuneCountInString(result.Answer) < autoGenMinAnswerRunes {
			continue
		}

		embedding, err := embedOne(ctx, w.Embedding, result.Answer)
		if err != nil {
			w.logger().Warn("consolidate: model refresh embed failed", "bank", bank, "model", model.ID, "err", err)
			continue
		}

		model.Content = result.Answer
		model.Embedding = embedding
		model.SourceObservationIDs = result.ObservationIDs
		model.LastRefreshedAt = now
		model.UpdatedAt = now
		if err := w.Store.UpdateMentalModel(ctx, model); err != nil {
			w.logger().Warn("consolidate: model refresh save failed", "bank", bank, "model", model.ID, "err", err)
		}
	}
}

// autoGenerateModels creates up to maxAutoGeneratedModels new mental models
// for entities touched this iteration that now have at least
// autoGenMinObservations linked observations and no existing model (§4.3
// step 5).
func (w *Worker) autoGenerateModels(ctx context.Context, bank string, bankRecord engine.Bank, touched map[string]bool, now int64) {
	if len(touched) == 0 {
		return
	}

	entityIDs := make([]string, 0, len(touched))
	for id := range touched {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	counts, err := w.Store.EntitiesLinkedObservationCount(ctx, bank, entityIDs)
	if err != nil {
		w.logger().Warn("consolidate: entity observation counts failed", "bank", bank, "err", err)
		return
	}

	entities, err := w.Store.ListEntities(ctx, bank)
	if err != nil {
		w.logger().Warn("consolidate: list entities failed", "bank", bank, "err", err)
		return
	}
	nameByID := make(map[string]string, len(entities))
	for _, e := range entities {
		nameByID[e.ID] = e.CanonicalName
	}

	var generated int
	for _, entityID := range entityIDs {
		if generated >= maxAutoGeneratedModels {
			return
		}
		if counts[entityID] < autoGenMinObservations {
			continue
		}

		name := nameByID[entityID]
		if name == "" {
			continue
		}

		if _, ok, err := w.Store.GetMentalModelByEntity(ctx, bank, entityID); err != nil {
			w.logger().Warn("consolidate: model-by-entity lookup failed", "bank", bank, "entity", entityID, "err", err)
			continue
		} else if ok {
			continue
		}
		if _, ok, err := w.Store.FindMentalModelByNameSimilarity(ctx, bank, name, autoGenNameSimilarity); err != nil {
			w.logger().Warn("consolidate: model-by-name lookup failed", "bank", bank, "entity", entityID, "err", err)
			continue
		} else if ok {
			continue
		}

		query := buildAutoGenQuery(name, bankRecord.Mission)
		result, err := w.Reflector.Reflect(ctx, bank, query, nil, engine.TagMatchAny, nil, autoGenMaxIterations)
		if err != nil {
			w.logger().Warn("consolidate: auto-generate reflect failed", "bank", bank, "entity", entityID, "err", err)
			continue
		}
		if utf8.RuneCountInString(result.Answer) < autoGenMinAnswerRunes {
			continue
		}

		embedding, err := embedOne(ctx, w.Embedding, result.Answer)
		if err != nil {
			w.logger().Warn("consolidate: auto-generate embed failed", "bank", bank, "entity", entityID, "err", err)
			continue
		}

		model := engine.MentalModel{
			ID:                   engine.NewID(),
			Bank:                 bank,
			Name:                 name,
			Content:              result.Answer,
			Embedding:            embedding,
			SourceQuery:          query,
			EntityID:             entityID,
			SourceObservationIDs: result.ObservationIDs,
			Trigger:              engine.MentalModelTrigger{RefreshAfterConsolidation: true},
			LastRefreshedAt:      now,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := w.Store.InsertMentalModel(ctx, model); err != nil {
			w.logger().Warn("consolidate: auto-generate insert failed", "bank", bank, "entity", entityID, "err", err)
			continue
		}
		generated++
	}
}

func buildAutoGenQuery(entityName, mission string) string {
	query := fmt.Sprintf("%sについて、これまでの全ての記憶から包括的にまとめてください。", entityName)
	if mission != "" {
		query += fmt.Sprintf("[ミッション「%s」の観点を含めてください。]", mission)
	}
	return query
}
