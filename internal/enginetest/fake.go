// Package enginetest provides in-memory fakes for engine.Store,
// engine.Provider, engine.EmbeddingProvider, and engine.Reranker shared by
// every pipeline package's tests, mirroring the teacher's in-package stub
// types (agentmemory_test.go's stubStore/stubEmbedding) but factored out
// since this module's pipelines span multiple packages.
package enginetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	engine "github.com/membank/engine"
)

// Store is an in-memory engine.Store. Create it with New: the zero value
// has nil maps, so its first write panics.
type Store struct {
	mu sync.Mutex

	Units         map[string]engine.MemoryUnit   // id -> unit
	Entities      map[string]engine.Entity       // id -> entity
	UnitEntities  map[string][]string            // unit id -> entity ids
	Cooccur       map[string]engine.EntityCooccurrence
	Links         []engine.MemoryLink
	MentalModels  map[string]engine.MentalModel
	Chunks        map[string][]engine.Chunk // unit id -> chunks
	BankRecord    map[string]engine.Bank

	// FindSimilarFn, when set, replaces FindSimilarUnit's default scan (same
	// bank and fact kind, best-time inside the window when one is given,
	// cosine >= minScore).
	FindSimilarFn func(bank string, kind engine.FactKind, window *engine.TemporalWindow, embedding []float32, minScore float32) (engine.MemoryUnit, bool)
}

// New returns an empty, ready-to-use Store fake.
func New() *Store {
	return &Store{
		Units:        map[string]engine.MemoryUnit{},
		Entities:     map[string]engine.Entity{},
		UnitEntities: map[string][]string{},
		Cooccur:      map[string]engine.EntityCooccurrence{},
		MentalModels: map[string]engine.MentalModel{},
		Chunks:       map[string][]engine.Chunk{},
		BankRecord:   map[string]engine.Bank{},
	}
}

func (s *Store) Init(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) InsertUnit(_ context.Context, u engine.MemoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.Units[u.ID] = u
	return nil
}

func (s *Store) PersistFact(_ context.Context, u engine.MemoryUnit, newNames []string, matchedNames map[string]string, at int64) (engine.MemoryUnit, map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := map[string]string{}
	for name, id := range matchedNames {
		resolved[name] = id
		e := s.Entities[id]
		e.MentionCount++
		e.LastSeen = at
		s.Entities[id] = e
	}
	for _, name := range newNames {
		id := uuid.NewString()
		s.Entities[id] = engine.Entity{ID: id, Bank: u.Bank, CanonicalName: name, MentionCount: 1, LastSeen: at}
		resolved[name] = id
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.Units[u.ID] = u

	var entityIDs []string
	for _, id := range resolved {
		entityIDs = append(entityIDs, id)
	}
	s.UnitEntities[u.ID] = entityIDs

	return u, resolved, nil
}

func (s *Store) GetUnit(_ context.Context, _, id string) (engine.MemoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Units[id]
	if !ok {
		return engine.MemoryUnit{}, errNotFound(id)
	}
	return u, nil
}

func (s *Store) GetUnitsByIDs(_ context.Context, _ string, ids []string) ([]engine.MemoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.MemoryUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.Units[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) UpdateObservation(_ context.Context, u engine.MemoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Units[u.ID] = u
	return nil
}

func (s *Store) MarkConsolidated(_ context.Context, _, id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.Units[id]
	u.ConsolidatedAt = &at
	s.Units[id] = u
	return nil
}

func (s *Store) SetFreshness(_ context.Context, _, id string, status engine.FreshnessStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.Units[id]
	u.FreshnessStatus = status
	s.Units[id] = u
	return nil
}

func (s *Store) SearchUnitsSemantic(_ context.Context, bank string, embedding []float32, minScore float32, perTypeLimit, totalLimit int, filter engine.UnitFilter) ([]engine.ScoredUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.ScoredUnit
	for _, u := range s.Units {
		if u.Bank != bank || !matchesFilter(u, filter) {
			continue
		}
		score := cosine(embedding, u.Embedding)
		if score < minScore {
			continue
		}
		out = append(out, engine.ScoredUnit{MemoryUnit: u, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if totalLimit > 0 && len(out) > totalLimit {
		out = out[:totalLimit]
	}
	return out, nil
}

func (s *Store) SearchUnitsKeyword(_ context.Context, bank string, keywords []string, perTypeLimit, totalLimit int, filter engine.UnitFilter) ([]engine.ScoredUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.ScoredUnit
	for _, u := range s.Units {
		if u.Bank != bank || !matchesFilter(u, filter) {
			continue
		}
		var best float32
		hay := strings.ToLower(u.Text + " " + u.Context)
		for _, kw := range keywords {
			if strings.Contains(hay, strings.ToLower(kw)) {
				best = 1.0
			}
		}
		if best <= 0 {
			continue
		}
		out = append(out, engine.ScoredUnit{MemoryUnit: u, Score: best})
	}
	if totalLimit > 0 && len(out) > totalLimit {
		out = out[:totalLimit]
	}
	return out, nil
}

func (s *Store) SearchUnitsTemporal(_ context.Context, bank string, embedding []float32, window engine.TemporalWindow, minScore float32, limit int, filter engine.UnitFilter) ([]engine.ScoredUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.ScoredUnit
	for _, u := range s.Units {
		if u.Bank != bank || !matchesFilter(u, filter) {
			continue
		}
		t := u.BestTime()
		if t < window.Start || t > window.End {
			continue
		}
		score := cosine(embedding, u.Embedding)
		if score < minScore {
			continue
		}
		out = append(out, engine.ScoredUnit{MemoryUnit: u, Score: score})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UnconsolidatedBatch(_ context.Context, bank string, limit int) ([]engine.MemoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.MemoryUnit
	for _, u := range s.Units {
		if u.Bank != bank || u.ConsolidatedAt != nil {
			continue
		}
		if u.FactType != engine.FactWorld && u.FactType != engine.FactExperience {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListObservations(_ context.Context, bank string) ([]engine.MemoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.MemoryUnit
	for _, u := range s.Units {
		if u.Bank == bank && u.FactType == engine.FactObservation {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) FindSimilarUnit(_ context.Context, bank string, kind engine.FactKind, window *engine.TemporalWindow, embedding []float32, minScore float32) (engine.MemoryUnit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindSimilarFn != nil {
		u, ok := s.FindSimilarFn(bank, kind, window, embedding, minScore)
		return u, ok, nil
	}
	for _, u := range s.Units {
		if u.Bank != bank || u.FactKind != kind {
			continue
		}
		if window != nil {
			t := u.BestTime()
			if t < window.Start || t > window.End {
				continue
			}
		}
		if cosine(embedding, u.Embedding) >= minScore {
			return u, true, nil
		}
	}
	return engine.MemoryUnit{}, false, nil
}

func (s *Store) Banks(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, u := range s.Units {
		if !seen[u.Bank] {
			seen[u.Bank] = true
			out = append(out, u.Bank)
		}
	}
	return out, nil
}

func (s *Store) GetBank(_ context.Context, id string) (engine.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.BankRecord[id]
	if !ok {
		return engine.Bank{ID: id}, nil
	}
	return b, nil
}

func (s *Store) ListEntities(_ context.Context, bank string) ([]engine.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Entity
	for _, e := range s.Entities {
		if e.Bank == bank {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetCooccurrenceMap(_ context.Context, bank string) (map[string]map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]map[string]bool{}
	for _, c := range s.Cooccur {
		if c.Bank != bank {
			continue
		}
		n1 := strings.ToLower(s.Entities[c.EntityID1].CanonicalName)
		n2 := strings.ToLower(s.Entities[c.EntityID2].CanonicalName)
		if out[c.EntityID1] == nil {
			out[c.EntityID1] = map[string]bool{}
		}
		if out[c.EntityID2] == nil {
			out[c.EntityID2] = map[string]bool{}
		}
		out[c.EntityID1][n2] = true
		out[c.EntityID2][n1] = true
	}
	return out, nil
}

func (s *Store) InsertUnitEntities(_ context.Context, links []engine.UnitEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		s.UnitEntities[l.UnitID] = append(s.UnitEntities[l.UnitID], l.EntityID)
	}
	return nil
}

func (s *Store) GetEntityIDsForUnit(_ context.Context, _, unitID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UnitEntities[unitID], nil
}

func (s *Store) UpsertEntitiesByName(_ context.Context, bank string, names []string, at int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, name := range names {
		id := uuid.NewString()
		s.Entities[id] = engine.Entity{ID: id, Bank: bank, CanonicalName: name, MentionCount: 1, LastSeen: at}
		out[name] = id
	}
	return out, nil
}

func (s *Store) BumpEntities(_ context.Context, _ string, ids []string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e := s.Entities[id]
		e.MentionCount++
		e.LastSeen = at
		s.Entities[id] = e
	}
	return nil
}

func (s *Store) UpsertCooccurrences(_ context.Context, pairs []engine.EntityCooccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		key := p.EntityID1 + "|" + p.EntityID2
		existing, ok := s.Cooccur[key]
		if ok {
			existing.CooccurrenceCount++
			existing.LastCooccurred = p.LastCooccurred
			s.Cooccur[key] = existing
		} else {
			p.CooccurrenceCount = 1
			s.Cooccur[key] = p
		}
	}
	return nil
}

func (s *Store) EntitiesLinkedObservationCount(_ context.Context, bank string, entityIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, id := range entityIDs {
		counts[id] = 0
	}
	for unitID, ids := range s.UnitEntities {
		u, ok := s.Units[unitID]
		if !ok || u.Bank != bank || u.FactType != engine.FactObservation {
			continue
		}
		for _, id := range ids {
			if _, want := counts[id]; want {
				counts[id]++
			}
		}
	}
	return counts, nil
}

func (s *Store) UpsertLinks(_ context.Context, links []engine.MemoryLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, l := range s.Links {
		seen[linkKey(l)] = true
	}
	for _, l := range links {
		k := linkKey(l)
		if seen[k] {
			continue
		}
		seen[k] = true
		s.Links = append(s.Links, l)
	}
	return nil
}

func linkKey(l engine.MemoryLink) string {
	return strings.Join([]string{l.FromUnit, l.ToUnit, string(l.LinkType), l.EntityID}, "|")
}

func (s *Store) UnitsNearTime(_ context.Context, bank string, window engine.TemporalWindow, excludeIDs []string, limit int) ([]engine.MemoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	excl := map[string]bool{}
	for _, id := range excludeIDs {
		excl[id] = true
	}
	var out []engine.MemoryUnit
	for _, u := range s.Units {
		if u.Bank != bank || excl[u.ID] {
			continue
		}
		t := u.BestTime()
		if t < window.Start || t > window.End {
			continue
		}
		out = append(out, u)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecentUnitsForEntity(_ context.Context, bank, entityID string, limit int) ([]engine.MemoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.MemoryUnit
	for unitID, ids := range s.UnitEntities {
		for _, id := range ids {
			if id != entityID {
				continue
			}
			u, ok := s.Units[unitID]
			if ok && u.Bank == bank {
				out = append(out, u)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MentionedAt > out[j].MentionedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LinksFromUnits(_ context.Context, bank string, unitIDs []string, types []engine.LinkType, minWeight float32) ([]engine.MemoryLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range unitIDs {
		want[id] = true
	}
	typeOK := map[engine.LinkType]bool{}
	for _, t := range types {
		typeOK[t] = true
	}
	var out []engine.MemoryLink
	for _, l := range s.Links {
		if l.Bank != bank || !want[l.FromUnit] || !typeOK[l.LinkType] || l.Weight < minWeight {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) BatchNeighbours(_ context.Context, bank string, pairs []engine.EdgeTypeNode, fanOut int) (map[engine.EdgeTypeNode][]engine.Neighbour, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[engine.EdgeTypeNode][]engine.Neighbour, len(pairs))
	for _, p := range pairs {
		var neighbours []engine.Neighbour
		for _, l := range s.Links {
			if l.Bank != bank || l.LinkType != p.EdgeType || l.FromUnit != p.NodeID {
				continue
			}
			neighbours = append(neighbours, engine.Neighbour{NodeID: l.ToUnit, Weight: l.Weight})
		}
		sort.Slice(neighbours, func(i, j int) bool { return neighbours[i].Weight > neighbours[j].Weight })
		if fanOut > 0 && len(neighbours) > fanOut {
			neighbours = neighbours[:fanOut]
		}
		out[p] = neighbours
	}
	return out, nil
}

func (s *Store) InsertMentalModel(_ context.Context, m engine.MentalModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.MentalModels[m.ID] = m
	return nil
}

func (s *Store) UpdateMentalModel(_ context.Context, m engine.MentalModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MentalModels[m.ID] = m
	return nil
}

func (s *Store) DeleteMentalModel(_ context.Context, _, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.MentalModels, id)
	return nil
}

func (s *Store) GetMentalModelsByTrigger(_ context.Context, bank string, refreshAfterConsolidation bool, limit int) ([]engine.MentalModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.MentalModel
	for _, m := range s.MentalModels {
		if m.Bank == bank && m.Trigger.RefreshAfterConsolidation == refreshAfterConsolidation {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetMentalModelByEntity(_ context.Context, bank, entityID string) (engine.MentalModel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.MentalModels {
		if m.Bank == bank && m.EntityID == entityID {
			return m, true, nil
		}
	}
	return engine.MentalModel{}, false, nil
}

func (s *Store) FindMentalModelByNameSimilarity(_ context.Context, bank, name string, minScore float32) (engine.MentalModel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.MentalModels {
		if m.Bank == bank && strings.EqualFold(m.Name, name) {
			return m, true, nil
		}
	}
	return engine.MentalModel{}, false, nil
}

func (s *Store) SearchMentalModels(_ context.Context, bank string, embedding []float32, minScore float32, limit int, tags []string, tagMatch engine.TagMatch, excludeIDs []string) ([]engine.ScoredModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	excl := map[string]bool{}
	for _, id := range excludeIDs {
		excl[id] = true
	}
	var out []engine.ScoredModel
	for _, m := range s.MentalModels {
		if m.Bank != bank || excl[m.ID] {
			continue
		}
		score := cosine(embedding, m.Embedding)
		if score < minScore {
			continue
		}
		out = append(out, engine.ScoredModel{MentalModel: m, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetChunksForUnits(_ context.Context, _ string, unitIDs []string) ([]engine.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Chunk
	for _, id := range unitIDs {
		out = append(out, s.Chunks[id]...)
	}
	return out, nil
}

var _ engine.Store = (*Store)(nil)

func matchesFilter(u engine.MemoryUnit, f engine.UnitFilter) bool {
	if len(f.FactTypes) > 0 {
		ok := false
		for _, ft := range f.FactTypes {
			if u.FactType == ft {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

func errNotFound(id string) error {
	return &engine.ErrInvariant{Invariant: "unit_exists", Detail: "no unit with id " + id}
}
