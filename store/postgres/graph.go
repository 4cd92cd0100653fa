package postgres

import (
	"context"
	"fmt"

	engine "github.com/membank/engine"
)

// pairRow mirrors one (edge type, node id) request row so it can be
// unnested into a derived table and LATERAL-joined against memory_links.
type pairRow struct {
	edgeType string
	nodeID   string
}

// BatchNeighbours fetches, for each (edgeType, nodeID) pair, the top-fanOut
// neighbours by raw weight in one round-trip via a LATERAL JOIN against the
// unnested pair list (§4.4 MPFP's per-hop neighbour fetch).
func (s *Store) BatchNeighbours(ctx context.Context, bank string, pairs []engine.EdgeTypeNode, fanOut int) (map[engine.EdgeTypeNode][]engine.Neighbour, error) {
	out := make(map[engine.EdgeTypeNode][]engine.Neighbour, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	if fanOut <= 0 {
		fanOut = 20
	}

	edgeTypes := make([]string, len(pairs))
	nodeIDs := make([]string, len(pairs))
	for i, p := range pairs {
		edgeTypes[i] = string(p.EdgeType)
		nodeIDs[i] = p.NodeID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT pairs.edge_type, pairs.node_id, n.to_unit, n.weight
		FROM unnest($1::text[], $2::text[]) AS pairs(edge_type, node_id)
		CROSS JOIN LATERAL (
			SELECT to_unit, weight
			FROM memory_links
			WHERE bank = $3 AND link_type = pairs.edge_type AND from_unit = pairs.node_id
			ORDER BY weight DESC
			LIMIT $4
		) AS n`,
		edgeTypes, nodeIDs, bank, fanOut)
	if err != nil {
		return nil, fmt.Errorf("postgres: batch neighbours: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r pairRow
		var n engine.Neighbour
		if err := rows.Scan(&r.edgeType, &r.nodeID, &n.NodeID, &n.Weight); err != nil {
			return nil, fmt.Errorf("postgres: scan neighbour: %w", err)
		}
		key := engine.EdgeTypeNode{EdgeType: engine.LinkType(r.edgeType), NodeID: r.nodeID}
		out[key] = append(out[key], n)
	}

	// Every requested pair gets an entry, even if empty, so the caller's
	// cache never re-queries a pair with no edges.
	for _, p := range pairs {
		if _, ok := out[p]; !ok {
			out[p] = nil
		}
	}
	return out, rows.Err()
}
