package network

import (
	"context"
	"fmt"

	"fibermap/core-go/internal/topology"
)

// ImportSummary reports what an Import changed.
type ImportSummary struct {
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Connections int `json:"connections"`
	// Skipped lists items whose parents appear neither in the file nor in the network.
	Skipped []string `json:"skipped,omitempty"`
}

// Import merges a topology file into the network. The file is validated as a whole first; items
// then go through Add or Edit parents first, so each is persisted with its calculated power. A
// failure part way leaves the items already written in place and reports them in the summary.
func (s *Service) Import(ctx context.Context, f topology.File) (ImportSummary, error) {
	var sum ImportSummary

	// stage the merged network: file items replace current items with the same id
	inFile := make(map[string]struct{}, len(f.Items))
	for _, it := range f.Items {
		inFile[it.ID] = struct{}{}
	}
	merged := make([]topology.Item, 0, len(f.Items))
	for _, it := range s.graph.Snapshot().Items() {
		if _, ok := inFile[it.ID]; !ok {
			merged = append(merged, it)
		}
	}
	merged = append(merged, f.Items...)

	scratch := topology.NewGraph()
	skipped, _, err := scratch.Load(merged, f.Connections)
	if err != nil {
		return sum, fmt.Errorf("validate import: %w", err)
	}
	for _, id := range skipped {
		if _, ok := inFile[id]; ok {
			sum.Skipped = append(sum.Skipped, id)
		}
	}

	staged := scratch.Snapshot()
	for _, it := range importOrder(staged, f.Items) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if s.graph.Snapshot().Has(it.ID) {
			if _, err := s.Edit(ctx, it); err != nil {
				return sum, fmt.Errorf("update %s: %w", it.ID, err)
			}
			sum.Updated++
			continue
		}
		if _, err := s.Add(ctx, it); err != nil {
			return sum, fmt.Errorf("create %s: %w", it.ID, err)
		}
		sum.Created++
	}

	for _, c := range f.Connections {
		if !staged.Has(c.ParentID) || !staged.Has(c.ChildID) {
			continue
		}
		if err := s.SaveConnection(ctx, c); err != nil {
			return sum, fmt.Errorf("connection %s -> %s: %w", c.ParentID, c.ChildID, err)
		}
		sum.Connections++
	}

	s.log.Info().
		Int("created", sum.Created).
		Int("updated", sum.Updated).
		Int("connections", sum.Connections).
		Int("skipped", len(sum.Skipped)).
		Msg("topology imported")
	return sum, nil
}

// importOrder returns the file's items that made it into staged, each after all of its parents.
func importOrder(staged *topology.Snapshot, items []topology.Item) []topology.Item {
	pending := make([]topology.Item, 0, len(items))
	inFile := make(map[string]struct{}, len(items))
	for _, raw := range items {
		it, ok := staged.Item(raw.ID)
		if !ok {
			continue
		}
		if _, dup := inFile[it.ID]; dup {
			continue
		}
		inFile[it.ID] = struct{}{}
		pending = append(pending, it)
	}

	placed := make(map[string]struct{}, len(pending))
	out := make([]topology.Item, 0, len(pending))
	for len(pending) > 0 {
		var rest []topology.Item
		for _, it := range pending {
			ready := true
			for _, pid := range it.ParentIDs() {
				_, fromFile := inFile[pid]
				_, done := placed[pid]
				if fromFile && !done {
					ready = false
					break
				}
			}
			if !ready {
				rest = append(rest, it)
				continue
			}
			placed[it.ID] = struct{}{}
			out = append(out, it)
		}
		if len(rest) == len(pending) {
			break
		}
		pending = rest
	}
	return out
}
