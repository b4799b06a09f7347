package service

import (
	"context"
	"sort"

	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
)

// TreeNode is one batch in a lineage tree, annotated with the
// transformation rows that produced it. A merged batch carries one row per
// consumed source.
type TreeNode struct {
	Batch      *repository.Batch            `json:"batch"`
	ProducedBy []*repository.Transformation `json:"produced_by,omitempty"`
	Children   []*TreeNode                  `json:"children,omitempty"`
}

// TransformationTree is the full lineage around one batch: every root the
// batch descends from, expanded downward. Merges make the graph a DAG, so
// a batch can appear under more than one root.
type TransformationTree struct {
	BatchID string      `json:"batch_id"`
	Roots   []*TreeNode `json:"roots"`
}

// treeDepthLimit bounds traversal. Lineage is a DAG by construction
// (source_batch_id is immutable, set at creation), so this only guards
// against corrupted data.
const treeDepthLimit = 64

// GetTree reconstructs the transformation lineage around a batch by walking
// source/result edges in both directions.
func (s *TransformationService) GetTree(ctx context.Context, batchID string) (*TransformationTree, error) {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}

	rootIDs, err := s.collectRoots(ctx, batchID)
	if err != nil {
		return nil, err
	}

	tree := &TransformationTree{BatchID: batchID}
	for _, rootID := range rootIDs {
		node, err := s.buildSubtree(ctx, rootID, map[string]bool{}, 0)
		if err != nil {
			return nil, err
		}
		tree.Roots = append(tree.Roots, node)
	}
	return tree, nil
}

// collectRoots walks producer edges upward until it reaches batches nothing
// produced. A merge fans the walk out into several roots.
func (s *TransformationService) collectRoots(ctx context.Context, batchID string) ([]string, error) {
	visited := map[string]bool{}
	rootSet := map[string]bool{}
	frontier := []string{batchID}

	for depth := 0; len(frontier) > 0 && depth < treeDepthLimit; depth++ {
		next := []string{}
		for _, id := range frontier {
			if visited[id] {
				continue
			}
			visited[id] = true

			producers, err := s.transformations.ListByResultBatch(ctx, id)
			if err != nil {
				return nil, err
			}
			if len(producers) == 0 {
				rootSet[id] = true
				continue
			}
			for _, t := range producers {
				next = append(next, t.SourceBatchID)
			}
		}
		frontier = next
	}

	roots := make([]string, 0, len(rootSet))
	for id := range rootSet {
		roots = append(roots, id)
	}
	sort.Strings(roots)
	return roots, nil
}

func (s *TransformationService) buildSubtree(ctx context.Context, batchID string, visited map[string]bool, depth int) (*TreeNode, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	producedBy, err := s.transformations.ListByResultBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	node := &TreeNode{Batch: batch, ProducedBy: producedBy}
	if visited[batchID] || depth >= treeDepthLimit {
		return node, nil
	}
	visited[batchID] = true

	consumptions, err := s.transformations.ListBySourceBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	childSeen := map[string]bool{}
	for _, t := range consumptions {
		if t.ResultBatchID == nil || childSeen[*t.ResultBatchID] {
			continue
		}
		childSeen[*t.ResultBatchID] = true

		child, err := s.buildSubtree(ctx, *t.ResultBatchID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
