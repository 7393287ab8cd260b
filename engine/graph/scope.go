package graph

import (
	"context"
	"strings"
)

// globalScope is never subject to ACL filtering: recall always admits it.
const globalScope = "global"

// EnsureScopeChain creates a dotted scope path ("org.team.project") as a
// chain of Scope nodes, each one DEPENDS_ON its parent, creating only the
// segments that don't already exist. It returns the leaf scope id.
func (g *GraphStore) EnsureScopeChain(ctx context.Context, dotted string) (string, error) {
	segments := strings.Split(dotted, ".")
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		var parentID string
		var built strings.Builder
		for i, seg := range segments {
			if i > 0 {
				built.WriteByte('.')
			}
			built.WriteString(seg)
			id := built.String()

			if _, found, err := getNodeTx(ctx, tx, id); err != nil {
				return nil, err
			} else if !found {
				n := Node{ID: id, Type: NodeScope, Data: map[string]any{"name": seg}}
				if err := putNodeTx(ctx, tx, n); err != nil {
					return nil, err
				}
			}
			if parentID != "" {
				if _, err := registerEdgeTx(ctx, tx, id, parentID, EdgeDependsOn, nil); err != nil {
					return nil, err
				}
			}
			parentID = id
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "."), nil
}

// EffectiveScopes walks DEPENDS_ON edges transitively from every scope in
// allowed, returning the union of allowed plus every ancestor reached. The
// global scope is always implicitly effective.
func (g *GraphStore) EffectiveScopes(ctx context.Context, allowed []string) (map[string]bool, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.ExecuteRead(ctx, func(tx CypherRunner) (any, error) {
		effective := map[string]bool{globalScope: true}
		for _, scope := range allowed {
			effective[scope] = true
			if err := collectAncestorsTx(ctx, tx, scope, effective); err != nil {
				return nil, err
			}
		}
		return effective, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]bool), nil
}

func collectAncestorsTx(ctx context.Context, tx CypherRunner, scope string, into map[string]bool) error {
	parents, err := edgeTargetsTx(ctx, tx, scope, EdgeDependsOn)
	if err != nil {
		return err
	}
	for _, p := range parents {
		if into[p] {
			continue
		}
		into[p] = true
		if err := collectAncestorsTx(ctx, tx, p, into); err != nil {
			return err
		}
	}
	return nil
}

// ScopeAllows reports whether a brick's scope is admitted given the
// effective scope set resolved above.
func ScopeAllows(brickScope string, effective map[string]bool) bool {
	if brickScope == "" || brickScope == globalScope {
		return true
	}
	return effective[brickScope]
}

// DefaultScopeName is the scope every Compiler-materialised Brick is
// implicitly visible under absent a narrower assignment.
func DefaultScopeName() string { return globalScope }
