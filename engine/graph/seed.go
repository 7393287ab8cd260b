package graph

import "context"

// Bootstrap ensures the graph has a global scope node so every Brick can be
// assigned a scope even before any deployment-specific ones are declared.
func (g *GraphStore) Bootstrap(ctx context.Context) error {
	_, err := g.RegisterNode(ctx, NodeScope, globalScope, map[string]any{
		"name":        "global",
		"description": "visible to every recall regardless of allowed_scopes",
	}, false)
	return err
}

// sanitizeID converts a name to a lowercase dash-separated ID, used when a
// caller needs a stable node id derived from free text (e.g. a scope
// segment or a topic display name).
func sanitizeID(name string) string {
	b := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b = append(b, c+32)
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b = append(b, c)
		case c == ' ' || c == '/' || c == '_':
			if len(b) > 0 && b[len(b)-1] != '-' {
				b = append(b, '-')
			}
		}
	}
	if len(b) > 0 && b[len(b)-1] == '-' {
		b = b[:len(b)-1]
	}
	return string(b)
}
