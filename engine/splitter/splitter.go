// Package splitter flattens a branching Conversation into linear Source Runs
// via depth-first traversal, one Source Run per root-to-leaf path.
package splitter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nexuscore/nexus/engine/domain"
)

// richIngestEnv toggles per-block typed capture and provenance/tiered
// metadata, matching the original NEXUS_RICH_INGEST switch: legacy mode
// collapses every part to one flat text string.
const richIngestEnv = "NEXUS_RICH_INGEST"

func richIngestEnabled() bool {
	return strings.EqualFold(os.Getenv(richIngestEnv), "true")
}

// Split converts a Conversation into its Source Runs. The caller is
// responsible for persisting each one (see engine/pgstore).
func Split(conv domain.Conversation) ([]domain.SourceRun, error) {
	if err := domain.ValidateConversation(conv); err != nil {
		return nil, err
	}

	roots := findRoots(conv.Mapping)
	var allPaths [][]string
	for _, root := range roots {
		dfsPaths(conv.Mapping, root, nil, &allPaths)
	}

	rich := richIngestEnabled()
	runs := make([]domain.SourceRun, 0, len(allPaths))
	for _, path := range allPaths {
		runID := pathHash(path)
		messages := make([]domain.NormalizedMessage, 0, len(path))
		for depth, nodeID := range path {
			node := conv.Mapping[nodeID]
			msg, ok := normalizeMessage(node, conv.ID, runID, depth, rich)
			if !ok {
				continue
			}
			msg.Index = len(messages)
			messages = append(messages, msg)
		}
		if len(messages) == 0 {
			// Empty paths are skipped, not an error.
			continue
		}
		runs = append(runs, domain.SourceRun{
			ID:                 runID,
			RawContent:         domain.RawContent{Messages: messages},
			LastProcessedIndex: -1,
			Status:             domain.RunClosed,
		})
	}
	return runs, nil
}

func findRoots(mapping map[string]domain.ConversationNode) []string {
	var roots []string
	for id, node := range mapping {
		if node.Parent == "" {
			roots = append(roots, id)
		}
	}
	return roots
}

func dfsPaths(mapping map[string]domain.ConversationNode, nodeID string, path []string, paths *[][]string) {
	node := mapping[nodeID]
	newPath := append(append([]string{}, path...), nodeID)

	if len(node.Children) == 0 {
		*paths = append(*paths, newPath)
		return
	}
	for _, child := range node.Children {
		dfsPaths(mapping, child, newPath, paths)
	}
}

func pathHash(path []string) string {
	sum := sha256.Sum256([]byte(strings.Join(path, ">")))
	return hex.EncodeToString(sum[:])[:16]
}

// normalizeMessage renders one conversation node into a NormalizedMessage.
// Non-string parts are rendered as bracketed type tags in the flat text to
// keep JSON-path addressing stable.
func normalizeMessage(node domain.ConversationNode, convID, runID string, depth int, rich bool) (domain.NormalizedMessage, bool) {
	if node.Message == nil {
		return domain.NormalizedMessage{}, false
	}
	msg := node.Message
	if len(msg.Parts) == 0 {
		return domain.NormalizedMessage{}, false
	}

	var textParts []string
	var blocks []domain.ContentBlock
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case string:
			textParts = append(textParts, p)
			if rich {
				blockType := domain.BlockText
				if msg.ContentType == "code" {
					blockType = domain.BlockCode
				}
				blocks = append(blocks, domain.ContentBlock{Type: blockType, Text: p})
			}
		case map[string]any:
			partType, _ := p["type"].(string)
			if partType == "" {
				partType = "unknown"
			}
			tag := fmt.Sprintf("[%s]", strings.ToUpper(partType))
			textParts = append(textParts, tag)
			if rich {
				blocks = append(blocks, domain.ContentBlock{Type: domain.BlockTool, Text: tag})
			}
		}
	}

	role := msg.Role
	if role == "" {
		role = "unknown"
	}
	modelName := msg.ModelName
	if modelName == "" {
		modelName = "unknown"
	}

	out := domain.NormalizedMessage{
		MessageID: firstNonEmpty(msg.ID, ""),
		Role:      role,
		Content:   strings.Join(textParts, "\n"),
		ModelName: modelName,
		CreatedAt: utcTimestamp(msg.CreateTime),
	}
	if rich {
		out.ContentBlocks = blocks
		out.Provenance = domain.Provenance{
			ConversationID: convID,
			MappingID:      msg.ID,
			PathID:         runID,
			BranchDepth:    depth,
		}
	}
	return out, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func utcTimestamp(ts *float64) string {
	if ts == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	sec := int64(*ts)
	nsec := int64((*ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}

// RunFingerprint returns the stable hash used as a Source Run's id for an
// already-traversed path of node ids — exposed for callers (e.g. cmd/sync)
// that need to precompute a run id before calling Split.
func RunFingerprint(nodeIDs []string) string {
	return pathHash(nodeIDs)
}
