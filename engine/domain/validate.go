package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns — SQL/NoSQL fragments that should never appear in a
// recall query, since a vector-recall query is exposed to the same class of
// abuse any user-supplied search string is.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`),
}

const minQueryLength = 3

// ValidateRecallQuery validates a query string handed to recall() or the
// cognition assembler before any embedding call is made.
func ValidateRecallQuery(text string) error {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minQueryLength {
		return NewValidationError("query", trimmed, ErrQueryTooShort)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(trimmed) {
			return NewValidationError("query", trimmed, ErrInputShape)
		}
	}
	return nil
}

// ValidateTopicDefinition rejects a Topic whose extraction contract is too
// thin to ground a compiler prompt.
func ValidateTopicDefinition(d TopicDefinition) error {
	if strings.TrimSpace(d.ScopeDescription) == "" {
		return NewValidationError("scope_description", d.ScopeDescription, ErrInvariantViolation)
	}
	return nil
}

// ValidateConversation rejects conversation dumps whose shape the tree
// splitter cannot safely process: a missing id, an empty mapping, or a
// mapping entry whose parent or child id is not itself in the mapping.
func ValidateConversation(c Conversation) error {
	if strings.TrimSpace(c.ID) == "" {
		return NewValidationError("id", c.ID, ErrInputShape)
	}
	if len(c.Mapping) == 0 {
		return NewValidationError("mapping", "", ErrInputShape)
	}
	for id, node := range c.Mapping {
		if node.Parent != "" {
			if _, ok := c.Mapping[node.Parent]; !ok {
				return NewValidationError("mapping", id, ErrInputShape)
			}
		}
		for _, child := range node.Children {
			if _, ok := c.Mapping[child]; !ok {
				return NewValidationError("mapping", fmt.Sprintf("%s->%s", id, child), ErrInputShape)
			}
		}
	}
	return nil
}
