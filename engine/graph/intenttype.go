package graph

import (
	"regexp"
	"sort"
	"strings"
)

// IntentType classifies the rhetorical shape of an Intent node's statement:
// what kind of claim it is, independent of its topic or scope.
type IntentType string

const (
	IntentDecision     IntentType = "decision"
	IntentConstraint   IntentType = "constraint"
	IntentPreference   IntentType = "preference"
	IntentFact         IntentType = "fact"
	IntentOpenQuestion IntentType = "open_question"
	IntentActionItem   IntentType = "action_item"
)

// intentKeywords maps each IntentType to the phrases whose presence votes
// for it. Every matching phrase adds its length to its category's score,
// so a longer phrase such as "must not" outweighs a shorter one such as
// "prefer".
var intentKeywords = map[IntentType][]string{
	IntentDecision:     {"we decided", "we will use", "we chose", "going with", "decision is", "agreed to"},
	IntentConstraint:   {"must not", "must always", "never allow", "required to", "has to", "cannot"},
	IntentPreference:   {"prefer", "would rather", "instead of", "favor", "lean toward"},
	IntentOpenQuestion: {"not sure", "unclear whether", "need to figure out", "tbd", "open question", "?"},
	IntentActionItem:   {"todo", "follow up", "need to", "action item", "next step"},
	IntentFact:         {"is a", "is the", "consists of", "returns", "equals"},
}

var intentPatterns map[IntentType][]*regexp.Regexp

func init() {
	intentPatterns = make(map[IntentType][]*regexp.Regexp, len(intentKeywords))
	for typ, phrases := range intentKeywords {
		sorted := append([]string(nil), phrases...)
		sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
		for _, p := range sorted {
			intentPatterns[typ] = append(intentPatterns[typ], regexp.MustCompile(regexp.QuoteMeta(p)))
		}
	}
}

// ClassifyIntentType scores statement against every category's keyword set
// and returns the best match. A statement matching no keywords at all
// classifies as IntentFact, the default shape for a bare claim.
func ClassifyIntentType(statement string) IntentType {
	lower := strings.ToLower(statement)

	best := IntentFact
	bestScore := 0
	for typ, patterns := range intentPatterns {
		score := 0
		for _, re := range patterns {
			if re.MatchString(lower) {
				score += len(re.String())
			}
		}
		if score > bestScore {
			bestScore = score
			best = typ
		}
	}
	return best
}
