package services

import "strings"

// SynonymPair is one literal find/replace rule.
type SynonymPair struct {
	From string
	To   string
}

// ParseSynonyms reads "from=to" lines. Leading spaces on the left side are kept so a
// rule can strip them; only its trailing spaces and the right side's leading spaces go.
// An empty right side deletes the match.
func ParseSynonyms(text string) []SynonymPair {
	var pairs []SynonymPair
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		from := strings.TrimRight(line[:idx], " \t\r\n\f\v")
		to := strings.TrimLeft(line[idx+1:], " \t\r\n\f\v")
		if from == "" {
			continue
		}
		pairs = append(pairs, SynonymPair{From: from, To: to})
	}
	return pairs
}

// ApplySynonyms replaces every occurrence of each pair in order. Later pairs see the
// output of earlier ones.
func ApplySynonyms(input string, pairs []SynonymPair) string {
	out := input
	for _, p := range pairs {
		if p.From == "" {
			continue
		}
		out = strings.ReplaceAll(out, p.From, p.To)
	}
	return out
}

// synonymRules is the parsed per-field rule set for one ingest call.
type synonymRules struct {
	name     []SynonymPair
	content  []SynonymPair
	playFrom []SynonymPair
	area     []SynonymPair
	lang     []SynonymPair
}

func newSynonymRules(cs CollectSettings) synonymRules {
	if !cs.EnableSynonyms {
		return synonymRules{}
	}
	return synonymRules{
		name:     ParseSynonyms(cs.NameSynonymsText),
		content:  ParseSynonyms(cs.ContentSynonymsText),
		playFrom: ParseSynonyms(cs.PlayFromSynonymsText),
		area:     ParseSynonyms(cs.AreaSynonymsText),
		lang:     ParseSynonyms(cs.LangSynonymsText),
	}
}
