package ppl

import (
	"strings"

	"github.com/tinytelemetry/sightline/internal/model"
)

// SplitSource locates the source/index assignment in the first stage of
// query and returns the index token and everything after it. ok is false
// when no assignment with a non-empty value exists.
func SplitSource(query string) (index, remainder string, ok bool) {
	tokens := Tokenize(query)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Kind == TokenPipe {
			return "", "", false
		}
		if tok.Kind != TokenWord || !isSourceKeyword(tok.Text) {
			continue
		}
		j := skipSpace(tokens, i+1)
		if j >= len(tokens) || tokens[j].Kind != TokenEquals {
			continue
		}
		j = skipSpace(tokens, j+1)
		var b strings.Builder
		end := -1
		for ; j < len(tokens); j++ {
			k := tokens[j].Kind
			if k != TokenWord && k != TokenString && k != TokenIdent {
				break
			}
			b.WriteString(tokens[j].Text)
			end = tokens[j].End
		}
		if end < 0 {
			return "", "", false
		}
		return b.String(), query[end:], true
	}
	return "", "", false
}

// IndexSource returns the token following source= or index=, or "".
func IndexSource(query string) string {
	index, _, _ := SplitSource(query)
	return index
}

// Stages splits query on top-level pipes, ignoring pipes inside quotes.
// Stages are trimmed; empty stages are kept so positions stay stable.
func Stages(query string) []string {
	var stages []string
	last := 0
	for _, tok := range Tokenize(query) {
		if tok.Kind == TokenPipe {
			stages = append(stages, strings.TrimSpace(query[last:tok.Start]))
			last = tok.End
		}
	}
	return append(stages, strings.TrimSpace(query[last:]))
}

// HasPatternsStage reports whether any piped stage is a patterns command.
func HasPatternsStage(query string) bool {
	stages := Stages(query)
	for _, stage := range stages[1:] {
		cmd, _, _ := strings.Cut(stage, " ")
		if strings.EqualFold(cmd, "patterns") {
			return true
		}
	}
	return false
}

// StripBackticks removes every backtick from s.
func StripBackticks(s string) string {
	return strings.ReplaceAll(s, "`", "")
}

// EscapeLiteral doubles single quotes so s can sit inside a '...' literal.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// UnescapeLiteral reverses EscapeLiteral.
func UnescapeLiteral(s string) string {
	return strings.ReplaceAll(s, "''", "'")
}

// ComposeBaseAndUser keeps a locked base query as the leftmost stage. A user
// query that already contains the base verbatim is returned unchanged.
func ComposeBaseAndUser(base, user string) string {
	switch {
	case base == "":
		return user
	case user == "":
		return base
	case strings.Contains(user, base):
		return user
	}
	return base + "| " + user
}

// PatternsClause builds the clustering stage for field, optionally filtered
// down to a single pattern value.
func PatternsClause(field, regex, filtered string) string {
	var b strings.Builder
	b.WriteString("| patterns ")
	if regex != "" && regex != model.DefaultPatternRegex {
		b.WriteString("pattern='")
		b.WriteString(EscapeLiteral(regex))
		b.WriteString("' ")
	}
	b.WriteString(field)
	if filtered != "" {
		b.WriteString(" | where ")
		b.WriteString(model.PatternsField)
		b.WriteString("='")
		b.WriteString(EscapeLiteral(filtered))
		b.WriteString("'")
	}
	return b.String()
}

func isSourceKeyword(word string) bool {
	return strings.EqualFold(word, "source") || strings.EqualFold(word, "index")
}

func skipSpace(tokens []Token, i int) int {
	for i < len(tokens) && tokens[i].Kind == TokenSpace {
		i++
	}
	return i
}
