// Package ppl implements the small slice of the piped processing language
// grammar needed to compose queries: a tokenizer that understands quoting and
// pipe stages, index extraction, literal escaping and clause builders.
package ppl

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord   TokenKind = iota // bare word, operator or number
	TokenSpace                   // run of whitespace
	TokenPipe                    // |
	TokenEquals                  // =
	TokenString                  // '...' or "..."
	TokenIdent                   // `...`
)

// Token is one lexical unit. Start and End are byte offsets into the input,
// so query[Start:End] == Text.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
}

// Tokenize splits a query into tokens. Unterminated quotes run to the end of
// the input. Inside single quotes a doubled quote (”) is part of the literal.
func Tokenize(query string) []Token {
	var tokens []Token
	i := 0
	for i < len(query) {
		start := i
		c := query[i]
		switch {
		case isSpace(c):
			for i < len(query) && isSpace(query[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenSpace, Text: query[start:i], Start: start, End: i})
		case c == '|':
			i++
			tokens = append(tokens, Token{Kind: TokenPipe, Text: "|", Start: start, End: i})
		case c == '=':
			i++
			tokens = append(tokens, Token{Kind: TokenEquals, Text: "=", Start: start, End: i})
		case c == '\'' || c == '"':
			i = scanQuoted(query, i, c)
			tokens = append(tokens, Token{Kind: TokenString, Text: query[start:i], Start: start, End: i})
		case c == '`':
			i = scanQuoted(query, i, '`')
			tokens = append(tokens, Token{Kind: TokenIdent, Text: query[start:i], Start: start, End: i})
		default:
			for i < len(query) && isWordByte(query[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenWord, Text: query[start:i], Start: start, End: i})
		}
	}
	return tokens
}

// scanQuoted returns the offset just past the closing quote that matches the
// one at query[open].
func scanQuoted(query string, open int, quote byte) int {
	i := open + 1
	for i < len(query) {
		c := query[i]
		switch {
		case c == '\\' && quote == '"' && i+1 < len(query):
			i += 2
			continue
		case c == quote:
			if quote == '\'' && i+1 < len(query) && query[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(query)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordByte(c byte) bool {
	switch c {
	case '|', '=', '\'', '"', '`':
		return false
	}
	return !isSpace(c)
}
