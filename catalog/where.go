package catalog

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dataview-sh/dataview/db/types"
)

// validateWhere checks a user-supplied filter expression against the split
// schema and rewrites it into safe SQL. Only column references, literals,
// comparisons, LIKE, IS [NOT] NULL, NOT, AND, OR and parentheses are
// accepted; anything else is rejected before touching the database.
func validateWhere(where string, columns []*Column) (string, error) {
	tokens, err := tokenizeWhere(where)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", types.InvalidInputError{Msg: "empty filter expression"}
	}

	known := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		known[col.Name] = struct{}{}
	}

	var sb strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			sb.WriteString(" ")
		}
		switch tok.kind {
		case tokenIdent:
			if _, ok := known[tok.text]; !ok {
				return "", types.InvalidInputError{
					Msg: fmt.Sprintf("unknown column '%s' in filter expression", tok.text),
				}
			}
			sb.WriteString(quoteIdent(tok.text))
		case tokenKeyword:
			sb.WriteString(strings.ToUpper(tok.text))
		default:
			sb.WriteString(tok.text)
		}
	}

	return sb.String(), nil
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenKeyword
	tokenString
	tokenNumber
	tokenOperator
	tokenParen
)

type token struct {
	kind tokenKind
	text string
}

var whereKeywords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "like": {}, "is": {}, "null": {},
	"true": {}, "false": {},
}

//nolint:cyclop,funlen // A tokenizer is one long switch by nature.
func tokenizeWhere(where string) ([]token, error) {
	var tokens []token
	runes := []rune(where)
	depth := 0

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			if r == '(' {
				depth++
			} else {
				depth--
				if depth < 0 {
					return nil, types.InvalidInputError{Msg: "unbalanced parentheses in filter expression"}
				}
			}
			tokens = append(tokens, token{kind: tokenParen, text: string(r)})
			i++
		case r == '\'':
			// String literal. Doubled quotes escape a quote.
			j := i + 1
			var sb strings.Builder
			sb.WriteRune('\'')
			closed := false
			for j < len(runes) {
				if runes[j] == '\'' {
					if j+1 < len(runes) && runes[j+1] == '\'' {
						sb.WriteString("''")
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				sb.WriteRune(runes[j])
				j++
			}
			if !closed {
				return nil, types.InvalidInputError{Msg: "unterminated string literal in filter expression"}
			}
			sb.WriteRune('\'')
			tokens = append(tokens, token{kind: tokenString, text: sb.String()})
			i = j
		case r == '"':
			// Quoted column reference.
			j := i + 1
			var sb strings.Builder
			closed := false
			for j < len(runes) {
				if runes[j] == '"' {
					closed = true
					j++
					break
				}
				sb.WriteRune(runes[j])
				j++
			}
			if !closed {
				return nil, types.InvalidInputError{Msg: "unterminated quoted column in filter expression"}
			}
			tokens = append(tokens, token{kind: tokenIdent, text: sb.String()})
			i = j
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			if _, ok := whereKeywords[strings.ToLower(word)]; ok {
				tokens = append(tokens, token{kind: tokenKeyword, text: word})
			} else {
				tokens = append(tokens, token{kind: tokenIdent, text: word})
			}
			i = j
		default:
			op, width := matchOperator(runes[i:])
			if op == "" {
				return nil, types.InvalidInputError{
					Msg: fmt.Sprintf("unexpected character %q in filter expression", r),
				}
			}
			tokens = append(tokens, token{kind: tokenOperator, text: op})
			i += width
		}
	}

	if depth != 0 {
		return nil, types.InvalidInputError{Msg: "unbalanced parentheses in filter expression"}
	}

	return tokens, nil
}

// matchOperator matches the longest comparison operator at the start of the
// input.
func matchOperator(runes []rune) (string, int) {
	ops := []string{"<=", ">=", "!=", "<>", "=", "<", ">"}
	for _, op := range ops {
		if len(runes) >= len(op) && string(runes[:len(op)]) == op {
			return op, len(op)
		}
	}

	return "", 0
}
