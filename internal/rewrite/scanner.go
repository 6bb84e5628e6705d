package rewrite

import (
	"errors"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// token is a significant lexeme of the source. Start and End are byte
// offsets into the source.
type token struct {
	tt    js.TokenType
	text  string
	start int
	end   int
}

func (t token) word() bool {
	return t.text != "" && js.IsIdentifierStart([]byte(t.text))
}

func (t token) is(text string) bool {
	return t.tt != js.StringToken && t.text == text
}

// Keywords after which a slash starts a regular expression literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// tokenize lexes src and drops whitespace and comments. The lexer reports
// every slash as division; one in operand position is re-read as a
// regular expression literal.
func tokenize(src string) []token {
	pos := 0
	if strings.HasPrefix(src, "#!") {
		pos = strings.IndexByte(src, '\n')
		if pos < 0 {
			return nil
		}
	}

	l := js.NewLexer(parse.NewInputString(src[pos:]))
	var toks []token
	for {
		tt, data := l.Next()
		if tt == js.ErrorToken {
			err := l.Err()
			if errors.Is(err, io.EOF) {
				break
			}
			rewriteLogger.Trace("Lexing at offset %d: %v", pos, err)
		}
		if (tt == js.DivToken || tt == js.DivEqToken) && regexAllowed(toks) {
			tt, data = l.RegExp()
		}
		start := pos
		pos += len(data)
		switch tt {
		case js.ErrorToken, js.WhitespaceToken, js.LineTerminatorToken, js.CommentToken, js.CommentLineTerminatorToken:
			continue
		}
		toks = append(toks, token{tt: tt, text: string(data), start: start, end: pos})
	}
	return toks
}

// regexAllowed decides whether a slash following toks opens a regular
// expression literal rather than a division.
func regexAllowed(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	prev := toks[len(toks)-1]
	switch prev.tt {
	case js.StringToken, js.TemplateToken, js.TemplateEndToken, js.RegExpToken, js.PrivateIdentifierToken,
		js.CloseParenToken, js.CloseBracketToken:
		return false
	case js.TemplateStartToken, js.TemplateMiddleToken:
		return true
	}
	if js.IsNumeric(prev.tt) {
		return false
	}
	if prev.word() {
		return regexKeywords[prev.text]
	}
	return true
}

// scanner walks the tokens of a source unit looking for module
// specifiers. Declarations are only recognised outside any bracket.
type scanner struct {
	toks  []token
	i     int
	depth int
	specs []Specifier
}

func scan(src string) []Specifier {
	s := &scanner{toks: tokenize(src)}
	s.run()
	return s.specs
}

func (s *scanner) at(i int) (token, bool) {
	if i < 0 || i >= len(s.toks) {
		return token{}, false
	}
	return s.toks[i], true
}

func (s *scanner) run() {
	for s.i < len(s.toks) {
		t := s.toks[s.i]
		switch t.tt {
		case js.OpenBraceToken, js.OpenParenToken, js.OpenBracketToken, js.TemplateStartToken:
			s.depth++
		case js.CloseBraceToken, js.CloseParenToken, js.CloseBracketToken, js.TemplateEndToken:
			if s.depth > 0 {
				s.depth--
			}
		}
		if t.word() && !s.memberAccess() {
			switch {
			case t.text == "import" && s.depth == 0:
				if s.importDecl() {
					continue
				}
			case t.text == "export" && s.depth == 0:
				if s.exportDecl() {
					continue
				}
			case t.text == "require":
				if s.requireCall() {
					continue
				}
			}
		}
		s.i++
	}
}

func (s *scanner) memberAccess() bool {
	prev, ok := s.at(s.i - 1)
	return ok && (prev.tt == js.DotToken || prev.tt == js.OptChainToken)
}

// record adds the string token at i as a specifier of the given kind.
func (s *scanner) record(i int, kind Kind) bool {
	t, ok := s.at(i)
	if !ok || t.tt != js.StringToken || len(t.text) < 2 {
		return false
	}
	s.specs = append(s.specs, Specifier{
		Value: t.text[1 : len(t.text)-1],
		Kind:  kind,
		Start: t.start + 1,
		End:   t.end - 1,
	})
	return true
}

// skipBraces returns the index after the brace that closes the one at i.
func (s *scanner) skipBraces(i int) int {
	depth := 0
	for ; i < len(s.toks); i++ {
		switch s.toks[i].tt {
		case js.OpenBraceToken:
			depth++
		case js.CloseBraceToken:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

// importDecl parses the declaration starting at an "import" keyword and
// reports whether it consumed any tokens.
func (s *scanner) importDecl() bool {
	next, ok := s.at(s.i + 1)
	if !ok {
		return false
	}
	switch {
	case next.tt == js.OpenParenToken || next.tt == js.DotToken:
		// dynamic import() and import.meta are left alone
		return false
	case next.tt == js.StringToken:
		s.record(s.i+1, KindImport)
		s.i += 2
		return true
	}
	s.i = s.fromClause(s.i+1, KindImport)
	return true
}

// exportDecl parses what follows an "export" keyword. Only re-exports
// ("export * from", "export { a } from") carry a specifier.
func (s *scanner) exportDecl() bool {
	j := s.i + 1
	next, ok := s.at(j)
	if !ok {
		return false
	}
	if next.is("type") {
		if after, ok := s.at(j + 1); ok && (after.tt == js.OpenBraceToken || after.tt == js.MulToken) {
			j++
			next = after
		}
	}
	switch next.tt {
	case js.MulToken:
		s.i = s.fromClause(j+1, KindExport)
		return true
	case js.OpenBraceToken:
		j = s.skipBraces(j)
		if from, ok := s.at(j); ok && from.is("from") && s.record(j+1, KindExport) {
			j += 2
		}
		s.i = j
		return true
	}
	return false
}

// fromClause consumes binding names from i up to "from" and the specifier
// that follows it. Anything unexpected ends the clause. It returns the
// index of the first unconsumed token.
func (s *scanner) fromClause(i int, kind Kind) int {
	for i < len(s.toks) {
		t := s.toks[i]
		switch {
		case t.tt == js.OpenBraceToken:
			i = s.skipBraces(i)
		case t.tt == js.CommaToken || t.tt == js.MulToken:
			i++
		case t.word():
			if t.text == "from" && s.record(i+1, kind) {
				return i + 2
			}
			i++
		default:
			return i
		}
	}
	return i
}

// requireCall parses require("x") with a single string argument.
func (s *scanner) requireCall() bool {
	open, ok := s.at(s.i + 1)
	if !ok || open.tt != js.OpenParenToken {
		return false
	}
	if closing, ok := s.at(s.i + 3); !ok || closing.tt != js.CloseParenToken {
		return false
	}
	if !s.record(s.i+2, KindRequire) {
		return false
	}
	s.i += 4
	return true
}
