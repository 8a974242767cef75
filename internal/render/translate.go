package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LaTeX-friendly delimiters. Every tag closes at the first unbalanced '}'.
const (
	varOpen      = `\VAR{`
	blockOpen    = `\BLOCK{`
	commentOpen  = `\#{`
	linePrefix   = "%-"
	lineComment  = "%#"
	literalIdent = "docbatch_lit_"
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokVar
	tokBlock
)

type token struct {
	kind tokenKind
	text string // literal text, expression or statement
	raw  string // original source of a variable tag
	line int
}

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)
	forRe    = regexp.MustCompile(`^for\s+(.+?)\s+in\s`)
	setRe    = regexp.MustCompile(`^set\s+([A-Za-z_][A-Za-z0-9_]*)\s*=`)
	withRe   = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*=[^=]`)
	macroRe  = regexp.MustCompile(`^macro\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)`)
	keywords = map[string]bool{
		"true": true, "false": true, "True": true, "False": true,
		"none": true, "None": true, "nil": true, "not": true,
		"forloop": true,
	}
)

// program is a template translated into pongo2 syntax. Literal text never
// reaches the pongo2 lexer: each run of it is bound to a context variable so
// LaTeX braces and percent signs stay inert.
type program struct {
	source     string
	literals   []string
	unresolved []string
}

func literalName(i int) string {
	return literalIdent + strconv.Itoa(i)
}

// tokenize splits src into literal text, variable tags and statements. Line
// statements and tags both become tokBlock; comments are dropped. The newline
// right after a statement or comment is consumed.
func tokenize(src string) ([]token, error) {
	var out []token
	var text strings.Builder
	textLine := 1
	flush := func() {
		if text.Len() > 0 {
			out = append(out, token{kind: tokText, text: text.String(), line: textLine})
			text.Reset()
		}
	}

	line := 1
	atLineStart := true
	for i := 0; i < len(src); {
		if atLineStart {
			if stmt, n, ok := lineDirective(src[i:]); ok {
				if stmt != "" {
					flush()
					out = append(out, token{kind: tokBlock, text: stmt, line: line})
				}
				i += n
				line++
				continue
			}
			atLineStart = false
		}

		rest := src[i:]
		var open string
		switch {
		case strings.HasPrefix(rest, varOpen):
			open = varOpen
		case strings.HasPrefix(rest, blockOpen):
			open = blockOpen
		case strings.HasPrefix(rest, commentOpen):
			open = commentOpen
		}
		if open == "" {
			if text.Len() == 0 {
				textLine = line
			}
			c := src[i]
			text.WriteByte(c)
			i++
			if c == '\n' {
				line++
				atLineStart = true
			}
			continue
		}

		end, err := closingBrace(src, i+len(open))
		if err != nil {
			return nil, fmt.Errorf("line %d: unclosed %s", line, open)
		}
		body := strings.TrimSpace(src[i+len(open) : end])
		raw := src[i : end+1]
		tagLine := line
		line += strings.Count(raw, "\n")
		i = end + 1

		switch open {
		case varOpen:
			if body == "" {
				return nil, fmt.Errorf("line %d: empty %s}", tagLine, varOpen)
			}
			flush()
			out = append(out, token{kind: tokVar, text: body, raw: raw, line: tagLine})
			continue
		case blockOpen:
			if body == "" {
				return nil, fmt.Errorf("line %d: empty %s}", tagLine, blockOpen)
			}
			flush()
			out = append(out, token{kind: tokBlock, text: body, line: tagLine})
		}
		// trim_blocks: a statement or comment swallows the newline that follows it.
		if strings.HasPrefix(src[i:], "\r\n") {
			i += 2
			line++
			atLineStart = true
		} else if strings.HasPrefix(src[i:], "\n") {
			i++
			line++
			atLineStart = true
		}
	}
	flush()
	return out, nil
}

// lineDirective recognises "%- stmt" and "%# comment" lines, optionally
// indented. It returns the statement (empty for a comment) and the length of
// the line including its newline. Lines like "%-----" are ordinary LaTeX
// comments and are left alone.
func lineDirective(s string) (string, int, bool) {
	n := strings.IndexByte(s, '\n')
	lineLen := len(s)
	if n >= 0 {
		lineLen = n + 1
	}
	content := strings.TrimRight(s[:lineLen], "\r\n")
	trimmed := strings.TrimLeft(content, " \t")

	switch {
	case strings.HasPrefix(trimmed, lineComment):
		return "", lineLen, true
	case strings.HasPrefix(trimmed, linePrefix):
		stmt := strings.TrimSpace(trimmed[len(linePrefix):])
		if !identRe.MatchString(stmt) {
			return "", 0, false
		}
		return stmt, lineLen, true
	}
	return "", 0, false
}

// closingBrace returns the index of the '}' that closes a tag whose body
// starts at from, skipping nested braces and quoted strings.
func closingBrace(src string, from int) (int, error) {
	depth := 0
	var quote byte
	for i := from; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, fmt.Errorf("no closing brace")
}

// boundNames collects names introduced by for, set, with and macro statements.
func boundNames(tokens []token) map[string]bool {
	bound := map[string]bool{}
	for _, t := range tokens {
		if t.kind != tokBlock {
			continue
		}
		if m := forRe.FindStringSubmatch(t.text); m != nil {
			for _, name := range strings.Split(m[1], ",") {
				bound[strings.TrimSpace(name)] = true
			}
		}
		if m := setRe.FindStringSubmatch(t.text); m != nil {
			bound[m[1]] = true
		}
		if strings.HasPrefix(t.text, "with ") {
			for _, m := range withRe.FindAllStringSubmatch(t.text, -1) {
				bound[m[1]] = true
			}
		}
		if m := macroRe.FindStringSubmatch(t.text); m != nil {
			bound[m[1]] = true
			for _, arg := range strings.Split(m[2], ",") {
				if name := identRe.FindString(strings.TrimSpace(arg)); name != "" {
					bound[name] = true
				}
			}
		}
	}
	return bound
}

// translate turns a template into pongo2 source. A variable tag whose leading
// name is neither a field nor bound by a statement is unresolved: in forgiving
// mode it is emitted verbatim, otherwise it is only recorded.
func translate(src string, fields []string, forgiving bool) (*program, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	known := boundNames(tokens)
	for _, f := range fields {
		known[f] = true
	}

	p := &program{}
	var b strings.Builder
	var pending strings.Builder
	seen := map[string]bool{}
	emitLiteral := func() {
		if pending.Len() == 0 {
			return
		}
		name := literalName(len(p.literals))
		p.literals = append(p.literals, pending.String())
		pending.Reset()
		b.WriteString("{{ " + name + " }}")
	}

	b.WriteString("{% autoescape off %}")
	for _, t := range tokens {
		switch t.kind {
		case tokText:
			pending.WriteString(t.text)
		case tokVar:
			root := identRe.FindString(t.text)
			if root != "" && !keywords[root] && !known[root] {
				if !seen[root] {
					seen[root] = true
					p.unresolved = append(p.unresolved, root)
				}
				if forgiving {
					pending.WriteString(t.raw)
				}
				continue
			}
			emitLiteral()
			b.WriteString("{{ " + t.text + " }}")
		case tokBlock:
			emitLiteral()
			b.WriteString("{% " + t.text + " %}")
		}
	}
	emitLiteral()
	b.WriteString("{% endautoescape %}")

	p.source = b.String()
	return p, nil
}
