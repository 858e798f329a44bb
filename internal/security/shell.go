package security

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Call is one simple command: the program and its arguments after quote
// removal. Expansions are kept as written.
type Call struct {
	Args []string
}

// Redirect is a file a redirection reads or writes. Literal is false when
// the target depends on an expansion and cannot be known before running.
type Redirect struct {
	Target  string
	Literal bool
}

// Script is the parsed form of a command line.
type Script struct {
	Calls     []Call
	Redirects []Redirect
}

// Parse parses command as bash and collects every simple command, including
// those inside command and process substitutions, subshells, blocks and
// function bodies, together with every redirection target.
func Parse(command string) (*Script, error) {
	f, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, err
	}

	s := &Script{}
	syntax.Walk(f, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				return true
			}
			args := make([]string, len(n.Args))
			for i, w := range n.Args {
				args[i], _ = wordValue(w)
			}
			s.Calls = append(s.Calls, Call{Args: args})
		case *syntax.Redirect:
			if r, ok := redirectTarget(n); ok {
				s.Redirects = append(s.Redirects, r)
			}
		}
		return true
	})
	return s, nil
}

func redirectTarget(r *syntax.Redirect) (Redirect, bool) {
	if r.Word == nil {
		return Redirect{}, false
	}
	switch r.Op {
	case syntax.Hdoc, syntax.DashHdoc, syntax.WordHdoc:
		return Redirect{}, false
	}
	target, literal := wordValue(r.Word)
	if r.Op == syntax.DplIn || r.Op == syntax.DplOut {
		// 2>&1, >&-
		if target == "-" || isDigits(target) {
			return Redirect{}, false
		}
	}
	return Redirect{Target: target, Literal: literal}, true
}

// wordValue flattens w to the text the shell would see after quote removal.
// literal is false if any part is an expansion other than $HOME.
func wordValue(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	literal := writeParts(&sb, w.Parts, false)
	return sb.String(), literal
}

func writeParts(sb *strings.Builder, parts []syntax.WordPart, quoted bool) bool {
	literal := true
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value, quoted))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			if !writeParts(sb, p.Parts, true) {
				literal = false
			}
		case *syntax.ParamExp:
			if p.Param == nil {
				sb.WriteString("$")
				literal = false
				continue
			}
			sb.WriteString("$" + p.Param.Value)
			if p.Param.Value != "HOME" || p.Exp != nil || p.Repl != nil || p.Slice != nil || p.Length {
				literal = false
			}
		default:
			sb.WriteString("$(...)")
			literal = false
		}
	}
	return literal
}

// unescape removes backslash escapes. Inside double quotes only the
// characters bash treats as special lose their backslash.
func unescape(s string, quoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			if !quoted || strings.IndexByte("$`\"\\\n", next) >= 0 {
				i++
				if next != '\n' {
					sb.WriteByte(next)
				}
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
