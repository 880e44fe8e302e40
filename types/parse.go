// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package types

import (
	"fmt"
	"strings"
)

// ParseError is the concrete type of errors reported by Parse.
type ParseError struct {
	Tag string // the original input
	Pos int    // offset in the comment-stripped tag
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid type tag %q at offset %d: %s", e.Tag, e.Pos, e.Msg)
}

// Parse parses a type tag. A sequence of several types at the top level of
// the tag is treated as a cluster, so "is" and "(is)" are equivalent.
func Parse(tag string) (*Type, error) {
	s, err := stripComments(tag)
	if err != nil {
		return nil, err
	}
	p := &parser{tag: tag, s: s}
	ts, err := p.parseSeq(0)
	if err != nil {
		return nil, err
	}
	return Cluster(ts...), nil
}

// MustParse is as Parse, but panics if tag is invalid.
func MustParse(tag string) *Type {
	t, err := Parse(tag)
	if err != nil {
		panic(err)
	}
	return t
}

// stripComments removes {...} comments from tag and discards everything
// following the first colon outside unit brackets.
func stripComments(tag string) (string, error) {
	var sb strings.Builder
	inUnits := false
	for i := 0; i < len(tag); i++ {
		switch c := tag[i]; {
		case c == '{':
			end := strings.IndexByte(tag[i:], '}')
			if end < 0 {
				return "", &ParseError{Tag: tag, Pos: i, Msg: "unterminated comment"}
			}
			i += end
		case c == ':' && !inUnits:
			return sb.String(), nil
		default:
			if c == '[' {
				inUnits = true
			} else if c == ']' {
				inUnits = false
			}
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

type parser struct {
	tag string // original, for errors
	s   string
	pos int
}

func (p *parser) fail(msg string, args ...any) error {
	return &ParseError{Tag: p.tag, Pos: p.pos, Msg: fmt.Sprintf(msg, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r', ',':
			p.pos++
		default:
			return
		}
	}
}

// parseSeq parses types until the close byte is consumed, or to the end of
// input if close == 0.
func (p *parser) parseSeq(close byte) ([]*Type, error) {
	var out []*Type
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			if close != 0 {
				return nil, p.fail("missing %q", close)
			}
			return out, nil
		}
		if c := p.s[p.pos]; c == close {
			p.pos++
			return out, nil
		} else if c == ')' {
			return nil, p.fail("unbalanced %q", c)
		}
		t, err := p.parseOne()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
}

func startsType(c byte) bool { return strings.IndexByte("_?biwstvc*(E", c) >= 0 }

func (p *parser) parseOne() (*Type, error) {
	if p.pos >= len(p.s) {
		return nil, p.fail("missing type")
	}
	c := p.s[p.pos]
	p.pos++
	switch c {
	case '_':
		return Empty, nil
	case '?':
		return Any, nil
	case 'b':
		return Bool, nil
	case 'i':
		return Int, nil
	case 'w':
		return Word, nil
	case 's':
		return Str, nil
	case 't':
		return Time, nil
	case 'v', 'c':
		units, has, err := p.parseUnits()
		if err != nil {
			return nil, err
		}
		if c == 'v' {
			return scalar(KindValue, 8, "v", units, has), nil
		}
		return scalar(KindComplex, 16, "c", units, has), nil
	case '*':
		depth := 0
		for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
			depth = 10*depth + int(p.s[p.pos]-'0')
			p.pos++
			if depth > 1<<16 {
				return nil, p.fail("list depth too large")
			}
		}
		if depth == 0 {
			if p.s[p.pos-1] == '0' {
				return nil, p.fail("list depth must be positive")
			}
			depth = 1
		}
		p.skipSpace()
		elem, err := p.parseOne()
		if err != nil {
			return nil, err
		}
		return List(elem, depth), nil
	case '(':
		fields, err := p.parseSeq(')')
		if err != nil {
			return nil, err
		}
		return Cluster(fields...), nil
	case 'E':
		if p.pos < len(p.s) && startsType(p.s[p.pos]) {
			payload, err := p.parseOne()
			if err != nil {
				return nil, err
			}
			return Error(payload), nil
		}
		return Error(Empty), nil
	}
	p.pos--
	return nil, p.fail("unknown type code %q", c)
}

// parseUnits parses an optional bracketed units string.
func (p *parser) parseUnits() (string, bool, error) {
	if p.pos >= len(p.s) || p.s[p.pos] != '[' {
		return "", false, nil
	}
	end := strings.IndexByte(p.s[p.pos:], ']')
	if end < 0 {
		return "", false, p.fail("unterminated units")
	}
	units := p.s[p.pos+1 : p.pos+end]
	p.pos += end + 1
	return units, true, nil
}
