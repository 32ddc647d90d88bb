// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package match

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/erlkit/erlkit/etf"
)

// Parse reads a pattern term from its text form, e.g.
//
//	{ok, A::int(), B}
//	[H|T]
//	#{id => Id, meta => _}
//
// Variables start with an uppercase letter or '_' and
// may carry a type hint after '::'. The result is a
// term that may contain VarKind nodes and is suitable
// for Match and Apply.
func Parse(s string) (etf.Term, error) {
	p := &parser{src: s}
	t, err := p.term()
	if err != nil {
		return etf.Term{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return etf.Term{}, p.syntax("trailing input")
	}
	return t, nil
}

// MustParse is like Parse but panics on malformed
// input; it is intended for patterns known at compile
// time.
func MustParse(s string) etf.Term {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

var hintNames = map[string]etf.Kind{
	"int":    etf.LongKind,
	"float":  etf.DoubleKind,
	"bool":   etf.BoolKind,
	"atom":   etf.AtomKind,
	"str":    etf.StringKind,
	"binary": etf.BinaryKind,
	"pid":    etf.PidKind,
	"port":   etf.PortKind,
	"ref":    etf.RefKind,
	"tuple":  etf.TupleKind,
	"list":   etf.ListKind,
	"map":    etf.MapKind,
}

type parser struct {
	src string
	pos int
}

func (p *parser) syntax(f string, args ...interface{}) error {
	msg := fmt.Sprintf(f, args...)
	return fmt.Errorf("match: parse error at %d: %s", p.pos, msg)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.syntax("expected %q", string(c))
	}
	p.pos++
	return nil
}

func (p *parser) has(prefix string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], prefix) {
		p.pos += len(prefix)
		return true
	}
	return false
}

func (p *parser) term() (etf.Term, error) {
	p.skipSpace()
	c := p.peek()
	switch {
	case c == '{':
		return p.tuple()
	case c == '[':
		return p.list()
	case c == '#':
		return p.mapTerm()
	case c == '<':
		return p.binary()
	case c == '"':
		return p.string_()
	case c == '\'':
		return p.quotedAtom()
	case c == '-' || c == '+' || c >= '0' && c <= '9':
		return p.number()
	case c >= 'a' && c <= 'z':
		return p.atom()
	case c >= 'A' && c <= 'Z' || c == '_':
		return p.variable()
	}
	return etf.Term{}, p.syntax("unexpected input")
}

func (p *parser) tuple() (etf.Term, error) {
	p.pos++ // '{'
	p.skipSpace()
	var items []etf.Term
	if p.peek() == '}' {
		p.pos++
		return etf.MakeTuple(), nil
	}
	for {
		item, err := p.term()
		if err != nil {
			return etf.Term{}, err
		}
		items = append(items, item)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return etf.MakeTuple(items...), nil
		default:
			return etf.Term{}, p.syntax("expected ',' or '}'")
		}
	}
}

func (p *parser) list() (etf.Term, error) {
	p.pos++ // '['
	p.skipSpace()
	lb := etf.NewList()
	if p.peek() == ']' {
		p.pos++
		return etf.Nil(), nil
	}
	for {
		item, err := p.term()
		if err != nil {
			return etf.Term{}, err
		}
		lb.Push(item)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '|':
			p.pos++
			tail, err := p.term()
			if err != nil {
				return etf.Term{}, err
			}
			if err := p.expect(']'); err != nil {
				return etf.Term{}, err
			}
			return lb.CloseWithTail(tail), nil
		case ']':
			p.pos++
			return lb.Close(), nil
		default:
			return etf.Term{}, p.syntax("expected ',', '|', or ']'")
		}
	}
}

func (p *parser) mapTerm() (etf.Term, error) {
	p.pos++ // '#'
	if err := p.expect('{'); err != nil {
		return etf.Term{}, err
	}
	mb := etf.NewMap()
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return mb.Term(), nil
	}
	for {
		key, err := p.term()
		if err != nil {
			return etf.Term{}, err
		}
		if !p.has("=>") {
			return etf.Term{}, p.syntax("expected '=>'")
		}
		val, err := p.term()
		if err != nil {
			return etf.Term{}, err
		}
		mb.Put(key, val)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return mb.Term(), nil
		default:
			return etf.Term{}, p.syntax("expected ',' or '}'")
		}
	}
}

func (p *parser) binary() (etf.Term, error) {
	if !p.has("<<") {
		return etf.Term{}, p.syntax("expected '<<'")
	}
	p.skipSpace()
	if p.peek() == '"' {
		s, err := p.string_()
		if err != nil {
			return etf.Term{}, err
		}
		if !p.has(">>") {
			return etf.Term{}, p.syntax("expected '>>'")
		}
		str, _ := s.ToString()
		return etf.Binary([]byte(str)), nil
	}
	var data []byte
	if p.has(">>") {
		return etf.Binary(nil), nil
	}
	for {
		v, err := p.number()
		if err != nil {
			return etf.Term{}, err
		}
		n, err := v.ToLong()
		if err != nil || n < 0 || n > 255 {
			return etf.Term{}, p.syntax("binary element out of range")
		}
		data = append(data, byte(n))
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if p.has(">>") {
			return etf.Binary(data), nil
		}
		return etf.Term{}, p.syntax("expected ',' or '>>'")
	}
}

func (p *parser) string_() (etf.Term, error) {
	p.pos++ // '"'
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch c {
		case '"':
			return etf.String(sb.String()), nil
		case '\\':
			r, err := p.escape()
			if err != nil {
				return etf.Term{}, err
			}
			sb.WriteByte(r)
		default:
			sb.WriteByte(c)
		}
	}
	return etf.Term{}, p.syntax("unterminated string")
}

func (p *parser) quotedAtom() (etf.Term, error) {
	p.pos++ // '\''
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch c {
		case '\'':
			return etf.MakeAtom(sb.String())
		case '\\':
			r, err := p.escape()
			if err != nil {
				return etf.Term{}, err
			}
			sb.WriteByte(r)
		default:
			sb.WriteByte(c)
		}
	}
	return etf.Term{}, p.syntax("unterminated quoted atom")
}

func (p *parser) escape() (byte, error) {
	if p.pos >= len(p.src) {
		return 0, p.syntax("unterminated escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case '\\', '\'', '"':
		return c, nil
	}
	return 0, p.syntax("unknown escape %q", string(c))
}

func (p *parser) number() (etf.Term, error) {
	p.skipSpace()
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	digits := 0
	float := false
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' || c == 'e' || c == 'E':
			float = true
		case (c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E'):
		default:
			goto done
		}
		p.pos++
	}
done:
	if digits == 0 {
		return etf.Term{}, p.syntax("malformed number")
	}
	text := p.src[start:p.pos]
	if float {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return etf.Term{}, p.syntax("malformed float %q", text)
		}
		return etf.Double(f), nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return etf.Term{}, p.syntax("malformed integer %q", text)
	}
	return etf.Long(v), nil
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '@':
		default:
			return p.src[start:p.pos]
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) atom() (etf.Term, error) {
	return etf.MakeAtom(p.ident())
}

func (p *parser) variable() (etf.Term, error) {
	name := p.ident()
	hint := etf.InvalidKind
	if p.has("::") {
		p.skipSpace()
		id := p.ident()
		k, ok := hintNames[id]
		if !ok {
			return etf.Term{}, p.syntax("unknown type hint %q", id)
		}
		if !p.has("()") {
			return etf.Term{}, p.syntax("expected '()' after type hint")
		}
		hint = k
	}
	a, err := etf.Intern(name)
	if err != nil {
		return etf.Term{}, err
	}
	return etf.Variable(a, hint), nil
}
