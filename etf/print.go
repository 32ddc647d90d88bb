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

package etf

import (
	"math"
	"strconv"
	"strings"
)

// String renders t in the runtime's canonical text form.
// Uninitialized terms render as "#invalid".
func (t Term) String() string {
	var sb strings.Builder
	t.print(&sb)
	return sb.String()
}

func (t Term) print(sb *strings.Builder) {
	if !t.Initialized() {
		sb.WriteString("#invalid")
		return
	}
	switch t.kind {
	case LongKind:
		sb.WriteString(strconv.FormatInt(int64(t.num), 10))
	case DoubleKind:
		printFloat(sb, math.Float64frombits(t.num))
	case BoolKind:
		if t.num != 0 {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case AtomKind:
		printAtom(sb, Atom(t.num).Name())
	case StringKind:
		printQuoted(sb, string(t.body.(strBody)), '"')
	case BinaryKind:
		printBinary(sb, t.body.(*binBody).data)
	case PidKind:
		pb := t.body.(*pidBody)
		sb.WriteString("#Pid<")
		sb.WriteString(pb.node.Name())
		sb.WriteByte('.')
		sb.WriteString(strconv.FormatUint(uint64(pb.id), 10))
		sb.WriteByte('.')
		sb.WriteString(strconv.FormatUint(uint64(pb.serial), 10))
		sb.WriteByte('>')
	case PortKind:
		pb := t.body.(*portBody)
		sb.WriteString("#Port<")
		sb.WriteString(pb.node.Name())
		sb.WriteByte('.')
		sb.WriteString(strconv.FormatUint(uint64(pb.id), 10))
		sb.WriteByte('>')
	case RefKind:
		rb := t.body.(*refBody)
		sb.WriteString("#Ref<")
		sb.WriteString(rb.node.Name())
		for _, id := range rb.ids {
			sb.WriteByte('.')
			sb.WriteString(strconv.FormatUint(uint64(id), 10))
		}
		sb.WriteByte('>')
	case TupleKind:
		tb := t.body.(*tupleBody)
		sb.WriteByte('{')
		for i := range tb.items {
			if i > 0 {
				sb.WriteByte(',')
			}
			tb.items[i].print(sb)
		}
		sb.WriteByte('}')
	case ListKind:
		lb := t.body.(*listBody)
		sb.WriteByte('[')
		for i := range lb.items {
			if i > 0 {
				sb.WriteByte(',')
			}
			lb.items[i].print(sb)
		}
		if lb.tail != nil {
			sb.WriteByte('|')
			lb.tail.print(sb)
		}
		sb.WriteByte(']')
	case MapKind:
		mb := t.body.(*mapBody)
		sb.WriteString("#{")
		for i := range mb.pairs {
			if i > 0 {
				sb.WriteByte(',')
			}
			mb.pairs[i].Key.print(sb)
			sb.WriteString(" => ")
			mb.pairs[i].Value.print(sb)
		}
		sb.WriteByte('}')
	case TraceKind:
		t.body.(*traceBody).tupleForm().print(sb)
	case VarKind:
		vb := t.body.(*varBody)
		sb.WriteString(vb.name.Name())
		if vb.hint != InvalidKind {
			sb.WriteString("::")
			sb.WriteString(vb.hint.String())
			sb.WriteString("()")
		}
	}
}

// printFloat emits the shortest representation that
// round-trips, always keeping a float marker so the
// output cannot be re-read as an integer.
func printFloat(sb *strings.Builder, f float64) {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	sb.WriteString(s)
	if !strings.ContainsAny(s, ".eE") && f == math.Trunc(f) && !math.IsInf(f, 0) {
		sb.WriteString(".0")
	}
}

// bareAtom reports whether the name can be printed
// without quotes: a lowercase letter followed by
// letters, digits, underscores, or '@'.
func bareAtom(name string) bool {
	if len(name) == 0 {
		return false
	}
	c := name[0]
	if c < 'a' || c > 'z' {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '@':
		default:
			return false
		}
	}
	return true
}

func printAtom(sb *strings.Builder, name string) {
	if bareAtom(name) {
		sb.WriteString(name)
		return
	}
	printQuoted(sb, name, '\'')
}

func printQuoted(sb *strings.Builder, s string, q byte) {
	sb.WriteByte(q)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == q || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 0x20 || c == 0x7f:
			sb.WriteString(`\x`)
			const hex = "0123456789abcdef"
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0xf])
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(q)
}

func printBinary(sb *strings.Builder, p []byte) {
	sb.WriteString("<<")
	if len(p) > 0 && printableASCII(p) {
		printQuoted(sb, string(p), '"')
	} else {
		for i, c := range p {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.FormatUint(uint64(c), 10))
		}
	}
	sb.WriteString(">>")
}

func printableASCII(p []byte) bool {
	for _, c := range p {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
