// Package image loads ZetaVM package images: the textual .zim format,
// the CBOR binary wire form, the on-disk package cache and the import
// bridge the interpreter resolves packages through.
package image

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maximecb/zetavm/vm"
)

// The textual image format is a flat list of named bindings:
//
//	# a package exporting one function
//	b0 = { instrs: [ { op: "push", val: 777 }, { op: "ret" } ] };
//	main = { entry: @b0, num_params: 0, num_locals: 0 };
//	package = { main: @main };
//
// An expression is an object { field: expr, ... }, an array [ expr,
// ... ], a string, an integer, a float (a '.' or a trailing 'f' marks
// float32), true, false, $undef, or a reference @name to another
// top-level binding. References may point forward and may form cycles,
// which block graphs need. The binding named "package" is the root.

// rootBinding is the binding name that holds the package object.
const rootBinding = "package"

// ---------------------------------------------------------------------------
// Syntax tree
// ---------------------------------------------------------------------------

type node interface{}

type intNode int32

type floatNode float32

type strNode string

type boolNode bool

type undefNode struct{}

type refNode string

type objNode struct {
	fields []string
	vals   []node
}

type arrNode struct {
	elems []node
}

// ---------------------------------------------------------------------------
// Scanner
// ---------------------------------------------------------------------------

type scanner struct {
	file string
	src  string
	pos  int
	line int
	col  int
}

func newScanner(file, src string) *scanner {
	return &scanner{file: file, src: src, line: 1, col: 1}
}

func (s *scanner) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d:%d: %s", s.file, s.line, s.col, fmt.Sprintf(format, args...))
}

func (s *scanner) eof() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) peek() byte {
	return s.src[s.pos]
}

func (s *scanner) next() byte {
	ch := s.src[s.pos]
	s.pos++
	if ch == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return ch
}

// skipSpace consumes whitespace and # line comments.
func (s *scanner) skipSpace() {
	for !s.eof() {
		switch s.peek() {
		case ' ', '\t', '\r', '\n':
			s.next()
		case '#':
			for !s.eof() && s.peek() != '\n' {
				s.next()
			}
		default:
			return
		}
	}
}

// expect consumes one specific punctuation byte.
func (s *scanner) expect(ch byte) error {
	s.skipSpace()
	if s.eof() || s.peek() != ch {
		return s.errorf("expected %q", string(ch))
	}
	s.next()
	return nil
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func (s *scanner) ident() (string, error) {
	s.skipSpace()
	if s.eof() || !isIdentStart(s.peek()) {
		return "", s.errorf("expected identifier")
	}
	start := s.pos
	for !s.eof() && isIdentPart(s.peek()) {
		s.next()
	}
	return s.src[start:s.pos], nil
}

func (s *scanner) stringLit() (string, error) {
	if err := s.expect('"'); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		if s.eof() {
			return "", s.errorf("unterminated string")
		}
		ch := s.next()
		switch ch {
		case '"':
			return sb.String(), nil
		case '\\':
			if s.eof() {
				return "", s.errorf("unterminated escape")
			}
			esc := s.next()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case '0':
				sb.WriteByte(0)
			default:
				return "", s.errorf("unknown escape \\%s", string(esc))
			}
		default:
			sb.WriteByte(ch)
		}
	}
}

func (s *scanner) number() (node, error) {
	start := s.pos
	if !s.eof() && (s.peek() == '-' || s.peek() == '+') {
		s.next()
	}
	isFloat := false
	for !s.eof() {
		ch := s.peek()
		if ch >= '0' && ch <= '9' {
			s.next()
			continue
		}
		if ch == '.' || ch == 'e' || ch == 'E' {
			isFloat = true
			s.next()
			continue
		}
		if (ch == '-' || ch == '+') && isFloat {
			// Exponent sign
			s.next()
			continue
		}
		break
	}
	text := s.src[start:s.pos]

	// A trailing 'f' marks a float literal
	if !s.eof() && s.peek() == 'f' {
		s.next()
		isFloat = true
	}

	if isFloat {
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, s.errorf("malformed float literal %q", text)
		}
		return floatNode(f), nil
	}

	n, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return nil, s.errorf("malformed integer literal %q", text)
	}
	return intNode(n), nil
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

func (s *scanner) expr() (node, error) {
	s.skipSpace()
	if s.eof() {
		return nil, s.errorf("unexpected end of input")
	}

	switch ch := s.peek(); {
	case ch == '{':
		return s.object()

	case ch == '[':
		return s.array()

	case ch == '"':
		str, err := s.stringLit()
		if err != nil {
			return nil, err
		}
		return strNode(str), nil

	case ch == '@':
		s.next()
		name, err := s.ident()
		if err != nil {
			return nil, err
		}
		return refNode(name), nil

	case ch == '$':
		s.next()
		name, err := s.ident()
		if err != nil {
			return nil, err
		}
		if name != "undef" {
			return nil, s.errorf("unknown constant $%s", name)
		}
		return undefNode{}, nil

	case ch == '-' || ch == '+' || (ch >= '0' && ch <= '9'):
		return s.number()

	case isIdentStart(ch):
		name, err := s.ident()
		if err != nil {
			return nil, err
		}
		switch name {
		case "true":
			return boolNode(true), nil
		case "false":
			return boolNode(false), nil
		}
		return nil, s.errorf("unknown keyword %q", name)

	default:
		return nil, s.errorf("unexpected character %q", string(ch))
	}
}

func (s *scanner) object() (node, error) {
	if err := s.expect('{'); err != nil {
		return nil, err
	}
	obj := &objNode{}
	for {
		s.skipSpace()
		if !s.eof() && s.peek() == '}' {
			s.next()
			return obj, nil
		}
		name, err := s.ident()
		if err != nil {
			return nil, err
		}
		if err := s.expect(':'); err != nil {
			return nil, err
		}
		val, err := s.expr()
		if err != nil {
			return nil, err
		}
		obj.fields = append(obj.fields, name)
		obj.vals = append(obj.vals, val)

		s.skipSpace()
		if !s.eof() && s.peek() == ',' {
			s.next()
			continue
		}
		if err := s.expect('}'); err != nil {
			return nil, err
		}
		return obj, nil
	}
}

func (s *scanner) array() (node, error) {
	if err := s.expect('['); err != nil {
		return nil, err
	}
	arr := &arrNode{}
	for {
		s.skipSpace()
		if !s.eof() && s.peek() == ']' {
			s.next()
			return arr, nil
		}
		elem, err := s.expr()
		if err != nil {
			return nil, err
		}
		arr.elems = append(arr.elems, elem)

		s.skipSpace()
		if !s.eof() && s.peek() == ',' {
			s.next()
			continue
		}
		if err := s.expect(']'); err != nil {
			return nil, err
		}
		return arr, nil
	}
}

type binding struct {
	name string
	expr node
}

func (s *scanner) bindings() ([]binding, error) {
	var binds []binding
	for {
		s.skipSpace()
		if s.eof() {
			return binds, nil
		}
		name, err := s.ident()
		if err != nil {
			return nil, err
		}
		if err := s.expect('='); err != nil {
			return nil, err
		}
		expr, err := s.expr()
		if err != nil {
			return nil, err
		}
		if err := s.expect(';'); err != nil {
			return nil, err
		}
		binds = append(binds, binding{name: name, expr: expr})
	}
}

// ---------------------------------------------------------------------------
// Value construction
// ---------------------------------------------------------------------------

// Parse reads a textual package image and returns the package object.
// The file name is used in error messages only.
func Parse(file, src string) (vm.Value, error) {
	s := newScanner(file, src)
	binds, err := s.bindings()
	if err != nil {
		return vm.Undef, err
	}

	// First pass: allocate a shell for every object and array binding,
	// so references, including forward and cyclic ones, resolve before
	// the contents are filled
	shells := make(map[string]vm.Value, len(binds))
	seen := make(map[string]bool, len(binds))
	for _, b := range binds {
		if seen[b.name] {
			return vm.Undef, fmt.Errorf("%s: duplicate binding %q", file, b.name)
		}
		seen[b.name] = true
		switch e := b.expr.(type) {
		case *objNode:
			shells[b.name] = vm.NewObject(len(e.fields))
		case *arrNode:
			shells[b.name] = vm.NewArray(len(e.elems))
		}
	}
	for _, b := range binds {
		switch b.expr.(type) {
		case *objNode, *arrNode:
		default:
			val, err := buildValue(file, b.expr, shells)
			if err != nil {
				return vm.Undef, err
			}
			shells[b.name] = val
		}
	}

	// Second pass: fill object and array bindings
	for _, b := range binds {
		switch e := b.expr.(type) {
		case *objNode:
			if err := fillObject(file, shells[b.name], e, shells); err != nil {
				return vm.Undef, err
			}
		case *arrNode:
			if err := fillArray(file, shells[b.name], e, shells); err != nil {
				return vm.Undef, err
			}
		}
	}

	root, ok := shells[rootBinding]
	if !ok {
		return vm.Undef, fmt.Errorf("%s: no %q binding", file, rootBinding)
	}
	if !root.IsObject() {
		return vm.Undef, fmt.Errorf("%s: %q binding is not an object", file, rootBinding)
	}
	return root, nil
}

func buildValue(file string, n node, shells map[string]vm.Value) (vm.Value, error) {
	switch e := n.(type) {
	case intNode:
		return vm.Int32(int32(e)), nil
	case floatNode:
		return vm.Float32(float32(e)), nil
	case strNode:
		return vm.NewString(string(e)), nil
	case boolNode:
		return vm.Bool(bool(e)), nil
	case undefNode:
		return vm.Undef, nil
	case refNode:
		val, ok := shells[string(e)]
		if !ok {
			return vm.Undef, fmt.Errorf("%s: reference to undefined binding @%s", file, string(e))
		}
		return val, nil
	case *objNode:
		obj := vm.NewObject(len(e.fields))
		if err := fillObject(file, obj, e, shells); err != nil {
			return vm.Undef, err
		}
		return obj, nil
	case *arrNode:
		arr := vm.NewArray(len(e.elems))
		if err := fillArray(file, arr, e, shells); err != nil {
			return vm.Undef, err
		}
		return arr, nil
	default:
		return vm.Undef, fmt.Errorf("%s: invalid syntax node", file)
	}
}

func fillObject(file string, obj vm.Value, n *objNode, shells map[string]vm.Value) error {
	o := vm.ObjectVal(obj)
	for i, name := range n.fields {
		val, err := buildValue(file, n.vals[i], shells)
		if err != nil {
			return err
		}
		o.SetField(name, val)
	}
	return nil
}

func fillArray(file string, arr vm.Value, n *arrNode, shells map[string]vm.Value) error {
	// The shell was allocated with the final length; fill in place
	a := vm.ArrayVal(arr)
	for i, elem := range n.elems {
		val, err := buildValue(file, elem, shells)
		if err != nil {
			return err
		}
		a.SetElem(i, val)
	}
	return nil
}
