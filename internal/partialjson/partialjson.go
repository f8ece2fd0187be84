// Package partialjson turns a truncated JSON document into the largest
// well-formed document it is a prefix of.
//
// It is used to surface partial objects while a model is still emitting the
// JSON for a structured response.
package partialjson

import (
	"regexp"
	"unicode/utf8"
)

type frame struct {
	open      byte
	expectKey bool
}

var numberRe = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func validScalar(tok []byte) bool {
	switch string(tok) {
	case "true", "false", "null":
		return true
	}
	return numberRe.Match(tok)
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', ':', ']', '}':
		return true
	}
	return false
}

func closers(stack []frame) []byte {
	out := make([]byte, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].open == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}
	return out
}

// Complete returns src completed into valid JSON. Incomplete keys, dangling
// separators and partial literals are dropped; an open string value is kept
// and closed. It reports false when src holds no usable value yet.
func Complete(src []byte) ([]byte, bool) {
	var (
		stack     []frame
		safeAt    = -1
		safeClose []byte

		inString    bool
		isKey       bool
		escape      bool
		unicodeLeft int
	)
	mark := func(pos int) {
		safeAt = pos
		safeClose = closers(stack)
	}
	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}

	i := 0
scan:
	for i < len(src) {
		c := src[i]
		if inString {
			switch {
			case unicodeLeft > 0:
				unicodeLeft--
			case escape:
				escape = false
				if c == 'u' {
					unicodeLeft = 4
				}
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
				if isKey {
					top().expectKey = false
				} else {
					mark(i + 1)
				}
			}
			i++
			continue
		}

		switch c {
		case ' ', '\t', '\r', '\n', ':':
		case '{':
			stack = append(stack, frame{open: '{', expectKey: true})
			mark(i + 1)
		case '[':
			stack = append(stack, frame{open: '['})
			mark(i + 1)
		case '}', ']':
			if len(stack) == 0 {
				break scan
			}
			stack = stack[:len(stack)-1]
			mark(i + 1)
		case ',':
			if f := top(); f != nil && f.open == '{' {
				f.expectKey = true
			}
		case '"':
			inString = true
			f := top()
			isKey = f != nil && f.open == '{' && f.expectKey
		default:
			j := i
			for j < len(src) && !isDelim(src[j]) {
				j++
			}
			if !validScalar(src[i:j]) {
				break scan
			}
			mark(j)
			i = j
			continue
		}
		i++
	}

	if inString && !isKey && i == len(src) {
		body := append([]byte(nil), src...)
		switch {
		case escape:
			body = body[:len(body)-1]
		case unicodeLeft > 0:
			body = body[:len(body)-(6-unicodeLeft)]
		}
		for n := 0; n < utf8.UTFMax && !utf8.Valid(body); n++ {
			body = body[:len(body)-1]
		}
		body = append(body, '"')
		return append(body, closers(stack)...), true
	}

	if safeAt < 0 {
		return nil, false
	}
	out := make([]byte, 0, safeAt+len(safeClose))
	out = append(out, src[:safeAt]...)
	return append(out, safeClose...), true
}
