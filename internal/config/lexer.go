/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package config

import (
	"strings"
)

// token is one lexical unit of the configuration grammar: a bare word, or
// one of the structural runes '{', '}', ';'.
type token struct {
	text string
	line int
}

// lex splits src into tokens. '#' starts a line comment. '{', '}' and ';'
// are always their own token even when glued to neighbouring text (so
// "listen 127.0.0.1:8080;" yields ["listen", "127.0.0.1:8080", ";"]).
func lex(src string) []token {
	var (
		out  []token
		buf  strings.Builder
		line = 1
	)

	flush := func() {
		if buf.Len() > 0 {
			out = append(out, token{text: buf.String(), line: line})
			buf.Reset()
		}
	}

	inComment := false

	for _, r := range src {
		switch {
		case r == '\n':
			inComment = false
			flush()
			line++
		case inComment:
			// skip
		case r == '#':
			flush()
			inComment = true
		case r == '{' || r == '}' || r == ';':
			flush()
			out = append(out, token{text: string(r), line: line})
		case r == ' ' || r == '\t' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
		}
	}

	flush()

	return out
}
