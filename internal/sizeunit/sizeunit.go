/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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

// Package sizeunit parses the size literals used by the configuration
// grammar's client_max_body_size directive ("10K", "20M", "1G", a bare
// number of bytes).
package sizeunit

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count, matching base-1024 progression.
type Size uint64

const (
	SizeNul  Size = 0
	SizeUnit Size = 1
	SizeKilo Size = SizeUnit << 10
	SizeMega Size = SizeUnit << 20
	SizeGiga Size = SizeUnit << 30
	SizeTera Size = SizeUnit << 40
)

// Uint64 returns the Size as a plain byte count.
func (s Size) Uint64() uint64 {
	return uint64(s)
}

// String renders the Size using the largest unit that divides it evenly,
// falling back to a raw byte count.
func (s Size) String() string {
	switch {
	case s == SizeNul:
		return "0"
	case s%SizeGiga == 0 && s >= SizeGiga:
		return fmt.Sprintf("%dG", s/SizeGiga)
	case s%SizeMega == 0 && s >= SizeMega:
		return fmt.Sprintf("%dM", s/SizeMega)
	case s%SizeKilo == 0 && s >= SizeKilo:
		return fmt.Sprintf("%dK", s/SizeKilo)
	default:
		return strconv.FormatUint(uint64(s), 10)
	}
}

// Parse converts a size literal such as "10K", "20M", "1G" or a bare byte
// count ("8192") into a Size. The unit suffix is case-insensitive and the
// trailing "B" (as in "KB"/"MB"/"GB") is optional, matching both forms
// accepted by the configuration grammar.
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SizeNul, fmt.Errorf("sizeunit: empty size literal")
	}

	upper := strings.ToUpper(s)
	unit := SizeUnit
	numeric := upper

	switch {
	case strings.HasSuffix(upper, "GB"):
		unit = SizeGiga
		numeric = upper[:len(upper)-2]
	case strings.HasSuffix(upper, "MB"):
		unit = SizeMega
		numeric = upper[:len(upper)-2]
	case strings.HasSuffix(upper, "KB"):
		unit = SizeKilo
		numeric = upper[:len(upper)-2]
	case strings.HasSuffix(upper, "G"):
		unit = SizeGiga
		numeric = upper[:len(upper)-1]
	case strings.HasSuffix(upper, "M"):
		unit = SizeMega
		numeric = upper[:len(upper)-1]
	case strings.HasSuffix(upper, "K"):
		unit = SizeKilo
		numeric = upper[:len(upper)-1]
	case strings.HasSuffix(upper, "B"):
		unit = SizeUnit
		numeric = upper[:len(upper)-1]
	}

	numeric = strings.TrimSpace(numeric)
	if numeric == "" {
		return SizeNul, fmt.Errorf("sizeunit: %q has no numeric part", s)
	}

	n, err := strconv.ParseUint(numeric, 10, 64)
	if err != nil {
		return SizeNul, fmt.Errorf("sizeunit: invalid size literal %q: %w", s, err)
	}

	return Size(n) * unit, nil
}

// MustParse behaves like Parse but panics on error; reserved for literals
// baked into tests and defaults that are known valid at compile time.
func MustParse(s string) Size {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return v
}
