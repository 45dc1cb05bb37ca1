// Copyright 2023 The FuseDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package kvapi defines the key-value contract of the metadata layer: the
// structured-key codec and the request/reply types every conforming node
// exposes.
package kvapi

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// KeySeparator joins the segments of an encoded structured key. It is outside
// the escaped alphabet [0-9A-Za-z_%], so an escaped payload segment can never
// contain it.
const KeySeparator = "/"

// Key converts a structured key to its flat string form and back.
//
// The set of key variants is closed; every metadata entity registers exactly
// one prefix, and the prefix occupies its own unescaped segment so two
// variants can never encode to indistinguishable strings.
type Key interface {
	// Prefix is the constant discriminator segment of this key family.
	Prefix() string
	// Encode renders the key as a flat string: prefix, then each payload
	// segment escaped, joined by KeySeparator.
	Encode() string
	// Decode parses a flat string key in place. It fails with a KeyError
	// if the prefix, the segment count or any segment content does not
	// match this variant.
	Decode(s string) error
}

// Escape converts arbitrary text into the restricted key alphabet.
//
// ASCII digits, letters and '_' are copied unchanged; every other byte
// becomes '%' followed by two lowercase hex digits, high nibble first.
// Escape is total and injective, and never emits the segment separator.
func Escape(key string) string {
	buf := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= '0' && c <= '9',
			c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c == '_':
			buf = append(buf, c)
		default:
			buf = append(buf, '%', hexDigit(c>>4), hexDigit(c&0x0f))
		}
	}
	return string(buf)
}

// Unescape reverses Escape. It fails if a '%' is not followed by two hex
// digits, or if the reconstructed bytes are not valid UTF-8 text.
func Unescape(key string) (string, error) {
	buf := make([]byte, 0, len(key))
	for i := 0; i < len(key); {
		c := key[i]
		if c != '%' {
			buf = append(buf, c)
			i++
			continue
		}
		if i+2 >= len(key) {
			return "", &InvalidEscapeError{Input: key, Offset: i}
		}
		hi, ok1 := unhexDigit(key[i+1])
		lo, ok2 := unhexDigit(key[i+2])
		if !ok1 || !ok2 {
			return "", &InvalidEscapeError{Input: key, Offset: i}
		}
		buf = append(buf, hi<<4|lo)
		i += 3
	}
	if !utf8.Valid(buf) {
		return "", &InvalidUTF8Error{Input: key}
	}
	return string(buf), nil
}

// DecodeID parses an id segment as an unsigned 64-bit integer.
func DecodeID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &InvalidIDError{Input: s, Reason: err.Error()}
	}
	return id, nil
}

// ListPrefix returns the string prefix covering every key of the family
// identified by prefix, for use with PrefixListKV.
func ListPrefix(prefix string) string {
	return prefix + KeySeparator
}

func hexDigit(num byte) byte {
	if num < 10 {
		return '0' + num
	}
	return 'a' + (num - 10)
}

func unhexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// segments is the cursor every variant decoder walks: split once, then
// validate segment by segment so errors carry the exact index and text.
type segments struct {
	raw  string
	elts []string
}

func splitKey(s string) (*segments, error) {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return nil, &NonASCIIError{Input: s}
		}
	}
	return &segments{raw: s, elts: strings.Split(s, KeySeparator)}, nil
}

// present returns the i-th segment, failing if the key is too short.
func (s *segments) present(i int) (string, error) {
	if i >= len(s.elts) {
		return "", &WrongNumberOfSegmentsError{Expect: i + 1, Got: s.raw}
	}
	return s.elts[i], nil
}

// absent guards against trailing garbage beyond the variant's arity.
func (s *segments) absent(i int) error {
	if i < len(s.elts) {
		return &WrongNumberOfSegmentsError{Expect: i, Got: s.raw}
	}
	return nil
}

// atLeast requires the key to have at least n segments.
func (s *segments) atLeast(n int) error {
	if len(s.elts) < n {
		return &AtLeastSegmentsError{Expect: n, Actual: len(s.elts)}
	}
	return nil
}

// literal requires the i-th segment to equal expect exactly.
func (s *segments) literal(i int, expect string) error {
	elt, err := s.present(i)
	if err != nil {
		return err
	}
	if elt != expect {
		return &InvalidSegmentError{Index: i, Expect: expect, Got: elt}
	}
	return nil
}

// str returns the i-th segment unescaped.
func (s *segments) str(i int) (string, error) {
	elt, err := s.present(i)
	if err != nil {
		return "", err
	}
	return Unescape(elt)
}

// id returns the i-th segment parsed as a uint64 id.
func (s *segments) id(i int) (uint64, error) {
	elt, err := s.present(i)
	if err != nil {
		return 0, err
	}
	return DecodeID(elt)
}
