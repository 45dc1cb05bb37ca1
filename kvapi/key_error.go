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

package kvapi

import "fmt"

// KeyError marks every codec decoding failure. None of these are retryable:
// they indicate a malformed key and must be surfaced to the caller with the
// offending context intact.
type KeyError interface {
	error
	keyError()
}

// InvalidUTF8Error reports that unescaping reconstructed a byte sequence that
// is not valid UTF-8 text.
type InvalidUTF8Error struct {
	Input string
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("invalid utf-8 text after unescape: '%s'", e.Input)
}

// NonASCIIError reports non-ASCII input where only escaped ASCII is allowed.
type NonASCIIError struct {
	Input string
}

func (e *NonASCIIError) Error() string {
	return fmt.Sprintf("non-ascii char are not supported: '%s'", e.Input)
}

// InvalidSegmentError reports a segment whose content does not match the
// expected literal.
type InvalidSegmentError struct {
	Index  int
	Expect string
	Got    string
}

func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("expect %d-th segment to be '%s', but: '%s'", e.Index, e.Expect, e.Got)
}

// WrongNumberOfSegmentsError reports a key with the wrong exact segment count.
type WrongNumberOfSegmentsError struct {
	Expect int
	Got    string
}

func (e *WrongNumberOfSegmentsError) Error() string {
	return fmt.Sprintf("expect %d segments, but: '%s'", e.Expect, e.Got)
}

// AtLeastSegmentsError reports a key shorter than the minimum segment count.
type AtLeastSegmentsError struct {
	Expect int
	Actual int
}

func (e *AtLeastSegmentsError) Error() string {
	return fmt.Sprintf("expect at least %d segments, but %d segments found", e.Expect, e.Actual)
}

// InvalidIDError reports an id segment that does not parse as a uint64.
type InvalidIDError struct {
	Input  string
	Reason string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid id string: '%s': %s", e.Input, e.Reason)
}

// InvalidEscapeError reports a '%' that is not followed by two hex digits.
type InvalidEscapeError struct {
	Input  string
	Offset int
}

func (e *InvalidEscapeError) Error() string {
	return fmt.Sprintf("invalid escape sequence at %d: '%s'", e.Offset, e.Input)
}

func (*InvalidUTF8Error) keyError()           {}
func (*NonASCIIError) keyError()              {}
func (*InvalidSegmentError) keyError()        {}
func (*WrongNumberOfSegmentsError) keyError() {}
func (*AtLeastSegmentsError) keyError()       {}
func (*InvalidIDError) keyError()             {}
func (*InvalidEscapeError) keyError()         {}
