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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchSeq(t *testing.T) {
	cases := []struct {
		cond MatchSeq
		seq  uint64
		want bool
	}{
		{MatchSeqAny(), 0, true},
		{MatchSeqAny(), 7, true},
		{MatchSeqExact(3), 3, true},
		{MatchSeqExact(3), 2, false},
		{MatchSeqExact(3), 4, false},
		{MatchSeqAtLeast(3), 3, true},
		{MatchSeqAtLeast(3), 4, true},
		{MatchSeqAtLeast(3), 2, false},
		{MustBeAbsent(), 0, true},
		{MustBeAbsent(), 1, false},
		{MustBePresent(), 0, false},
		{MustBePresent(), 1, true},
		{MustBePresent(), 100, true},
	}
	for _, cs := range cases {
		require.Equal(t, cs.want, cs.cond.Match(cs.seq), "%s against %d", cs.cond.String(), cs.seq)
	}
}

func TestKVMetaExpired(t *testing.T) {
	var m *KVMeta
	require.False(t, m.Expired(100))

	require.False(t, (&KVMeta{}).Expired(100))
	require.False(t, (&KVMeta{ExpireAtSec: 100}).Expired(100))
	require.False(t, (&KVMeta{ExpireAtSec: 101}).Expired(100))
	require.True(t, (&KVMeta{ExpireAtSec: 99}).Expired(100))
}

func TestSeqOf(t *testing.T) {
	require.Equal(t, uint64(0), SeqOf(nil))
	require.Equal(t, uint64(5), SeqOf(&SeqV{Seq: 5}))
}

func TestUpsertKVReplyChanged(t *testing.T) {
	v1 := &SeqV{Seq: 1, Data: []byte("a")}
	v2 := &SeqV{Seq: 2, Data: []byte("b")}

	require.False(t, (&UpsertKVReply{}).Changed())
	require.False(t, (&UpsertKVReply{Prev: v1, Result: v1}).Changed())
	require.True(t, (&UpsertKVReply{Prev: v1, Result: v2}).Changed())
	require.True(t, (&UpsertKVReply{Prev: nil, Result: v1}).Changed())
	require.True(t, (&UpsertKVReply{Prev: v1, Result: nil}).Changed())
}
