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

package raftlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProposalDataMarshal(t *testing.T) {
	pd := &ProposalData{
		Op:       3,
		TraceID:  "trace-xyz",
		Data:     []byte("payload"),
		notifyID: 77,
	}
	buf, err := pd.Marshal()
	require.NoError(t, err)

	got := &ProposalData{}
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, pd.Op, got.Op)
	require.Equal(t, pd.TraceID, got.TraceID)
	require.Equal(t, pd.Data, got.Data)
	require.Equal(t, pd.notifyID, got.notifyID)
}

func TestProposalDataMarshalEmpty(t *testing.T) {
	pd := &ProposalData{Op: 1}
	buf, err := pd.Marshal()
	require.NoError(t, err)

	got := &ProposalData{}
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, uint32(1), got.Op)
	require.Equal(t, "", got.TraceID)
	require.Empty(t, got.Data)
}

func TestProposalDataUnmarshalShort(t *testing.T) {
	got := &ProposalData{}
	require.Equal(t, errTooShort, got.Unmarshal([]byte("short")))

	// header claims a longer trace id than the buffer holds
	pd := &ProposalData{TraceID: "0123456789"}
	buf, err := pd.Marshal()
	require.NoError(t, err)
	require.Equal(t, errTooShort, got.Unmarshal(buf[:proposalHeaderSize+3]))
}

func TestNotify(t *testing.T) {
	n := newNotify()
	n.Notify(proposalResult{reply: "first"})
	// a second notify on the same waiter is dropped, not blocked
	n.Notify(proposalResult{reply: "second"})

	ret, err := n.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", ret.reply)
}

func TestNotifyWaitTimeout(t *testing.T) {
	n := newNotify()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := n.Wait(ctx)
	require.Error(t, err)
	require.Equal(t, context.DeadlineExceeded, err)
}
