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
	"encoding/binary"
	"errors"
)

// ProposalData is one log entry payload: an op code selecting the state
// machine handler, the trace id of the submitting request, and the marshaled
// command.
type ProposalData struct {
	Op      uint32
	TraceID string
	Data    []byte

	// notifyID correlates the applied result back to the waiting proposer.
	notifyID uint64
}

const proposalHeaderSize = 8 + 4 + 2

var errTooShort = errors.New("proposal data too short")

// Marshal frames the proposal as: notify id, op, trace id length, trace id,
// command bytes.
func (p *ProposalData) Marshal() ([]byte, error) {
	if len(p.TraceID) > 1<<16-1 {
		return nil, errors.New("trace id too long")
	}
	buf := make([]byte, proposalHeaderSize+len(p.TraceID)+len(p.Data))
	binary.BigEndian.PutUint64(buf[0:8], p.notifyID)
	binary.BigEndian.PutUint32(buf[8:12], p.Op)
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(p.TraceID)))
	copy(buf[proposalHeaderSize:], p.TraceID)
	copy(buf[proposalHeaderSize+len(p.TraceID):], p.Data)
	return buf, nil
}

func (p *ProposalData) Unmarshal(data []byte) error {
	if len(data) < proposalHeaderSize {
		return errTooShort
	}
	p.notifyID = binary.BigEndian.Uint64(data[0:8])
	p.Op = binary.BigEndian.Uint32(data[8:12])
	tidLen := int(binary.BigEndian.Uint16(data[12:14]))
	if len(data) < proposalHeaderSize+tidLen {
		return errTooShort
	}
	p.TraceID = string(data[proposalHeaderSize : proposalHeaderSize+tidLen])
	p.Data = data[proposalHeaderSize+tidLen:]
	return nil
}

// ProposalResponse carries the state machine's result for one applied entry.
type ProposalResponse struct {
	Data interface{}
}

// Stat is a point-in-time view of the raft group.
type Stat struct {
	NodeID  uint64 `json:"node_id"`
	Leader  uint64 `json:"leader"`
	Term    uint64 `json:"term"`
	Commit  uint64 `json:"commit"`
	Applied uint64 `json:"applied"`
}

// Applier is the state machine the group feeds committed entries to, one
// batch per Ready, strictly in commit order.
type Applier interface {
	Apply(ctx context.Context, pds []ProposalData, index uint64) (rets []interface{}, err error)
	LeaderChange(leader uint64) error
}

type proposalResult struct {
	reply interface{}
	err   error
}

type notify struct {
	ch chan proposalResult
}

func newNotify() notify {
	return notify{ch: make(chan proposalResult, 1)}
}

func (n notify) Notify(ret proposalResult) {
	select {
	case n.ch <- ret:
	default:
	}
}

func (n notify) Wait(ctx context.Context) (proposalResult, error) {
	select {
	case ret := <-n.ch:
		return ret, nil
	case <-ctx.Done():
		return proposalResult{}, ctx.Err()
	}
}
