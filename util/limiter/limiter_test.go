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

package limiter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountLimit(t *testing.T) {
	cl := NewCountLimit(2)

	require.NoError(t, cl.Acquire())
	require.NoError(t, cl.Acquire())
	require.Equal(t, 2, cl.Running())

	require.Equal(t, ErrLimitExceeded, cl.Acquire())

	cl.Release()
	require.NoError(t, cl.Acquire())

	cl.SetLimit(3)
	require.NoError(t, cl.Acquire())
	require.Equal(t, ErrLimitExceeded, cl.Acquire())
}

func TestLimiterUnlimited(t *testing.T) {
	lim := NewLimiter(LimitConfig{})

	for i := 0; i < 100; i++ {
		require.NoError(t, lim.AcquireRead())
		require.NoError(t, lim.AcquireWrite(context.Background()))
	}
	st := lim.Status()
	require.Equal(t, 0, st.ReadRunning)
	require.Equal(t, 0, st.WriteRunning)
}

func TestLimiterConcurrency(t *testing.T) {
	lim := NewLimiter(LimitConfig{ReadConcurrency: 1, WriteConcurrency: 1})

	require.NoError(t, lim.AcquireRead())
	require.Equal(t, ErrLimitExceeded, lim.AcquireRead())
	lim.ReleaseRead()
	require.NoError(t, lim.AcquireRead())
	lim.ReleaseRead()

	require.NoError(t, lim.AcquireWrite(context.Background()))
	require.Equal(t, ErrLimitExceeded, lim.AcquireWrite(context.Background()))
	lim.ReleaseWrite()

	lim.SetWriteConcurrency(2)
	require.NoError(t, lim.AcquireWrite(context.Background()))
	require.NoError(t, lim.AcquireWrite(context.Background()))

	st := lim.Status()
	require.Equal(t, 2, st.WriteRunning)
}

func TestLimiterWriteRate(t *testing.T) {
	lim := NewLimiter(LimitConfig{WriteOPS: 1000})

	// burst capacity admits immediately
	require.NoError(t, lim.AcquireWrite(context.Background()))

	// a cancelled context interrupts the rate wait path
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lim.SetWriteOPS(1)
	require.Error(t, lim.AcquireWrite(ctx))
}
