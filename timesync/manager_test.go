// Copyright 2024 SaberMesh, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package timesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerStartsUnsynchronized(t *testing.T) {
	m := NewManager()
	assert.False(t, m.IsSynchronized())
}

func TestHandleTimeBeacon(t *testing.T) {
	a := assert.New(t)

	m := NewManager()
	master := uint64(time.Now().UnixMilli()) + 123

	a.True(m.HandleTimeBeacon(master))
	a.True(m.IsSynchronized())

	// Immediately after the beacon, Now() must sit within a few
	// milliseconds of the master time.
	now := m.Now()
	a.GreaterOrEqual(now, master)
	a.Less(now, master+5)
}

func TestTimeOffsetLaw(t *testing.T) {
	a := assert.New(t)

	m := NewManager()
	// A master clock far in the past yields a large negative offset.
	m.HandleTimeBeacon(1000)

	first := m.Now()
	time.Sleep(20 * time.Millisecond)
	second := m.Now()

	// The synchronized clock advances with the wall clock.
	elapsed := second - first
	a.GreaterOrEqual(elapsed, uint64(15))
	a.Less(elapsed, uint64(200))
}

func TestNodeLatencies(t *testing.T) {
	a := assert.New(t)

	m := NewManager()
	_, ok := m.AverageLatency()
	a.False(ok)

	m.UpdateNodeLatency("n1", 12)
	m.UpdateNodeLatency("n2", 18)
	m.UpdateNodeLatency("n3", 30)

	avg, ok := m.AverageLatency()
	a.True(ok)
	a.Equal(float32(20), avg)

	// Upsert replaces, never accumulates.
	m.UpdateNodeLatency("n3", 12)
	avg, _ = m.AverageLatency()
	a.Equal(float32(14), avg)
}

func TestBufferAdjustment(t *testing.T) {
	a := assert.New(t)

	m := NewManager()
	a.Equal(uint32(10), m.CalculateBufferAdjustment(0))
	a.Equal(uint32(30), m.CalculateBufferAdjustment(20))
	a.Equal(uint32(40), m.CalculateBufferAdjustment(30))
	a.Equal(uint32(40), m.CalculateBufferAdjustment(100))

	// Non-decreasing in latency, never above the cap.
	prev := uint32(0)
	for latency := uint32(0); latency <= 120; latency++ {
		adj := m.CalculateBufferAdjustment(latency)
		a.GreaterOrEqual(adj, prev)
		a.LessOrEqual(adj, uint32(40))
		prev = adj
	}
}

func TestOptimalBufferSize(t *testing.T) {
	a := assert.New(t)

	m := NewManager()
	a.Equal(uint32(20), m.OptimalBufferSize())

	m.UpdateNodeLatency("n1", 12)
	m.UpdateNodeLatency("n2", 18)
	m.UpdateNodeLatency("n3", 30)
	a.Equal(uint32(30), m.OptimalBufferSize())

	m.UpdateNodeLatency("n1", 50)
	m.UpdateNodeLatency("n2", 60)
	m.UpdateNodeLatency("n3", 55)
	a.Equal(uint32(40), m.OptimalBufferSize())
}

func TestJitterDetection(t *testing.T) {
	a := assert.New(t)

	m := NewManager()

	now := m.Now()
	a.False(m.IsNodeOutOfSync("n1", now+4))
	a.False(m.IsNodeOutOfSync("n1", now-4))
	a.True(m.IsNodeOutOfSync("n1", now+50))
	a.True(m.IsNodeOutOfSync("n1", now-50))
}

func TestEmergencySync(t *testing.T) {
	a := assert.New(t)

	m := NewManager()
	m.UpdateNodeLatency("n1", 25)

	var observed uint64
	m.OnEmergencySync(func(masterTime uint64) { observed = masterTime })

	master := uint64(time.Now().UnixMilli()) + 500
	a.True(m.EmergencySync(master))
	a.True(m.IsSynchronized())
	a.Equal(master, observed)

	// Latencies were cleared: buffer sizing restarts from the default.
	_, ok := m.AverageLatency()
	a.False(ok)
	a.Equal(uint32(20), m.OptimalBufferSize())
}
