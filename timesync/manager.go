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

// Package timesync maintains the local-to-master clock offset and the
// per-node latency table that drives audio buffer sizing.
package timesync

import (
	"sync"
	"time"

	"github.com/sabermesh/saber/constant"
	"github.com/sabermesh/saber/internal/logutil"
	"go.uber.org/zap"
)

// Manager translates local wall-clock milliseconds into master-clock
// milliseconds via a single scalar offset. The latest beacon wins; no
// smoothing is applied.
type Manager struct {
	mu            sync.Mutex
	timeOffsetMs  int64
	lastBeacon    time.Time // zero value means no beacon yet
	nodeLatencies map[string]uint32
	synced        bool
	maxJitterMs   uint32

	// onEmergencySync, when set, observes forced re-synchronizations.
	onEmergencySync func(masterTime uint64)
}

// NewManager returns a manager with no synchronization state.
func NewManager() *Manager {
	return &Manager{
		nodeLatencies: map[string]uint32{},
		maxJitterMs:   constant.MaxJitterMs,
	}
}

// Now returns the master-synchronized time in unix milliseconds.
func (m *Manager) Now() uint64 {
	current := wallClockMs()

	m.mu.Lock()
	offset := m.timeOffsetMs
	m.mu.Unlock()

	return uint64(int64(current) + offset)
}

// HandleTimeBeacon aligns the local clock with the master clock carried by
// a time beacon.
func (m *Manager) HandleTimeBeacon(masterTime uint64) bool {
	offset := int64(masterTime) - int64(wallClockMs())

	m.mu.Lock()
	m.timeOffsetMs = offset
	m.lastBeacon = time.Now()
	m.synced = true
	m.mu.Unlock()

	if logutil.IsEnableBeacon() {
		zap.L().Debug("Time beacon applied",
			zap.Uint64("master_time", masterTime),
			zap.Int64("offset_ms", offset))
	}
	return true
}

// IsSynchronized reports whether at least one beacon has been applied.
func (m *Manager) IsSynchronized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.lastBeacon.IsZero() && m.synced
}

// TimeOffset returns the current local-to-master offset in milliseconds.
func (m *Manager) TimeOffset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeOffsetMs
}

// UpdateNodeLatency upserts the measured latency of a mesh node.
func (m *Manager) UpdateNodeLatency(nodeID string, latencyMs uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeLatencies[nodeID] = latencyMs
}

// AverageLatency returns the arithmetic mean over the known node latencies.
// The second result is false when no latency has been recorded.
func (m *Manager) AverageLatency() (float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.nodeLatencies) == 0 {
		return 0, false
	}

	var sum uint64
	for _, latency := range m.nodeLatencies {
		sum += uint64(latency)
	}
	return float32(sum) / float32(len(m.nodeLatencies)), true
}

// IsNodeOutOfSync reports whether the node's reported time deviates from
// the synchronized clock by more than the jitter tolerance.
func (m *Manager) IsNodeOutOfSync(nodeID string, reportedTime uint64) bool {
	current := m.Now()

	var diff uint64
	if current > reportedTime {
		diff = current - reportedTime
	} else {
		diff = reportedTime - current
	}
	return diff > uint64(m.maxJitterMs)
}

// CalculateBufferAdjustment sizes the jitter buffer slightly above the
// node latency, hard-capped at the music-grade ceiling.
func (m *Manager) CalculateBufferAdjustment(nodeLatency uint32) uint32 {
	bufferSize := nodeLatency + constant.BufferHeadroomMs
	if bufferSize > constant.MaxBufferMs {
		return constant.MaxBufferMs
	}
	return bufferSize
}

// OptimalBufferSize derives the buffer size from the average latency, or
// falls back to the initial size when no measurements exist.
func (m *Manager) OptimalBufferSize() uint32 {
	avg, ok := m.AverageLatency()
	if !ok {
		return constant.InitialBufferMs
	}
	return m.CalculateBufferAdjustment(uint32(avg))
}

// EmergencySync forces re-alignment to the master clock and clears the
// latency table, so buffer sizing restarts from scratch.
func (m *Manager) EmergencySync(masterTime uint64) bool {
	result := m.HandleTimeBeacon(masterTime)

	m.mu.Lock()
	m.nodeLatencies = map[string]uint32{}
	hook := m.onEmergencySync
	m.mu.Unlock()

	zap.L().Warn("Emergency re-synchronization", zap.Uint64("master_time", masterTime))
	if hook != nil {
		hook(masterTime)
	}
	return result
}

// OnEmergencySync installs a telemetry hook observing forced
// re-synchronizations.
func (m *Manager) OnEmergencySync(hook func(masterTime uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmergencySync = hook
}

func wallClockMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
