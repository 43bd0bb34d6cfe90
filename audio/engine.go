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

package audio

import (
	"sync"
	"time"

	"github.com/sabermesh/saber/constant"
	"github.com/sabermesh/saber/errcode"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is the engine lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	// StateStopped is terminal; a stopped engine is never restarted.
	StateStopped
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Engine drives synchronized playback: it owns the stream, feeds it network
// audio and paces startup against the measured network latency.
//
// Lifecycle: Created -> Initialized -> Running -> Stopped.
type Engine struct {
	mu         sync.Mutex
	sampleRate uint32
	channels   int
	device     Device
	stream     *Stream

	state      *atomic.Int32
	synced     *atomic.Bool
	timeOffset *atomic.Int64
}

// NewEngine returns an engine for the given format. A nil device selects a
// TickerDevice paced at the nominal sample rate.
func NewEngine(sampleRate uint32, channels int, device Device) *Engine {
	if device == nil {
		device = NewTickerDevice(sampleRate, channels)
	}
	return &Engine{
		sampleRate: sampleRate,
		channels:   channels,
		device:     device,
		state:      atomic.NewInt32(int32(StateCreated)),
		synced:     atomic.NewBool(false),
		timeOffset: atomic.NewInt64(0),
	}
}

// Initialize installs the time provider and allocates the stream with the
// initial jitter buffer. The provider returns master-synchronized
// milliseconds and is invoked from the playback thread.
func (e *Engine) Initialize(timeProvider TimeProvider) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if State(e.state.Load()) != StateCreated {
		return errcode.New("engine already initialized", errcode.InvalidArgument)
	}

	stream, err := NewStream(e.sampleRate, e.channels, constant.InitialBufferMs, timeProvider, e.device)
	if err != nil {
		return err
	}
	e.stream = stream
	e.state.Store(int32(StateInitialized))

	zap.L().Info("Sync engine initialized",
		zap.Uint32("sample_rate", e.sampleRate),
		zap.Int("channels", e.channels))
	return nil
}

// Start resizes the jitter buffer to optimalBufferMs, waits half of it to
// pre-fill, then enables the device callback. Device errors are fatal: the
// engine transitions to Stopped and the error surfaces to the caller.
func (e *Engine) Start(optimalBufferMs uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if State(e.state.Load()) != StateInitialized {
		return errcode.ErrNotInitialized
	}

	if err := e.stream.SetBufferSize(optimalBufferMs); err != nil {
		return err
	}

	// Let the ingest side fill part of the buffer before the device
	// starts pulling.
	time.Sleep(time.Duration(optimalBufferMs/2) * time.Millisecond)

	if err := e.stream.Start(); err != nil {
		e.state.Store(int32(StateStopped))
		return err
	}
	e.state.Store(int32(StateRunning))

	zap.L().Info("Sync engine started", zap.Uint32("buffer_ms", optimalBufferMs))
	return nil
}

// Stop disables the callback, drains in-flight audio and closes the device.
// The engine is terminal afterwards.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := State(e.state.Swap(int32(StateStopped)))
	if prev != StateRunning {
		return nil
	}

	if err := e.stream.Stop(); err != nil {
		return err
	}
	if err := e.stream.Close(); err != nil {
		return err
	}

	zap.L().Info("Sync engine stopped")
	return nil
}

// WriteAudioData forwards frames with their source timestamp into the
// jitter buffer and returns the frame count accepted.
func (e *Engine) WriteAudioData(samples []float32, frames int, sourceTimestamp uint64) (int, error) {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream == nil {
		return 0, errcode.ErrNotInitialized
	}
	return stream.WriteAudio(samples, frames, sourceTimestamp), nil
}

// UpdateSyncState surfaces the mesh synchronization status to the engine.
func (e *Engine) UpdateSyncState(isSynced bool, timeOffset int64) {
	e.synced.Store(isSynced)
	e.timeOffset.Store(timeOffset)

	if isSynced {
		zap.L().Debug("Sync engine synchronized", zap.Int64("offset_ms", timeOffset))
	} else {
		zap.L().Warn("Sync engine lost synchronization")
	}
}

// CurrentLatency sums software and hardware latency in milliseconds.
func (e *Engine) CurrentLatency() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return 0
	}
	return e.stream.CurrentLatency()
}

// BufferLevel returns the jitter buffer fill level in the range 0-100.
func (e *Engine) BufferLevel() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return 0
	}
	return e.stream.BufferLevel()
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsActive reports whether the engine is running.
func (e *Engine) IsActive() bool {
	return State(e.state.Load()) == StateRunning
}

// IsSynchronized reports the last synchronization status pushed via
// UpdateSyncState.
func (e *Engine) IsSynchronized() bool {
	return e.synced.Load()
}
