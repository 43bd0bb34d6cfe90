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
	"time"

	"github.com/pkg/errors"
	"github.com/sabermesh/saber/constant"
	"go.uber.org/atomic"
)

// Callback fills out with frames*channels interleaved float32 samples.
// It is invoked from the device's playback thread and must be non-blocking.
type Callback func(out []float32, frames int)

// Device is the external audio sink: it pulls fixed-size frame buffers at
// a known sample rate. Real driver bindings live outside this module; the
// engine only needs this seam.
type Device interface {
	// Start begins pulling audio through cb until Stop is called.
	Start(cb Callback) error
	// Stop ceases callback invocations.
	Stop() error
	// Close releases the device. Start must not be called afterwards.
	Close() error
	// OutputLatency reports the device-side output latency.
	OutputLatency() time.Duration
}

// TickerDevice paces callbacks at the nominal sample rate on a plain
// goroutine. It discards the pulled samples, serving as the default sink
// for tests, single-node operation and the CLI.
type TickerDevice struct {
	sampleRate uint32
	channels   int
	frames     int
	running    *atomic.Bool
	closed     *atomic.Bool
	done       chan struct{}
}

// NewTickerDevice returns a device pulling FramesPerDeviceBuffer frames per
// callback at the given rate.
func NewTickerDevice(sampleRate uint32, channels int) *TickerDevice {
	return &TickerDevice{
		sampleRate: sampleRate,
		channels:   channels,
		frames:     constant.FramesPerDeviceBuffer,
		running:    atomic.NewBool(false),
		closed:     atomic.NewBool(false),
	}
}

// Start implements the Device interface.
func (d *TickerDevice) Start(cb Callback) error {
	if d.closed.Load() {
		return errors.New("start on a closed device")
	}
	if d.running.Swap(true) {
		return nil
	}

	d.done = make(chan struct{})
	period := time.Duration(d.frames) * time.Second / time.Duration(d.sampleRate)

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		out := make([]float32, d.frames*d.channels)
		for {
			select {
			case <-d.done:
				return
			case <-ticker.C:
				cb(out, d.frames)
			}
		}
	}()
	return nil
}

// Stop implements the Device interface.
func (d *TickerDevice) Stop() error {
	if !d.running.Swap(false) {
		return nil
	}
	close(d.done)
	return nil
}

// Close implements the Device interface.
func (d *TickerDevice) Close() error {
	if d.closed.Swap(true) {
		return errors.New("close a closed device")
	}
	return d.Stop()
}

// OutputLatency implements the Device interface. One callback buffer of
// latency is what the pacing goroutine amounts to.
func (d *TickerDevice) OutputLatency() time.Duration {
	return time.Duration(d.frames) * time.Second / time.Duration(d.sampleRate)
}
