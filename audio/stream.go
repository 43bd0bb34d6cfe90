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
	"github.com/sabermesh/saber/errcode"
	"github.com/sabermesh/saber/internal/logutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// drainWait is how long Stop waits for in-flight audio before closing.
const drainWait = 100 * time.Millisecond

// TimeProvider returns master-synchronized milliseconds. It is invoked from
// the device playback thread: it must be lock-free and non-blocking.
type TimeProvider func() uint64

// Stream binds a presentation-timed buffer to an output device. The device
// callback pulls frames against the synchronized clock; the network ingest
// path pushes frames with their source timestamps.
type Stream struct {
	sampleRate   uint32
	channels     int
	buffer       *Buffer
	device       Device
	timeProvider TimeProvider
	active       *atomic.Bool
}

// NewStream returns a stream over the given device with a bufferMs jitter
// buffer.
func NewStream(sampleRate uint32, channels int, bufferMs uint32, timeProvider TimeProvider, device Device) (*Stream, error) {
	buffer, err := NewBuffer(sampleRate, channels, bufferMs)
	if err != nil {
		return nil, err
	}
	return &Stream{
		sampleRate:   sampleRate,
		channels:     channels,
		buffer:       buffer,
		device:       device,
		timeProvider: timeProvider,
		active:       atomic.NewBool(false),
	}, nil
}

// Start enables the device callback.
func (s *Stream) Start() error {
	if err := s.device.Start(s.callback); err != nil {
		return errcode.Wrap(errors.WithMessage(err, "start audio device"), errcode.DeviceError)
	}
	s.active.Store(true)
	return nil
}

// Stop disables the callback, waits for in-flight audio to drain and stops
// the device.
func (s *Stream) Stop() error {
	if !s.active.Swap(false) {
		return nil
	}

	time.Sleep(drainWait)
	if err := s.device.Stop(); err != nil {
		return errcode.Wrap(errors.WithMessage(err, "stop audio device"), errcode.DeviceError)
	}
	return nil
}

// Close releases the underlying device.
func (s *Stream) Close() error {
	if err := s.device.Close(); err != nil {
		return errcode.Wrap(err, errcode.DeviceError)
	}
	return nil
}

// WriteAudio deposits frames with their source timestamp and returns the
// frame count written.
func (s *Stream) WriteAudio(samples []float32, frames int, timestamp uint64) int {
	return s.buffer.WriteSamples(samples, frames, timestamp)
}

// CurrentLatency sums the software (ring occupancy) and hardware
// (device-reported) latency in milliseconds.
func (s *Stream) CurrentLatency() uint32 {
	return s.buffer.LatencyMs() + uint32(s.device.OutputLatency().Milliseconds())
}

// SetBufferSize resizes the jitter buffer.
func (s *Stream) SetBufferSize(bufferMs uint32) error {
	return s.buffer.SetBufferSizeMs(bufferMs)
}

// BufferLevel returns the jitter buffer fill level in the range 0-100.
func (s *Stream) BufferLevel() uint8 {
	return s.buffer.FillLevel()
}

// callback runs on the device playback thread. Shortfalls degrade to
// zero-filled output; the stream is never aborted from here.
func (s *Stream) callback(out []float32, frames int) {
	samples := out[:frames*s.channels]
	if !s.active.Load() {
		zeroFill(samples)
		return
	}

	now := s.timeProvider()
	read := s.buffer.ReadSamples(out, frames, now)
	if read < frames {
		zeroFill(samples[read*s.channels:])
		if logutil.IsEnableAudio() {
			zap.L().Debug("Audio underrun", zap.Int("frames", frames-read))
		}
	}
}
