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

	"github.com/sabermesh/saber/errcode"
)

// Buffer stores interleaved float32 samples together with the presentation
// time of the oldest buffered frame. Reads resample against a shared clock:
// frames scheduled in the future produce silence, late frames are skipped
// until the head catches up with the requested playback time.
//
// The buffer is the only state shared between the device callback (reader)
// and the network ingest path (writer); both serialize on one mutex.
type Buffer struct {
	mu           sync.Mutex
	sampleRate   uint32
	channels     int
	bufferMs     uint32
	samplesPerMs int
	ring         *RingBuffer[float32]
	// timestamp is the presentation time (unix ms) of the oldest frame.
	// Valid only while the ring is non-empty.
	timestamp uint64
}

// NewBuffer returns a buffer holding bufferMs milliseconds of interleaved
// samples at the given rate and channel count.
func NewBuffer(sampleRate uint32, channels int, bufferMs uint32) (*Buffer, error) {
	if sampleRate == 0 || channels <= 0 || bufferMs == 0 {
		return nil, errcode.ErrInvalidAudio
	}

	samplesPerMs := int(sampleRate / 1000)
	ring, err := NewRingBuffer[float32](samplesPerMs * int(bufferMs) * channels)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		sampleRate:   sampleRate,
		channels:     channels,
		bufferMs:     bufferMs,
		samplesPerMs: samplesPerMs,
		ring:         ring,
	}, nil
}

// WriteSamples deposits frames carrying the given source timestamp and
// returns the number of frames actually written. When the ring is full the
// excess is dropped; back-pressure is the caller's problem.
func (b *Buffer) WriteSamples(samples []float32, frames int, timestamp uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ring.Empty() {
		b.timestamp = timestamp
	}
	written := b.ring.Write(samples[:frames*b.channels])
	return written / b.channels
}

// ReadSamples fills out with up to frames frames for playback at
// currentTime and returns the frame count delivered.
//
// Ahead of schedule the device gets silence and the ring is untouched;
// behind schedule buffered frames are skipped until the head lines up with
// currentTime.
func (b *Buffer) ReadSamples(out []float32, frames int, currentTime uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ring.Empty() {
		return 0
	}

	timeDiff := int64(currentTime) - int64(b.timestamp)
	if timeDiff < 0 {
		zeroFill(out[:frames*b.channels])
		return frames
	}

	framesToSkip := int(timeDiff) * b.samplesPerMs
	if buffered := b.ring.Size() / b.channels; framesToSkip > buffered {
		framesToSkip = buffered
	}
	if framesToSkip > 0 {
		scratch := make([]float32, framesToSkip*b.channels)
		b.ring.Read(scratch)
		b.timestamp += uint64(framesToSkip / b.samplesPerMs)
	}

	read := b.ring.Read(out[:frames*b.channels])
	readFrames := read / b.channels
	b.timestamp += uint64(readFrames / b.samplesPerMs)
	return readFrames
}

// FillLevel returns the ring fill level in the range 0-100.
func (b *Buffer) FillLevel() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.FillPercentage()
}

// LatencyMs returns the buffered audio duration in milliseconds.
func (b *Buffer) LatencyMs() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint32((b.ring.Size() / b.channels) / b.samplesPerMs)
}

// Clear drops all buffered samples.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.Clear()
	b.timestamp = 0
}

// SetBufferSizeMs rebuilds the ring at the new capacity, carrying over the
// buffered samples. Contents beyond the new capacity are dropped from the
// tail, so the head timestamp stays valid.
func (b *Buffer) SetBufferSizeMs(bufferMs uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bufferMs == 0 {
		return errcode.ErrZeroBufferMs
	}

	newRing, err := NewRingBuffer[float32](b.samplesPerMs * int(bufferMs) * b.channels)
	if err != nil {
		return err
	}

	if !b.ring.Empty() {
		scratch := make([]float32, b.ring.Size())
		read := b.ring.Read(scratch)
		newRing.Write(scratch[:read])
	}

	b.bufferMs = bufferMs
	b.ring = newRing
	return nil
}

// BufferMs returns the configured buffer duration in milliseconds.
func (b *Buffer) BufferMs() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferMs
}

func zeroFill(out []float32) {
	for i := range out {
		out[i] = 0
	}
}
