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
	"testing"

	"github.com/sabermesh/saber/errcode"
	"github.com/stretchr/testify/assert"
)

// rampFrames returns frames*channels interleaved samples with a
// recognizable ramp so skips are observable.
func rampFrames(frames, channels int, start float32) []float32 {
	samples := make([]float32, frames*channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			samples[f*channels+c] = start + float32(f)
		}
	}
	return samples
}

func TestBufferInvalidParams(t *testing.T) {
	a := assert.New(t)

	_, err := NewBuffer(0, 2, 20)
	a.ErrorIs(err, errcode.ErrInvalidAudio)
	_, err = NewBuffer(48000, 0, 20)
	a.ErrorIs(err, errcode.ErrInvalidAudio)
	_, err = NewBuffer(48000, 2, 0)
	a.ErrorIs(err, errcode.ErrInvalidAudio)
}

func TestBufferRoundTrip(t *testing.T) {
	a := assert.New(t)

	b, err := NewBuffer(48000, 2, 40)
	a.Nil(err)

	in := rampFrames(480, 2, 1)
	a.Equal(480, b.WriteSamples(in, 480, 1000))

	out := make([]float32, 480*2)
	read := b.ReadSamples(out, 480, 1000)
	a.Equal(480, read)
	a.Equal(in, out)
}

func TestBufferSilenceOnEarly(t *testing.T) {
	a := assert.New(t)

	b, err := NewBuffer(48000, 2, 40)
	a.Nil(err)

	b.WriteSamples(rampFrames(480, 2, 1), 480, 1000)

	// Reading 100ms before the scheduled presentation time must yield
	// silence and leave the buffered frames untouched.
	out := make([]float32, 480*2)
	for i := range out {
		out[i] = -1
	}
	read := b.ReadSamples(out, 480, 900)
	a.Equal(480, read)
	for _, s := range out {
		a.Zero(s)
	}
	a.Equal(uint32(10), b.LatencyMs()) // 480 frames at 48kHz = 10ms still buffered
}

func TestBufferSkipOnLate(t *testing.T) {
	a := assert.New(t)

	b, err := NewBuffer(48000, 2, 40)
	a.Nil(err)

	b.WriteSamples(rampFrames(960, 2, 0), 960, 1000)

	// Reading 10ms late must skip 480 frames and deliver the frames
	// that line up with now=1010.
	out := make([]float32, 480*2)
	read := b.ReadSamples(out, 480, 1010)
	a.Equal(480, read)
	a.Equal(float32(480), out[0])
	a.Equal(float32(480), out[1])
	a.True(b.ring.Empty())
	a.GreaterOrEqual(b.timestamp, uint64(1020))
}

func TestBufferEmptyReadReturnsZero(t *testing.T) {
	a := assert.New(t)

	b, err := NewBuffer(48000, 2, 20)
	a.Nil(err)

	out := make([]float32, 64)
	a.Equal(0, b.ReadSamples(out, 32, 1000))
}

func TestBufferWriteFullDropsExcess(t *testing.T) {
	a := assert.New(t)

	// 10ms at 16kHz mono = 160 frames of capacity.
	b, err := NewBuffer(16000, 1, 10)
	a.Nil(err)

	written := b.WriteSamples(rampFrames(200, 1, 0), 200, 500)
	a.Equal(160, written)
	a.Equal(uint8(100), b.FillLevel())
}

func TestBufferResizePreservesContents(t *testing.T) {
	a := assert.New(t)

	b, err := NewBuffer(48000, 2, 20)
	a.Nil(err)
	b.WriteSamples(rampFrames(480, 2, 7), 480, 2000)

	a.Nil(b.SetBufferSizeMs(40))
	a.Equal(uint32(40), b.BufferMs())

	out := make([]float32, 480*2)
	read := b.ReadSamples(out, 480, 2000)
	a.Equal(480, read)
	a.Equal(float32(7), out[0])

	a.ErrorIs(b.SetBufferSizeMs(0), errcode.ErrZeroBufferMs)
}

func TestBufferLatency(t *testing.T) {
	a := assert.New(t)

	b, err := NewBuffer(48000, 2, 40)
	a.Nil(err)
	a.Equal(uint32(0), b.LatencyMs())

	b.WriteSamples(rampFrames(960, 2, 0), 960, 100)
	a.Equal(uint32(20), b.LatencyMs())

	b.Clear()
	a.Equal(uint32(0), b.LatencyMs())
}
