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

package constant

import "time"

const EnvLogLevel = "SABER_LOG_VERBOSE"

// Audio stream constants
const (
	// SampleRateMusic is the sample rate of music-grade streams.
	SampleRateMusic = 48000
	// SampleRateVoice is the sample rate of voice-grade streams.
	SampleRateVoice = 16000
	// DefaultChannels is the channel count of music-grade streams.
	DefaultChannels = 2

	// InitialBufferMs is the audio buffer size before the first
	// latency measurement arrives.
	InitialBufferMs = 20
	// MaxBufferMs caps the audio buffer size. End-to-end latency must
	// stay music-grade, so buffer sizing never exceeds this.
	MaxBufferMs = 40
	// BufferHeadroomMs is added on top of the measured network latency
	// when sizing the audio buffer.
	BufferHeadroomMs = 10

	// FramesPerDeviceBuffer is the number of frames the output device
	// pulls per callback.
	FramesPerDeviceBuffer = 256
)

// Synchronization constants
const (
	// MaxJitterMs is the tolerated deviation between a node's reported
	// time and the synchronized clock.
	MaxJitterMs = 5

	// NodeLivenessWindow is how long a node stays active after its last ping.
	NodeLivenessWindow = 30 * time.Second

	// BeaconInterval is how often a master broadcasts time beacons.
	BeaconInterval = time.Second
	// StatusInterval is how often a sink reports its buffer status.
	StatusInterval = time.Second
	// TickInterval is the granularity of the protocol housekeeping ticker
	// and of the mesh worker wakeup.
	TickInterval = 100 * time.Millisecond
	// HeartbeatInterval is how often a master pings the mesh.
	HeartbeatInterval = 30 * time.Second
)

// Crypto envelope constants

// Envelope format:
// | nonce(12bytes) | ciphertext | tag(16bytes) |
//
// Nonce format:
// | timestamp_ms(8bytes) | counter(4bytes) |
const (
	NonceSize        = 12
	TagSize          = 16
	EnvelopeOverhead = NonceSize + TagSize

	NetworkKeySize = 32
	SignatureSize  = 64
	PublicKeySize  = 32
)

// MaxQueuedPackets is the capacity of the mesh ingest queue.
const MaxQueuedPackets = 256
