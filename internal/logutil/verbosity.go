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

package logutil

import (
	"os"
	"strings"

	"github.com/sabermesh/saber/constant"
	"go.uber.org/zap/zapcore"
)

// bits are used to check whether output verbose log.
var bits = 0

func init() {
	v, ok := os.LookupEnv(constant.EnvLogLevel)
	if ok {
		v = strings.ToLower(v)
		if v == "all" {
			EnableAll()
		} else {
			parts := strings.Split(v, ",")
			for _, p := range parts {
				p = strings.TrimSpace(p)
				switch p {
				case "beacon":
					Enable(DebugBeacon)
				case "packet":
					Enable(DebugPacket)
				case "audio":
					Enable(DebugAudio)
				case "mesh":
					Enable(DebugMesh)
				}
			}
		}
	}
}

type Type byte

const (
	// DebugBeacon indicates time beacons and offset updates
	DebugBeacon Type = 0
	// DebugPacket indicates encrypted packets crossing the wire envelope
	DebugPacket Type = 1
	// DebugAudio indicates audio callback under/overruns and resampling
	DebugAudio Type = 2
	// DebugMesh indicates node registry and dispatch events
	DebugMesh Type = 3
)

// Enable enables the output of some types of verbose log.
func Enable(t Type) {
	bits |= 1 << t
}

func EnableAll() {
	for _, l := range []Type{DebugBeacon, DebugPacket, DebugAudio, DebugMesh} {
		Enable(l)
	}
}

// Level returns the log level corresponding to the verbosity level
func Level() zapcore.Level {
	if bits > 0 {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// IsEnableBeacon checks if time-beacon debug logs enabled.
func IsEnableBeacon() bool {
	return bits&(1<<DebugBeacon) > 0
}

// IsEnablePacket checks if wire envelope debug logs enabled.
func IsEnablePacket() bool {
	return bits&(1<<DebugPacket) > 0
}

// IsEnableAudio checks if audio pipeline debug logs enabled.
func IsEnableAudio() bool {
	return bits&(1<<DebugAudio) > 0
}

// IsEnableMesh checks if mesh dispatch debug logs enabled.
func IsEnableMesh() bool {
	return bits&(1<<DebugMesh) > 0
}
