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

// Package message defines the five SABER mesh packet kinds as a tagged
// value type with total accessors.
package message

import "github.com/sabermesh/saber/errcode"

// Kind identifies the variant held by a Packet.
type Kind byte

// NOTE: kind values are part of the wire format, don't renumber.
const (
	KindPing Kind = 1 + iota
	KindCommand
	KindStatus
	KindTimeBeacon
	KindEmergencySync
)

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindCommand:
		return "Command"
	case KindStatus:
		return "Status"
	case KindTimeBeacon:
		return "TimeBeacon"
	case KindEmergencySync:
		return "EmergencySync"
	default:
		return "Unknown"
	}
}

// Ping carries the sender identity and its send timestamp (unix ms).
type Ping struct {
	Source    string
	Timestamp uint64
}

// Command carries a playback-control command with free-form parameters.
type Command struct {
	Type   string
	Params map[string]string
}

// Status reports a node's buffer fill level (0-100) and measured latency.
type Status struct {
	NodeID  string
	Buffer  uint8
	Latency uint32
}

// TimeBeacon carries the master clock in unix milliseconds.
type TimeBeacon struct {
	MasterTime uint64
}

// EmergencySync forces the listed targets to re-synchronize immediately.
// An empty target list addresses every node.
type EmergencySync struct {
	MasterTime uint64
	Targets    []string
}

// Packet is a value type over the five mesh message kinds. Construct with
// the NewX functions; access with the matching accessor. Constructors copy
// map and slice payloads, so later changes to the caller's map or slice do
// not reach the packet. The Command and EmergencySync accessors return the
// stored map and slice without copying them, and copies of a Packet share
// those payloads.
type Packet struct {
	kind          Kind
	ping          Ping
	command       Command
	status        Status
	timeBeacon    TimeBeacon
	emergencySync EmergencySync
}

// NewPing returns a Ping packet.
func NewPing(source string, timestamp uint64) Packet {
	return Packet{kind: KindPing, ping: Ping{Source: source, Timestamp: timestamp}}
}

// NewCommand returns a Command packet.
func NewCommand(cmdType string, params map[string]string) Packet {
	cloned := make(map[string]string, len(params))
	for k, v := range params {
		cloned[k] = v
	}
	return Packet{kind: KindCommand, command: Command{Type: cmdType, Params: cloned}}
}

// NewStatus returns a Status packet.
func NewStatus(nodeID string, buffer uint8, latency uint32) Packet {
	return Packet{kind: KindStatus, status: Status{NodeID: nodeID, Buffer: buffer, Latency: latency}}
}

// NewTimeBeacon returns a TimeBeacon packet.
func NewTimeBeacon(masterTime uint64) Packet {
	return Packet{kind: KindTimeBeacon, timeBeacon: TimeBeacon{MasterTime: masterTime}}
}

// NewEmergencySync returns an EmergencySync packet.
func NewEmergencySync(masterTime uint64, targets []string) Packet {
	cloned := make([]string, len(targets))
	copy(cloned, targets)
	return Packet{kind: KindEmergencySync, emergencySync: EmergencySync{MasterTime: masterTime, Targets: cloned}}
}

// Kind returns the variant tag.
func (p Packet) Kind() Kind {
	return p.kind
}

// Ping returns the Ping payload, or ErrWrongPacketType for other variants.
func (p Packet) Ping() (Ping, error) {
	if p.kind != KindPing {
		return Ping{}, errcode.ErrWrongPacketType
	}
	return p.ping, nil
}

// Command returns the Command payload, or ErrWrongPacketType for other variants.
func (p Packet) Command() (Command, error) {
	if p.kind != KindCommand {
		return Command{}, errcode.ErrWrongPacketType
	}
	return p.command, nil
}

// Status returns the Status payload, or ErrWrongPacketType for other variants.
func (p Packet) Status() (Status, error) {
	if p.kind != KindStatus {
		return Status{}, errcode.ErrWrongPacketType
	}
	return p.status, nil
}

// TimeBeacon returns the TimeBeacon payload, or ErrWrongPacketType for
// other variants.
func (p Packet) TimeBeacon() (TimeBeacon, error) {
	if p.kind != KindTimeBeacon {
		return TimeBeacon{}, errcode.ErrWrongPacketType
	}
	return p.timeBeacon, nil
}

// EmergencySync returns the EmergencySync payload, or ErrWrongPacketType
// for other variants.
func (p Packet) EmergencySync() (EmergencySync, error) {
	if p.kind != KindEmergencySync {
		return EmergencySync{}, errcode.ErrWrongPacketType
	}
	return p.emergencySync, nil
}
