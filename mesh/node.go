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

// Package mesh manages the node registry and the packet dispatch loop of a
// SABER mesh participant.
package mesh

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sabermesh/saber/constant"
)

// Role is the function of a node within the mesh.
type Role byte

const (
	// RoleMaster is the UCB: the broadcast source emitting the stream
	// and the time beacons.
	RoleMaster Role = iota
	// RoleRepeater relays the stream deeper into the mesh.
	RoleRepeater
	// RoleSink decodes and plays the stream.
	RoleSink
)

// String implements the fmt.Stringer interface.
func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "Master"
	case RoleRepeater:
		return "Repeater"
	case RoleSink:
		return "Sink"
	default:
		return "Unknown"
	}
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "master":
		return RoleMaster, nil
	case "repeater":
		return RoleRepeater, nil
	case "sink":
		return RoleSink, nil
	default:
		return 0, errors.Errorf("unknown node role: %q", s)
	}
}

// MarshalText encodes the role as its name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(r.String())), nil
}

// UnmarshalText decodes the role from its name.
func (r *Role) UnmarshalText(txt []byte) error {
	role, err := ParseRole(string(txt))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Node is one mesh participant as seen by the local registry.
type Node struct {
	ID   string
	Role Role

	lastPing    time.Time // zero value means never seen
	latency     uint32
	bufferState uint8
}

// NewNode returns a node that has not pinged yet, with a full buffer.
func NewNode(id string, role Role) *Node {
	return &Node{
		ID:          id,
		Role:        role,
		bufferState: 100,
	}
}

// UpdatePing records that the node was just heard from.
func (n *Node) UpdatePing() {
	n.lastPing = time.Now()
}

// UpdateBufferState records the node's reported buffer level (0-100).
func (n *Node) UpdateBufferState(state uint8) {
	n.bufferState = state
}

// SetLatency records the node's measured latency in milliseconds.
func (n *Node) SetLatency(latency uint32) {
	n.latency = latency
}

// Latency returns the last measured latency in milliseconds.
func (n *Node) Latency() uint32 {
	return n.latency
}

// BufferState returns the last reported buffer level (0-100).
func (n *Node) BufferState() uint8 {
	return n.bufferState
}

// LastPing returns when the node was last heard from; the zero time means
// never.
func (n *Node) LastPing() time.Time {
	return n.lastPing
}

// IsActive reports whether the node pinged within the liveness window.
func (n *Node) IsActive() bool {
	if n.lastPing.IsZero() {
		return false
	}
	return time.Since(n.lastPing) < constant.NodeLivenessWindow
}
