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

// Package codec serializes mesh packets into the SABER binary wire form.
//
// Packet format:
// | kind(1byte) | payload |
//
// Strings are length-prefixed (2 bytes, big-endian); maps and lists carry
// a 2-byte element count. Fixed integers are big-endian.
package codec

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
	"github.com/sabermesh/saber/message"
)

// ErrTruncated reports a packet shorter than its own framing claims.
var ErrTruncated = errors.New("truncated packet data")

// Encode serializes a mesh packet into its binary wire form.
func Encode(p message.Packet) ([]byte, error) {
	buf := []byte{byte(p.Kind())}

	switch p.Kind() {
	case message.KindPing:
		ping, _ := p.Ping()
		buf = appendString(buf, ping.Source)
		buf = binary.BigEndian.AppendUint64(buf, ping.Timestamp)
	case message.KindCommand:
		cmd, _ := p.Command()
		buf = appendString(buf, cmd.Type)
		keys := make([]string, 0, len(cmd.Params))
		for k := range cmd.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(keys)))
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendString(buf, cmd.Params[k])
		}
	case message.KindStatus:
		status, _ := p.Status()
		buf = appendString(buf, status.NodeID)
		buf = append(buf, status.Buffer)
		buf = binary.BigEndian.AppendUint32(buf, status.Latency)
	case message.KindTimeBeacon:
		beacon, _ := p.TimeBeacon()
		buf = binary.BigEndian.AppendUint64(buf, beacon.MasterTime)
	case message.KindEmergencySync:
		sync, _ := p.EmergencySync()
		buf = binary.BigEndian.AppendUint64(buf, sync.MasterTime)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(sync.Targets)))
		for _, target := range sync.Targets {
			buf = appendString(buf, target)
		}
	default:
		return nil, errors.Errorf("unrecognized packet kind: %d", p.Kind())
	}

	return buf, nil
}

// Decode deserializes binary wire data into a mesh packet.
func Decode(data []byte) (message.Packet, error) {
	if len(data) < 1 {
		return message.Packet{}, ErrTruncated
	}

	r := &reader{data: data[1:]}

	switch message.Kind(data[0]) {
	case message.KindPing:
		source := r.readString()
		timestamp := r.readUint64()
		if r.err != nil {
			return message.Packet{}, r.err
		}
		return message.NewPing(source, timestamp), nil
	case message.KindCommand:
		cmdType := r.readString()
		count := r.readUint16()
		params := make(map[string]string, count)
		for i := 0; i < int(count) && r.err == nil; i++ {
			k := r.readString()
			params[k] = r.readString()
		}
		if r.err != nil {
			return message.Packet{}, r.err
		}
		return message.NewCommand(cmdType, params), nil
	case message.KindStatus:
		nodeID := r.readString()
		buffer := r.readByte()
		latency := r.readUint32()
		if r.err != nil {
			return message.Packet{}, r.err
		}
		return message.NewStatus(nodeID, buffer, latency), nil
	case message.KindTimeBeacon:
		masterTime := r.readUint64()
		if r.err != nil {
			return message.Packet{}, r.err
		}
		return message.NewTimeBeacon(masterTime), nil
	case message.KindEmergencySync:
		masterTime := r.readUint64()
		count := r.readUint16()
		targets := make([]string, 0, count)
		for i := 0; i < int(count) && r.err == nil; i++ {
			targets = append(targets, r.readString())
		}
		if r.err != nil {
			return message.Packet{}, r.err
		}
		return message.NewEmergencySync(masterTime, targets), nil
	default:
		return message.Packet{}, errors.Errorf("unrecognized packet kind: %d", data[0])
	}
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

type reader struct {
	data []byte
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < n {
		r.err = ErrTruncated
		return nil
	}
	out := r.data[:n]
	r.data = r.data[n:]
	return out
}

func (r *reader) readByte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) readUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) readUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) readUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) readString() string {
	n := r.readUint16()
	return string(r.take(int(n)))
}
