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

package codec

import (
	"testing"

	"github.com/sabermesh/saber/message"
	"github.com/stretchr/testify/assert"
)

func TestRoundTripAllKinds(t *testing.T) {
	a := assert.New(t)

	packets := []message.Packet{
		message.NewPing("node-a1b2", 1712345678901),
		message.NewCommand("volume", map[string]string{"level": "80", "fade": "true"}),
		message.NewCommand("mute", nil),
		message.NewStatus("sink-7", 42, 23),
		message.NewTimeBeacon(1712345678999),
		message.NewEmergencySync(1712345679000, []string{"sink-1", "sink-2"}),
		message.NewEmergencySync(7, nil),
	}

	for _, pkt := range packets {
		data, err := Encode(pkt)
		a.Nil(err)

		decoded, err := Decode(data)
		a.Nil(err)
		a.Equal(pkt.Kind(), decoded.Kind())
		a.Equal(pkt, decoded)
	}
}

func TestDecodeEmpty(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte{0xff, 1, 2, 3})
	assert.NotNil(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	a := assert.New(t)

	data, err := Encode(message.NewPing("node-1", 42))
	a.Nil(err)

	for cut := 1; cut < len(data); cut++ {
		_, err := Decode(data[:cut])
		a.NotNil(err, "cut=%d", cut)
	}
}
