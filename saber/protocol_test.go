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

package saber

import (
	"sync"
	"testing"
	"time"

	"github.com/sabermesh/saber/audio"
	"github.com/sabermesh/saber/mesh"
	"github.com/sabermesh/saber/message"
	"github.com/stretchr/testify/assert"
)

// silentDevice satisfies audio.Device without pacing a playback thread.
type silentDevice struct{}

func (silentDevice) Start(audio.Callback) error   { return nil }
func (silentDevice) Stop() error                  { return nil }
func (silentDevice) Close() error                 { return nil }
func (silentDevice) OutputLatency() time.Duration { return 0 }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func newSink(t *testing.T, id string, key []byte) *Protocol {
	t.Helper()
	p := New(&Config{
		NodeID:     id,
		Role:       mesh.RoleSink,
		MusicMode:  true,
		NetworkKey: key,
	})
	p.SetAudioDevice(silentDevice{})
	assert.Nil(t, p.Initialize())
	return p
}

func TestInitializeAndShutdown(t *testing.T) {
	a := assert.New(t)

	p := newSink(t, "sink-1", nil)
	defer p.Shutdown()

	a.False(p.IsSynchronized())
	a.NotNil(p.Crypto())
	a.NotNil(p.SyncManager())
	a.Empty(p.ActiveNodes())

	// Double initialization is rejected.
	a.NotNil(p.Initialize())
}

func TestUpdateTimeSync(t *testing.T) {
	a := assert.New(t)

	p := newSink(t, "sink-1", nil)
	defer p.Shutdown()

	master := uint64(time.Now().UnixMilli()) + 250
	a.True(p.UpdateTimeSync(master))
	a.True(p.IsSynchronized())

	now := p.SyncManager().Now()
	a.GreaterOrEqual(now, master)
	a.Less(now, master+10)
}

func TestStartPlaybackRequiresSync(t *testing.T) {
	a := assert.New(t)

	p := newSink(t, "sink-1", nil)
	defer p.Shutdown()

	a.NotNil(p.StartAudioPlayback())

	p.UpdateTimeSync(uint64(time.Now().UnixMilli()))
	a.Nil(p.StartAudioPlayback())

	written, err := p.WriteAudio(make([]float32, 480*2), 480, p.SyncManager().Now())
	a.Nil(err)
	a.Equal(480, written)
	a.Greater(p.CurrentLatency(), uint32(0))

	a.Nil(p.StopAudioPlayback())
}

func TestRepeaterHasNoPlayback(t *testing.T) {
	a := assert.New(t)

	p := New(&Config{NodeID: "rep-1", Role: mesh.RoleRepeater})
	a.Nil(p.Initialize())
	defer p.Shutdown()

	a.NotNil(p.StartAudioPlayback())
	_, err := p.WriteAudio(nil, 0, 0)
	a.NotNil(err)
	a.Equal(uint32(0), p.CurrentLatency())
}

func TestBeaconDispatchSynchronizes(t *testing.T) {
	a := assert.New(t)

	p := newSink(t, "sink-1", nil)
	defer p.Shutdown()

	master := uint64(time.Now().UnixMilli()) + 100
	a.Nil(p.Broadcast(message.NewTimeBeacon(master)))

	waitFor(t, func() bool { return p.IsSynchronized() })
}

func TestPingTracksNodeLatency(t *testing.T) {
	a := assert.New(t)

	p := newSink(t, "sink-1", nil)
	defer p.Shutdown()

	p.UpdateTimeSync(uint64(time.Now().UnixMilli()))
	p.RegisterNode("n2", mesh.RoleRepeater)

	// A ping stamped 25ms in the past reads as 25ms of latency.
	a.Nil(p.Broadcast(message.NewPing("n2", p.SyncManager().Now()-25)))

	waitFor(t, func() bool {
		avg, ok := p.SyncManager().AverageLatency()
		return ok && avg >= 25
	})

	waitFor(t, func() bool {
		for _, id := range p.ActiveNodes() {
			if id == "n2" {
				return true
			}
		}
		return false
	})
}

func TestEmergencySyncTargeting(t *testing.T) {
	a := assert.New(t)

	p := newSink(t, "sink-1", nil)
	defer p.Shutdown()

	p.UpdateTimeSync(uint64(time.Now().UnixMilli()))
	p.SyncManager().UpdateNodeLatency("n2", 30)

	// Addressed to someone else: latencies survive.
	a.Nil(p.Broadcast(message.NewEmergencySync(uint64(time.Now().UnixMilli()), []string{"other"})))
	time.Sleep(50 * time.Millisecond)
	_, ok := p.SyncManager().AverageLatency()
	a.True(ok)

	// Addressed to us: latencies reset.
	a.Nil(p.Broadcast(message.NewEmergencySync(uint64(time.Now().UnixMilli()), []string{"sink-1"})))
	waitFor(t, func() bool {
		_, ok := p.SyncManager().AverageLatency()
		return !ok
	})
}

// chanTransport delivers sealed envelopes into the peer's ingest path.
type chanTransport struct {
	mu   sync.Mutex
	peer *Protocol
}

func (c *chanTransport) Send(data []byte) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return nil
	}
	return peer.HandleIncoming(data)
}

func TestEnvelopeRoundTripBetweenNodes(t *testing.T) {
	a := assert.New(t)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}

	master := New(&Config{NodeID: "ucb", Role: mesh.RoleMaster, NetworkKey: key})
	a.Nil(master.Initialize())
	defer master.Shutdown()

	sink := newSink(t, "sink-1", key)
	defer sink.Shutdown()

	master.SetTransport(&chanTransport{peer: sink})
	sink.RegisterNode("ucb", mesh.RoleMaster)

	masterTime := uint64(time.Now().UnixMilli()) + 42
	a.Nil(master.Broadcast(message.NewTimeBeacon(masterTime)))

	// The sealed beacon crosses the transport, decrypts on the sink and
	// aligns its clock.
	waitFor(t, func() bool { return sink.IsSynchronized() })
}

func TestHandleIncomingRejectsGarbage(t *testing.T) {
	a := assert.New(t)

	p := newSink(t, "sink-1", nil)
	defer p.Shutdown()

	a.NotNil(p.HandleIncoming([]byte("too short")))
	a.NotNil(p.HandleIncoming(make([]byte, 64)))
}

func TestMasterSelfSynchronizes(t *testing.T) {
	a := assert.New(t)

	p := New(&Config{NodeID: "ucb", Role: mesh.RoleMaster})
	a.Nil(p.Initialize())
	defer p.Shutdown()

	// The housekeeping ticker broadcasts a beacon from the master's own
	// clock within the beacon interval.
	waitFor(t, func() bool { return p.IsSynchronized() })
}
