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

package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/sabermesh/saber/message"
	"github.com/stretchr/testify/assert"
)

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

func TestNodeLiveness(t *testing.T) {
	a := assert.New(t)

	n := NewNode("n1", RoleSink)
	a.False(n.IsActive())
	a.Equal(uint8(100), n.BufferState())

	n.UpdatePing()
	a.True(n.IsActive())

	// A ping outside the liveness window no longer counts.
	n.lastPing = time.Now().Add(-31 * time.Second)
	a.False(n.IsActive())
}

func TestRegisterNode(t *testing.T) {
	a := assert.New(t)

	nw := NewNetwork(NewNode("local", RoleMaster))
	nw.RegisterNode("n2", RoleSink)
	nw.RegisterNode("n2", RoleRepeater) // first registration wins

	node := nw.Node("n2")
	a.NotNil(node)
	a.Equal(RoleSink, node.Role)
	a.Nil(nw.Node("ghost"))
}

func TestUpdateNodeStatusImpliesLiveness(t *testing.T) {
	a := assert.New(t)

	nw := NewNetwork(NewNode("local", RoleMaster))
	nw.RegisterNode("n2", RoleSink)
	a.Empty(nw.ActiveNodes())

	nw.UpdateNodeStatus("n2", 60, 25)

	node := nw.Node("n2")
	a.Equal(uint8(60), node.BufferState())
	a.Equal(uint32(25), node.Latency())
	a.Equal([]string{"n2"}, nw.ActiveNodes())

	// Unknown nodes are ignored, not created.
	nw.UpdateNodeStatus("ghost", 1, 1)
	a.Nil(nw.Node("ghost"))
}

func TestPingActivatesNode(t *testing.T) {
	a := assert.New(t)

	nw := NewNetwork(NewNode("local", RoleMaster))
	nw.Start()
	defer nw.Stop()

	nw.RegisterNode("n2", RoleSink)
	a.Nil(nw.SendPacket(message.NewPing("n2", 1000)))

	waitFor(t, func() bool {
		for _, id := range nw.ActiveNodes() {
			if id == "n2" {
				return true
			}
		}
		return false
	})
}

func TestHandlerPreservesEnqueueOrder(t *testing.T) {
	a := assert.New(t)

	nw := NewNetwork(NewNode("local", RoleMaster))

	var mu sync.Mutex
	var got []uint64
	nw.SetPacketHandler(func(p message.Packet) {
		ping, err := p.Ping()
		if err != nil {
			return
		}
		mu.Lock()
		got = append(got, ping.Timestamp)
		mu.Unlock()
	})

	nw.Start()
	defer nw.Stop()

	for i := uint64(0); i < 50; i++ {
		a.Nil(nw.SendPacket(message.NewPing("local", i)))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	})

	mu.Lock()
	defer mu.Unlock()
	for i, ts := range got {
		a.Equal(uint64(i), ts)
	}
}

func TestHandlerPanicDoesNotAbortWorker(t *testing.T) {
	a := assert.New(t)

	nw := NewNetwork(NewNode("local", RoleMaster))

	var mu sync.Mutex
	var processed int
	nw.SetPacketHandler(func(p message.Packet) {
		mu.Lock()
		processed++
		mu.Unlock()
		if processed == 1 {
			panic("handler exploded")
		}
	})

	nw.Start()
	defer nw.Stop()

	a.Nil(nw.SendPacket(message.NewTimeBeacon(1)))
	a.Nil(nw.SendPacket(message.NewTimeBeacon(2)))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 2
	})
}

func TestStartStopIdempotent(t *testing.T) {
	nw := NewNetwork(NewNode("local", RoleSink))
	nw.Start()
	nw.Start()
	nw.Stop()
	nw.Stop()
}

func TestParseRole(t *testing.T) {
	a := assert.New(t)

	role, err := ParseRole("Master")
	a.Nil(err)
	a.Equal(RoleMaster, role)

	role, err = ParseRole("sink")
	a.Nil(err)
	a.Equal(RoleSink, role)

	_, err = ParseRole("observer")
	a.NotNil(err)
}
