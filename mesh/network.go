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
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sabermesh/saber/constant"
	"github.com/sabermesh/saber/internal/logutil"
	"github.com/sabermesh/saber/message"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// PacketHandler receives every packet processed by the dispatch worker.
type PacketHandler func(p message.Packet)

// Network owns the node registry and a single ingest/dispatch worker.
//
// The worker drains the queue before touching the registry, so the queue
// never waits on the registry mutex (queue-before-network lock ordering).
type Network struct {
	local *Node

	// mu guards nodes and handler.
	mu      sync.RWMutex
	nodes   map[string]*Node
	handler PacketHandler

	queue   chan message.Packet
	running *atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewNetwork returns a network around the given local node. The local node
// is part of the registry from the start.
func NewNetwork(local *Node) *Network {
	return &Network{
		local:   local,
		nodes:   map[string]*Node{local.ID: local},
		queue:   make(chan message.Packet, constant.MaxQueuedPackets),
		running: atomic.NewBool(false),
	}
}

// LocalNode returns the node this network runs on.
func (n *Network) LocalNode() *Node {
	return n.local
}

// Start spawns the dispatch worker. Idempotent.
func (n *Network) Start() {
	if n.running.Swap(true) {
		return
	}

	n.done = make(chan struct{})
	n.wg.Add(1)
	go n.run()

	zap.L().Info("Mesh network started",
		zap.String("node_id", n.local.ID),
		zap.Stringer("role", n.local.Role))
}

// Stop wakes the worker and joins it. Idempotent.
func (n *Network) Stop() {
	if !n.running.Swap(false) {
		return
	}
	close(n.done)
	n.wg.Wait()

	zap.L().Info("Mesh network stopped", zap.String("node_id", n.local.ID))
}

// SendPacket appends a packet to the ingest queue and signals the worker.
func (n *Network) SendPacket(p message.Packet) error {
	select {
	case n.queue <- p:
		return nil
	default:
		return errors.Errorf("packet queue exceeded: %s", n.local.ID)
	}
}

// RegisterNode inserts a fresh node if absent.
func (n *Network) RegisterNode(nodeID string, role Role) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[nodeID]; !ok {
		n.nodes[nodeID] = NewNode(nodeID, role)
	}
}

// UpdateNodeStatus records a node's reported buffer level and latency.
// A present status report implies liveness, so the ping time refreshes too.
func (n *Network) UpdateNodeStatus(nodeID string, bufferState uint8, latency uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updateNodeStatusLocked(nodeID, bufferState, latency)
}

func (n *Network) updateNodeStatusLocked(nodeID string, bufferState uint8, latency uint32) {
	node, ok := n.nodes[nodeID]
	if !ok {
		return
	}
	node.UpdateBufferState(bufferState)
	node.SetLatency(latency)
	node.UpdatePing()
}

// Node returns the registered node with the given id, or nil.
func (n *Network) Node(nodeID string) *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodes[nodeID]
}

// ActiveNodes snapshots the ids of nodes inside the liveness window.
func (n *Network) ActiveNodes() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var active []string
	for id, node := range n.nodes {
		if node.IsActive() {
			active = append(active, id)
		}
	}
	sort.Strings(active)
	return active
}

// SetPacketHandler installs the sink for all incoming packets.
func (n *Network) SetPacketHandler(handler PacketHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = handler
}

// run is the dispatch worker: block on the queue with the tick timeout,
// drain everything pending, apply registry updates, forward to the handler.
func (n *Network) run() {
	defer n.wg.Done()

	ticker := time.NewTicker(constant.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case p := <-n.queue:
			n.process(p)
			n.drain()
		case <-ticker.C:
			n.drain()
		}
	}
}

func (n *Network) drain() {
	for {
		select {
		case p := <-n.queue:
			n.process(p)
		default:
			return
		}
	}
}

// process applies registry updates for one packet and invokes the handler.
// Handler panics are reported and the loop continues with the next packet.
func (n *Network) process(p message.Packet) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Packet handler panicked",
				zap.Stringer("kind", p.Kind()),
				zap.Any("panic", r))
		}
	}()

	if logutil.IsEnableMesh() {
		zap.L().Debug("Dispatch packet", zap.Stringer("kind", p.Kind()))
	}

	n.mu.Lock()
	switch p.Kind() {
	case message.KindPing:
		ping, _ := p.Ping()
		if node, ok := n.nodes[ping.Source]; ok {
			node.UpdatePing()
		}
	case message.KindStatus:
		status, _ := p.Status()
		n.updateNodeStatusLocked(status.NodeID, status.Buffer, status.Latency)
	}
	handler := n.handler
	n.mu.Unlock()

	if handler != nil {
		handler(p)
	}
}
