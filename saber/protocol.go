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
	"time"

	"github.com/pkg/errors"
	"github.com/sabermesh/saber/audio"
	"github.com/sabermesh/saber/codec"
	"github.com/sabermesh/saber/constant"
	"github.com/sabermesh/saber/errcode"
	"github.com/sabermesh/saber/internal/logutil"
	"github.com/sabermesh/saber/mesh"
	"github.com/sabermesh/saber/message"
	"github.com/sabermesh/saber/security"
	"github.com/sabermesh/saber/timesync"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Transport carries sealed mesh envelopes between nodes. A datagram-like
// channel is assumed; delivery and ordering guarantees are the transport's
// own. A nil transport keeps the node loopback-only.
type Transport interface {
	Send(data []byte) error
}

// Protocol is one SABER node: it owns the crypto engine, the mesh network,
// the sync manager and, on sinks, the playback engine. All subsystems are
// exclusively owned by the facade. The mesh packet handler closes over the
// facade; the playback engine's time provider is the sync manager's Now.
type Protocol struct {
	config *Config

	crypto      *security.Engine
	syncManager *timesync.Manager
	network     *mesh.Network
	engine      *audio.Engine // sinks only

	mu        sync.Mutex
	transport Transport
	handler   mesh.PacketHandler
	device    audio.Device

	running *atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New returns an uninitialized protocol instance for the given config.
func New(config *Config) *Protocol {
	return &Protocol{
		config:  config,
		running: atomic.NewBool(false),
	}
}

// SetTransport installs the datagram channel used for egress. May be
// called at any time; a nil transport drops egress.
func (p *Protocol) SetTransport(t Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transport = t
}

// SetAudioDevice overrides the output device. Must be called before
// Initialize; the default is a TickerDevice paced at the nominal rate.
func (p *Protocol) SetAudioDevice(d audio.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = d
}

// SetPacketHandler installs an application sink observing every dispatched
// packet after the protocol's own processing.
func (p *Protocol) SetPacketHandler(h mesh.PacketHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Initialize builds the subsystems per the configured role and starts the
// mesh dispatch loop and the housekeeping ticker.
func (p *Protocol) Initialize() error {
	if p.running.Swap(true) {
		return errors.New("protocol already initialized")
	}

	zap.L().Info("Initializing SABER protocol",
		zap.String("node_id", p.config.NodeID),
		zap.Stringer("role", p.config.Role))

	var err error
	if len(p.config.NetworkKey) > 0 {
		p.crypto, err = security.WithNetworkKey(p.config.NetworkKey)
	} else {
		p.crypto, err = security.New()
	}
	if err != nil {
		p.running.Store(false)
		return errors.WithMessage(err, "create crypto engine")
	}
	if p.config.ExchangeKey != nil {
		if err := p.crypto.SetExchangeKey(p.config.ExchangeKey); err != nil {
			p.running.Store(false)
			return errors.WithMessage(err, "install exchange key")
		}
	}
	// The node vouches for itself: its own tokens must verify locally.
	if err := p.crypto.RegisterNodeKey(p.config.NodeID, p.crypto.PublicKey()); err != nil {
		p.running.Store(false)
		return err
	}

	p.syncManager = timesync.NewManager()

	// The playback engine must exist before the dispatch worker runs:
	// handlePacket pushes sync state into it.
	if p.config.Role == mesh.RoleSink {
		sampleRate := uint32(constant.SampleRateVoice)
		channels := 1
		if p.config.MusicMode {
			sampleRate = constant.SampleRateMusic
			channels = constant.DefaultChannels
		}
		p.mu.Lock()
		device := p.device
		p.mu.Unlock()
		p.engine = audio.NewEngine(sampleRate, channels, device)
		if err := p.engine.Initialize(p.syncManager.Now); err != nil {
			p.running.Store(false)
			return errors.WithMessage(err, "initialize sync engine")
		}
	}

	local := mesh.NewNode(p.config.NodeID, p.config.Role)
	p.network = mesh.NewNetwork(local)
	p.network.SetPacketHandler(p.handlePacket)
	p.network.Start()

	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.runTicker()

	zap.L().Info("SABER protocol initialized")
	return nil
}

// Shutdown stops the ticker, the playback engine and the mesh network.
func (p *Protocol) Shutdown() {
	if !p.running.Swap(false) {
		return
	}
	close(p.done)
	p.wg.Wait()

	if p.engine != nil {
		if err := p.engine.Stop(); err != nil {
			zap.L().Error("Stop sync engine failed", zap.Error(err))
		}
	}
	p.network.Stop()
	zap.L().Info("SABER protocol shut down")
}

// StartAudioPlayback sizes the jitter buffer from the measured latencies
// and starts the playback engine. Requires clock synchronization.
func (p *Protocol) StartAudioPlayback() error {
	if p.engine == nil {
		return errcode.ErrNotInitialized
	}
	if !p.syncManager.IsSynchronized() {
		return errors.New("cannot start playback: node is not synchronized")
	}

	optimal := p.syncManager.OptimalBufferSize()
	if err := p.engine.Start(optimal); err != nil {
		return err
	}
	zap.L().Info("Synchronized playback started", zap.Uint32("buffer_ms", optimal))
	return nil
}

// StopAudioPlayback stops the playback engine.
func (p *Protocol) StopAudioPlayback() error {
	if p.engine == nil {
		return errcode.ErrNotInitialized
	}
	return p.engine.Stop()
}

// WriteAudio feeds frames with their source timestamp into the playback
// path and returns the frame count accepted.
func (p *Protocol) WriteAudio(samples []float32, frames int, sourceTimestamp uint64) (int, error) {
	if p.engine == nil {
		return 0, errcode.ErrNotInitialized
	}
	return p.engine.WriteAudioData(samples, frames, sourceTimestamp)
}

// UpdateTimeSync applies a master time beacon received out of band.
func (p *Protocol) UpdateTimeSync(masterTime uint64) bool {
	ok := p.syncManager.HandleTimeBeacon(masterTime)
	p.pushSyncState()
	return ok
}

// CurrentLatency returns the playback latency in milliseconds, zero on
// nodes without a playback engine.
func (p *Protocol) CurrentLatency() uint32 {
	if p.engine == nil {
		return 0
	}
	return p.engine.CurrentLatency()
}

// RegisterNode inserts a mesh node if absent.
func (p *Protocol) RegisterNode(nodeID string, role mesh.Role) {
	p.network.RegisterNode(nodeID, role)
}

// RegisterNodeKey records the Ed25519 public key of a mesh node.
func (p *Protocol) RegisterNodeKey(nodeID string, publicKey []byte) error {
	return p.crypto.RegisterNodeKey(nodeID, publicKey)
}

// ActiveNodes snapshots the ids of nodes inside the liveness window.
func (p *Protocol) ActiveNodes() []string {
	return p.network.ActiveNodes()
}

// IsSynchronized reports whether the node's clock is beacon-aligned.
func (p *Protocol) IsSynchronized() bool {
	return p.syncManager.IsSynchronized()
}

// SyncManager exposes the clock translation to the embedding host.
func (p *Protocol) SyncManager() *timesync.Manager {
	return p.syncManager
}

// Crypto exposes the key material holder; a collaborator persists keys.
func (p *Protocol) Crypto() *security.Engine {
	return p.crypto
}

// Broadcast dispatches a packet locally and, when a transport is
// installed, seals it into the wire envelope and sends it to the mesh.
func (p *Protocol) Broadcast(pkt message.Packet) error {
	if !p.running.Load() {
		return errcode.ErrNotInitialized
	}
	if err := p.network.SendPacket(pkt); err != nil {
		return err
	}

	p.mu.Lock()
	transport := p.transport
	p.mu.Unlock()
	if transport == nil {
		return nil
	}

	plaintext, err := codec.Encode(pkt)
	if err != nil {
		return err
	}
	sealed, err := p.crypto.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if logutil.IsEnablePacket() {
		zap.L().Debug("Send envelope",
			zap.Stringer("kind", pkt.Kind()),
			zap.Int("bytes", len(sealed)))
	}
	return transport.Send(sealed)
}

// HandleIncoming opens a wire envelope and dispatches the packet into the
// mesh. This is the ingest entry point for the transport.
func (p *Protocol) HandleIncoming(data []byte) error {
	if !p.running.Load() {
		return errcode.ErrNotInitialized
	}
	plaintext, err := p.crypto.Decrypt(data)
	if err != nil {
		return err
	}
	pkt, err := codec.Decode(plaintext)
	if err != nil {
		return err
	}
	if logutil.IsEnablePacket() {
		zap.L().Debug("Receive envelope",
			zap.Stringer("kind", pkt.Kind()),
			zap.Int("bytes", len(data)))
	}
	return p.network.SendPacket(pkt)
}

// handlePacket is the mesh dispatch sink: it updates the sync state per
// packet kind, then forwards to the application handler.
func (p *Protocol) handlePacket(pkt message.Packet) {
	switch pkt.Kind() {
	case message.KindTimeBeacon:
		beacon, _ := pkt.TimeBeacon()
		p.syncManager.HandleTimeBeacon(beacon.MasterTime)
		p.pushSyncState()

	case message.KindEmergencySync:
		es, _ := pkt.EmergencySync()
		if p.isEmergencyTarget(es.Targets) {
			p.syncManager.EmergencySync(es.MasterTime)
			p.pushSyncState()
		}

	case message.KindPing:
		ping, _ := pkt.Ping()
		if ping.Source != p.config.NodeID {
			now := p.syncManager.Now()
			var latency uint32
			if now > ping.Timestamp {
				latency = uint32(now - ping.Timestamp)
			}
			p.syncManager.UpdateNodeLatency(ping.Source, latency)
		}

	case message.KindStatus:
		status, _ := pkt.Status()
		if status.NodeID != p.config.NodeID {
			p.syncManager.UpdateNodeLatency(status.NodeID, status.Latency)
		}

	case message.KindCommand:
		cmd, _ := pkt.Command()
		zap.L().Info("Mesh command received",
			zap.String("type", cmd.Type),
			zap.Int("params", len(cmd.Params)))
	}

	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		handler(pkt)
	}
}

func (p *Protocol) isEmergencyTarget(targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, target := range targets {
		if target == p.config.NodeID {
			return true
		}
	}
	return false
}

func (p *Protocol) pushSyncState() {
	if p.engine != nil {
		p.engine.UpdateSyncState(p.syncManager.IsSynchronized(), p.syncManager.TimeOffset())
	}
}

// runTicker performs periodic housekeeping at the tick granularity:
// masters broadcast beacons and pings, sinks report their buffer status.
func (p *Protocol) runTicker() {
	defer p.wg.Done()

	ticker := time.NewTicker(constant.TickInterval)
	defer ticker.Stop()

	ticksPerBeacon := uint64(constant.BeaconInterval / constant.TickInterval)
	ticksPerStatus := uint64(constant.StatusInterval / constant.TickInterval)
	ticksPerHeartbeat := uint64(constant.HeartbeatInterval / constant.TickInterval)

	var tick uint64
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			tick++

			if p.config.Role == mesh.RoleMaster {
				if tick%ticksPerBeacon == 0 {
					p.broadcastQuietly(message.NewTimeBeacon(p.syncManager.Now()))
				}
				if tick%ticksPerHeartbeat == 0 {
					p.broadcastQuietly(message.NewPing(p.config.NodeID, p.syncManager.Now()))
				}
			}

			if p.engine != nil && p.engine.IsActive() && tick%ticksPerStatus == 0 {
				p.broadcastQuietly(message.NewStatus(
					p.config.NodeID,
					p.engine.BufferLevel(),
					p.engine.CurrentLatency()))
			}
		}
	}
}

func (p *Protocol) broadcastQuietly(pkt message.Packet) {
	if err := p.Broadcast(pkt); err != nil {
		zap.L().Warn("Housekeeping broadcast failed",
			zap.Stringer("kind", pkt.Kind()),
			zap.Error(err))
	}
}
