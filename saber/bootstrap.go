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
	"github.com/pkg/errors"
	"github.com/sabermesh/saber/mesh"
	"go.uber.org/zap"
)

// StartMaster boots a UCB node. An empty nodeID generates one.
func StartMaster(nodeID string) (*Protocol, error) {
	if nodeID == "" {
		nodeID = generateNodeID("master")
	}
	p := New(&Config{
		NodeID:    nodeID,
		Role:      mesh.RoleMaster,
		MusicMode: true,
	})
	if err := p.Initialize(); err != nil {
		return nil, errors.WithMessage(err, "start master")
	}
	zap.L().Info("Master (UCB) node started", zap.String("node_id", nodeID))
	return p, nil
}

// StartRepeater boots a relay node. An empty nodeID generates one.
func StartRepeater(nodeID string) (*Protocol, error) {
	if nodeID == "" {
		nodeID = generateNodeID("repeater")
	}
	p := New(&Config{
		NodeID:    nodeID,
		Role:      mesh.RoleRepeater,
		MusicMode: true,
	})
	if err := p.Initialize(); err != nil {
		return nil, errors.WithMessage(err, "start repeater")
	}
	zap.L().Info("Repeater node started", zap.String("node_id", nodeID))
	return p, nil
}

// StartSink boots a playback node. An empty nodeID generates one; isMusic
// selects the 48 kHz stereo stream over 16 kHz mono voice.
func StartSink(nodeID string, isMusic bool) (*Protocol, error) {
	if nodeID == "" {
		nodeID = generateNodeID("sink")
	}
	p := New(&Config{
		NodeID:    nodeID,
		Role:      mesh.RoleSink,
		MusicMode: isMusic,
	})
	if err := p.Initialize(); err != nil {
		return nil, errors.WithMessage(err, "start sink")
	}
	zap.L().Info("Sink node started", zap.String("node_id", nodeID))
	return p, nil
}
