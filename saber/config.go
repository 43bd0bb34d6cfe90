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

// Package saber composes the SABER subsystems into one protocol instance
// per node. The facade is the single construction entry point: every
// subsystem hangs off a Protocol value, there are no hidden globals.
package saber

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"

	"github.com/flynn/noise"
	"github.com/google/uuid"
	"github.com/sabermesh/saber/mesh"
	"github.com/sabermesh/saber/security"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config describes one SABER node.
type Config struct {
	// NodeID is the unique identity of this node across the mesh.
	NodeID string `yaml:"nodeID"`

	// Role selects master (UCB), repeater or sink behavior.
	Role mesh.Role `yaml:"role"`

	// MusicMode selects the 48 kHz stereo stream; false means 16 kHz mono
	// voice.
	MusicMode bool `yaml:"musicMode"`

	// NetworkKey is the 32-byte key shared by every mesh member. Empty
	// means a fresh key: the node can only talk to itself until a
	// collaborator distributes the generated key.
	NetworkKey []byte `yaml:"networkKey,omitempty"`

	// ExchangeKey is the persisted X25519 keypair; generated and written
	// back when missing.
	ExchangeKey *security.ExchangeKey `yaml:"exchangeKey,omitempty"`
}

// DefaultConfig returns a sink configuration with a generated node id.
func DefaultConfig() *Config {
	return &Config{
		NodeID:    generateNodeID("node"),
		Role:      mesh.RoleSink,
		MusicMode: true,
	}
}

// FromReader returns the configuration instance from reader
func FromReader(reader io.Reader) (*Config, error) {
	c := DefaultConfig()
	err := yaml.NewDecoder(reader).Decode(c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FromBytes returns the configuration instance from bytes
func FromBytes(data []byte) (*Config, error) {
	return FromReader(bytes.NewBuffer(data))
}

// FromPath returns the configuration instance from file path. A missing
// exchange keypair is generated and persisted back to the file.
func FromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := FromBytes(data)
	if err != nil {
		return nil, err
	}

	if cfg.ExchangeKey.Validate() != nil {
		// Generate the static exchange key for the current node.
		staticKey, err := noise.DH25519.GenerateKeypair(rand.Reader)
		if err != nil {
			return nil, err
		}
		cfg.ExchangeKey = security.FromNoiseKey(staticKey)
		zap.L().Info("Generate exchange key",
			zap.String("publicKey", cfg.ExchangeKey.Public.ShortString()))

		// Save to the configuration.
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		err = yaml.NewEncoder(file).Encode(cfg)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func generateNodeID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
