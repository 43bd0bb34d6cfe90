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
	"os"
	"path/filepath"
	"testing"

	"github.com/sabermesh/saber/mesh"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	a := assert.New(t)

	cfg := DefaultConfig()
	a.NotEmpty(cfg.NodeID)
	a.Equal(mesh.RoleSink, cfg.Role)
	a.True(cfg.MusicMode)

	// Identifiers are unique across calls.
	a.NotEqual(cfg.NodeID, DefaultConfig().NodeID)
}

func TestConfigFromBytes(t *testing.T) {
	a := assert.New(t)

	cfg, err := FromBytes([]byte("nodeID: living-room\nrole: master\nmusicMode: false\n"))
	a.Nil(err)
	a.Equal("living-room", cfg.NodeID)
	a.Equal(mesh.RoleMaster, cfg.Role)
	a.False(cfg.MusicMode)

	_, err = FromBytes([]byte("role: conductor\n"))
	a.NotNil(err)
}

func TestConfigFromPathPersistsExchangeKey(t *testing.T) {
	a := assert.New(t)

	path := filepath.Join(t.TempDir(), "saber.yaml")
	a.Nil(os.WriteFile(path, []byte("nodeID: sink-1\nrole: sink\n"), 0o600))

	cfg, err := FromPath(path)
	a.Nil(err)
	a.NotNil(cfg.ExchangeKey)
	a.False(cfg.ExchangeKey.IsZero())

	// The generated keypair was written back and reloads identically.
	reloaded, err := FromPath(path)
	a.Nil(err)
	a.True(cfg.ExchangeKey.Equals(reloaded.ExchangeKey))
}
