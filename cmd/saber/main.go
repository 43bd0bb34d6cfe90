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

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sabermesh/saber/internal/logutil"
	"github.com/sabermesh/saber/mesh"
	"github.com/sabermesh/saber/pkg/cmdutil"
	"github.com/sabermesh/saber/saber"
	"github.com/sabermesh/saber/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var (
		nodeID   string
		cfgPath  string
		voice    bool
		examples = cmdutil.Examples{
			{
				Example: "saber master",
				Comment: "Start a broadcast source (UCB) with a generated id",
			},
			{
				Example: "saber sink --id living-room",
				Comment: "Start a playback sink with a fixed id",
			},
			{
				Example: "saber sink --voice -c saber.yaml",
				Comment: "Start a 16 kHz mono voice sink from a config file",
			},
		}
	)

	rootCmd := &cobra.Command{
		Use:           "saber <master|repeater|sink> [flags]",
		Long:          "SABER distributes a broadcast audio stream across a repeater mesh,\nkeeping playback on every sink time-aligned within the jitter tolerance.",
		Example:       examples.String(),
		Version:       version.NewVersion().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.InitLogger()
		},
	}

	rootCmd.PersistentFlags().StringVar(&nodeID, "id", "", "Node identifier (generated when empty)")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path of the configuration file")

	newRunE := func(role mesh.Role) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			var (
				cfg *saber.Config
				err error
			)
			if cfgPath != "" {
				cfg, err = saber.FromPath(cfgPath)
				if err != nil {
					return err
				}
			} else {
				cfg = saber.DefaultConfig()
			}
			if nodeID != "" {
				cfg.NodeID = nodeID
			}
			cfg.Role = role
			if role == mesh.RoleSink {
				cfg.MusicMode = !voice
			}

			p := saber.New(cfg)
			if err := p.Initialize(); err != nil {
				return err
			}

			sc := make(chan os.Signal, 1)
			signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			sg := <-sc
			zap.L().Info("The node is terminating due to signal", zap.Stringer("signal", sg))

			p.Shutdown()
			zap.L().Info("See you again, bye!")
			return nil
		}
	}

	masterCmd := &cobra.Command{
		Use:   "master",
		Short: "Run a broadcast source (UCB) node",
		RunE:  newRunE(mesh.RoleMaster),
	}

	repeaterCmd := &cobra.Command{
		Use:   "repeater",
		Short: "Run an intermediate relay node",
		RunE:  newRunE(mesh.RoleRepeater),
	}

	sinkCmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a playback sink node",
		RunE:  newRunE(mesh.RoleSink),
	}
	sinkCmd.Flags().BoolVar(&voice, "voice", false, "Use the 16 kHz mono voice stream instead of music")

	rootCmd.AddCommand(masterCmd, repeaterCmd, sinkCmd)
	cmdutil.Run(rootCmd)
}
