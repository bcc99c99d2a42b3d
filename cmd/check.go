package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwrk-planet/session-recorder/internal/livekit"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and print the resolved LiveKit target",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		room, identity := cfg.LiveKit.Room, cfg.LiveKit.Identity
		if cfg.LiveKit.UsesToken() {
			info, err := livekit.InspectToken(cfg.LiveKit.Token, time.Now())
			if err != nil {
				return fmt.Errorf("livekit.token: %w", err)
			}
			room, identity = info.Room, info.Identity
			if !info.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "token expires: %s\n", info.ExpiresAt.UTC().Format(time.RFC3339))
			}
		}
		fmt.Fprintf(out, "livekit: %s room=%s identity=%s\n", cfg.LiveKit.URL, room, identity)
		fmt.Fprintf(out, "http: %s grpc: %s\n", cfg.HTTP.Addr, cfg.GRPC.Addr)
		fmt.Fprintf(out, "journal: %t mqtt: %t console markers: %t\n",
			cfg.Postgres.DSN != "", cfg.MQTT.Broker != "", cfg.Recording.Console())
		return nil
	},
}
