package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/repo"
	"github.com/ovaphlow/pitchfork/service-directory-go/pkg/database"
)

func openProfiles() (*repo.ProfileRepo, func(), error) {
	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	return repo.NewProfileRepo(sqlx.NewDb(sqlDB, "postgres")), func() { sqlDB.Close() }, nil
}

func collectionName() (string, error) {
	cfg, err := directory.ConfigFromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Collection, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the profile collection table, index and presence trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			lg, err := newLogger()
			if err != nil {
				return err
			}
			defer lg.Sync()
			collection, err := collectionName()
			if err != nil {
				return err
			}
			profiles, closeDB, err := openProfiles()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := profiles.EnsureTable(ctx, collection); err != nil {
				return fmt.Errorf("ensure table %s: %w", collection, err)
			}
			lg.Sugar().Infow("collection ready", "collection", collection, "channel", repo.PresenceChannel)
			return nil
		},
	}
}

// seedCmd loads a JSON array of {"id","data"} documents into the collection.
func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.json>",
		Short: "Upsert profile documents from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lg, err := newLogger()
			if err != nil {
				return err
			}
			defer lg.Sync()
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var records []entity.Record
			if err := json.Unmarshal(raw, &records); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			collection, err := collectionName()
			if err != nil {
				return err
			}
			profiles, closeDB, err := openProfiles()
			if err != nil {
				return err
			}
			defer closeDB()

			for _, rec := range records {
				if err := profiles.Upsert(cmd.Context(), collection, rec); err != nil {
					return fmt.Errorf("upsert %s: %w", rec.ID, err)
				}
			}
			lg.Sugar().Infow("profiles seeded", "collection", collection, "count", len(records))
			return nil
		},
	}
}

// presenceCmd publishes a presence document to the NATS KV bucket.
func presenceCmd() *cobra.Command {
	var (
		online       bool
		availability string
		busyReason   string
		remove       bool
	)
	cmd := &cobra.Command{
		Use:   "presence <provider-id>",
		Short: "Publish a provider presence change over NATS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lg, err := newLogger()
			if err != nil {
				return err
			}
			defer lg.Sync()
			sugar := lg.Sugar()

			nc, js, err := connectJetStream(sugar)
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			p, err := repo.NewNATSPresence(ctx, js, os.Getenv("PRESENCE_BUCKET"), sugar)
			if err != nil {
				return err
			}
			change := entity.PresenceChange{
				ID:           args[0],
				IsOnline:     online,
				Availability: entity.Availability(availability),
				BusyReason:   busyReason,
				Removed:      remove,
			}
			if err := p.Set(ctx, change); err != nil {
				return err
			}
			sugar.Infow("presence published", "id", change.ID, "online", change.IsOnline, "removed", change.Removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "mark the provider online")
	cmd.Flags().StringVar(&availability, "availability", "", "available, busy or offline (derived from --online when empty)")
	cmd.Flags().StringVar(&busyReason, "busy-reason", "", "reason shown while busy")
	cmd.Flags().BoolVar(&remove, "remove", false, "delete the presence entry")
	return cmd
}
