package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"storyapp/backend/internal/config"
	"storyapp/backend/internal/logging"
	"storyapp/backend/internal/repository"
	"storyapp/backend/pkg/models"
)

func main() {
	root := &cobra.Command{
		Use:   "seed",
		Short: "Manage development fixtures for the workflow store",
	}
	root.PersistentFlags().String("config", "", "Path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Insert fixture workflow records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, seedWorkflows)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete all workflow records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, purgeWorkflows)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, pool *pgxpool.Pool, logger *logging.Logger) error) error {
	ctx := cmd.Context()
	logger := logging.NewLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DB.Host == "" {
		return fmt.Errorf("db.host not configured, seeding needs a database")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresWorkflowStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	return fn(ctx, pool, logger)
}

func seedWorkflows(ctx context.Context, pool *pgxpool.Pool, logger *logging.Logger) error {
	store := repository.NewPostgresWorkflowStore(pool)

	topics := []string{"钟楼里的第十三声", "雾港沉船案", "雪夜山庄的访客"}
	for _, topic := range topics {
		record := models.NewWorkflowRecord(topic, "zh")
		record.ID = uuid.NewString()

		// Mark the fixture as a finished run so list and detail views have
		// something realistic to show.
		now := time.Now().UTC()
		for i := range record.StageStates {
			started := now.Add(time.Duration(i) * time.Minute)
			finished := started.Add(30 * time.Second)
			record.StageStates[i].Status = models.StageCompleted
			record.StageStates[i].StartedAt = &started
			record.StageStates[i].FinishedAt = &finished
		}
		record.Touch()
		record.AppendRevision(models.Revision{
			RevisionID:  uuid.NewString(),
			Type:        models.RevisionInitial,
			CreatedAt:   now,
			CreatedBy:   "seed-script",
			StageStates: record.StageStates,
		})

		if err := store.Insert(ctx, record); err != nil {
			log.Printf("Failed to seed workflow %q: %v", topic, err)
			continue
		}
		logger.Info("Seeded workflow (topic=%q id=%s)", topic, record.ID)
	}
	logger.Info("Seeding complete!")
	return nil
}

func purgeWorkflows(ctx context.Context, pool *pgxpool.Pool, logger *logging.Logger) error {
	tag, err := pool.Exec(ctx, "DELETE FROM workflows")
	if err != nil {
		return fmt.Errorf("purge workflows: %w", err)
	}
	logger.Info("Purged %d workflow records", tag.RowsAffected())
	return nil
}
