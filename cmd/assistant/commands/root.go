// Package commands implements the assistant command line.
package commands

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/airport-assistant/src/config"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/embed"
	"github.com/Protocol-Lattice/airport-assistant/src/loader"
)

var (
	envFile string
	dataDir string
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assistant",
		Short: "Airport and airline customer service assistant",
		Long: `Answers traveller questions about airports, amenities, flights and airline
policies, and books tickets for signed in users.

The datastore is chosen with DATASTORE_KIND (memory, sqlite, postgres, mongodb, neo4j)
or a DATASTORE_CONFIG JSON document. Settings may also come from a .env file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path of the .env file to load")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Dataset directory (defaults to DATA_DIR)")

	root.AddCommand(NewInitCmd(), NewExportCmd(), NewSearchCmd(), NewStatsCmd(), NewChatCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// env is what every command needs: configuration, a connected datastore and an embedder.
type env struct {
	cfg      *config.Config
	client   datastore.Client
	embedder embed.Embedder
}

func (e *env) Close() error {
	return e.client.Close()
}

// openEnv loads configuration and connects the datastore. The in-memory provider starts
// empty, so unless skipSeed is set it is filled from the data directory.
func openEnv(ctx context.Context, skipSeed bool) (*env, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	dsCfg, err := cfg.DatastoreConfig()
	if err != nil {
		return nil, err
	}

	emb, err := embed.New(ctx, cfg.EmbedProvider, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	emb = embed.NewCached(emb, 512, time.Hour)

	client, err := datastore.Create(ctx, dsCfg)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, client: datastore.WithRetry(client, cfg.RetryPolicy()), embedder: emb}

	if !skipSeed && client.Kind() == datastore.KindMemory {
		if err := e.load(ctx, cfg.DataDir); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// load reads the dataset under dir, fills missing embeddings and bulk loads it.
func (e *env) load(ctx context.Context, dir string) error {
	data, err := loader.LoadDataset(dir)
	if err != nil {
		return fmt.Errorf("reading dataset: %w", err)
	}
	if _, err := loader.FillEmbeddings(ctx, e.embedder, &data); err != nil {
		return err
	}
	start := time.Now()
	if err := e.client.InitializeData(ctx, data); err != nil {
		return fmt.Errorf("loading %s: %w", e.client.Kind(), err)
	}
	log.Printf("[loader] %s loaded in %s", e.client.Kind(), time.Since(start).Round(time.Millisecond))
	return nil
}
