package cli

import (
	"context"
	"fmt"

	"github.com/camuchapp/storeassist/pkg/usecase/indexing"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func syncCommand(lc *logConfig) *cli.Command {
	var (
		cfg         config
		batchSize   int64
		concurrency int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Products embedded per request",
			Value:       20,
			Sources:     cli.EnvVars("STOREASSIST_SYNC_BATCH_SIZE"),
			Destination: &batchSize,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Batches processed in parallel",
			Value:       4,
			Sources:     cli.EnvVars("STOREASSIST_SYNC_CONCURRENCY"),
			Destination: &concurrency,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, vectorFlags(&cfg)...)

	return &cli.Command{
		Name:  "sync",
		Usage: "Index the active product catalogue into the vector collection",
		Flags: flags,
		Action: withLogger(lc, func(ctx context.Context, c *cli.Command) error {
			var cl closers
			defer cl.Close()

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			store, err := cfg.newRelationalStore(ctx, &cl)
			if err != nil {
				return err
			}

			vectors, err := cfg.newVectorStore(ctx, &cl)
			if err != nil {
				return err
			}
			if vectors == nil {
				return goerr.New("a vector backend is required to sync", goerr.V("backend", cfg.vectorBackend))
			}

			indexer := indexing.New(store, gemini, vectors, cfg.collection,
				indexing.WithBatchSize(int(batchSize)),
				indexing.WithConcurrency(int(concurrency)),
			)

			report, err := indexer.Sync(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to sync catalogue")
			}

			fmt.Fprintf(c.Root().Writer, "products: %d, indexed: %d, skipped: %d, failed: %d\n",
				report.Products, report.Indexed, report.Skipped, report.Failed)
			return nil
		}),
	}
}
