package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"gridmatch/internal/config"
	"gridmatch/internal/database"
	"gridmatch/internal/database/postgres"
	"gridmatch/internal/features"
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>...",
	Short: "Extract feature grids from images",
	Long: `Extract dense feature grids from images using the extractor service.
Each image is downscaled when it exceeds the configured size limit, sent to
the extractor, and the resulting grid is written next to the image as a
feature file ready for matching.

Examples:
  # Extract features for two images into the current directory
  gridmatch extract left.jpg right.jpg

  # Write feature files to a dedicated directory
  gridmatch extract --out features/ photos/*.jpg

  # Also store whole-image descriptors in PostgreSQL for retrieval
  gridmatch extract --index photos/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("out", ".", "Directory to write feature files to")
	extractCmd.Flags().Int("concurrency", 5, "Number of parallel extractions")
	extractCmd.Flags().Bool("index", false, "Store image descriptors in PostgreSQL")
}

func runExtract(cmd *cobra.Command, args []string) error {
	outDir := mustGetString(cmd, "out")
	concurrency := mustGetInt(cmd, "concurrency")
	index := mustGetBool(cmd, "index")

	ctx := context.Background()
	cfg := config.Load()

	client, err := features.NewClient(cfg.Extractor.URL, cfg.Extractor.Token)
	if err != nil {
		return fmt.Errorf("failed to create extractor client: %w", err)
	}
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("extractor not reachable at %s: %w", cfg.Extractor.URL, err)
	}

	var imgRepo *postgres.ImageRepository
	if index {
		if cfg.Database.URL == "" {
			return fmt.Errorf("--index requires the DATABASE_URL environment variable")
		}
		fmt.Println("Connecting to PostgreSQL...")
		if err := postgres.Initialize(&cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		imgRepo = postgres.NewImageRepository(postgres.GetGlobalPool())
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	bar := progressbar.NewOptions(len(args),
		progressbar.OptionSetDescription("Extracting features"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var successCount, errorCount int
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		bar.Add(1)
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, path := range args {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

			data, err := os.ReadFile(path)
			if err != nil {
				fail(fmt.Errorf("%s: %w", path, err))
				return
			}

			prepared, err := features.PrepareImage(data, cfg.Extractor.MaxImageSize)
			if err != nil {
				fail(fmt.Errorf("%s: %w", path, err))
				return
			}

			f, err := client.Extract(ctx, id, prepared.JPEG, prepared.Scale)
			if err != nil {
				fail(fmt.Errorf("%s: %w", path, err))
				return
			}

			if err := features.Save(f, filepath.Join(outDir, id+features.FileExt)); err != nil {
				fail(fmt.Errorf("%s: %w", path, err))
				return
			}

			if imgRepo != nil {
				img := &database.StoredImage{
					ID:         f.ID,
					Descriptor: f.Descriptor(),
					CoarseH:    f.Coarse.H,
					CoarseW:    f.Coarse.W,
					FullH:      f.Full.H,
					FullW:      f.Full.W,
					Channels:   f.Channels,
				}
				if err := imgRepo.Save(ctx, img); err != nil {
					fail(fmt.Errorf("%s: %w", path, err))
					return
				}
			}

			mu.Lock()
			successCount++
			mu.Unlock()
			bar.Add(1)
		}(path)
	}

	wg.Wait()
	fmt.Println()

	fmt.Printf("\nCompleted: %d successful, %d errors\n", successCount, errorCount)
	if errorCount > 0 {
		return fmt.Errorf("%d of %d images failed, first error: %w", errorCount, len(args), firstErr)
	}
	return nil
}
