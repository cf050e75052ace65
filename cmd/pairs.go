package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gridmatch/internal/config"
	"gridmatch/internal/features"
	"gridmatch/internal/retrieval"
)

var pairsCmd = &cobra.Command{
	Use:   "pairs <features-dir>",
	Short: "Propose image pairs worth matching",
	Long: `Propose candidate image pairs from a directory of feature files.
Whole-image descriptors go into an approximate nearest-neighbour index and
each image's closest neighbours become candidate pairs, so a large collection
does not need every pairwise combination matched.

Examples:
  # Propose pairs among all extracted features
  gridmatch pairs features/

  # Consider more neighbours per image
  gridmatch pairs --neighbors 10 features/

  # Persist the index between runs
  gridmatch pairs --index retrieval.idx features/`,
	Args: cobra.ExactArgs(1),
	RunE: runPairs,
}

func init() {
	rootCmd.AddCommand(pairsCmd)

	pairsCmd.Flags().Int("neighbors", 0, "Neighbours per image (0 = use configured default)")
	pairsCmd.Flags().String("index", "", "Path to persist the retrieval index (defaults to RETRIEVAL_INDEX_PATH)")
}

func runPairs(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	neighbors := mustGetInt(cmd, "neighbors")
	if neighbors <= 0 {
		neighbors = cfg.Retrieval.Neighbors
	}
	indexPath := mustGetString(cmd, "index")
	if indexPath == "" {
		indexPath = cfg.Retrieval.IndexPath
	}

	imgs, err := features.LoadDir(args[0])
	if err != nil {
		return fmt.Errorf("failed to load feature files: %w", err)
	}
	if len(imgs) < 2 {
		return fmt.Errorf("need at least 2 feature files, found %d in %s", len(imgs), args[0])
	}
	fmt.Printf("Loaded %d feature files\n", len(imgs))

	idx := retrieval.NewIndex()
	loaded := false
	if indexPath != "" {
		if _, err := os.Stat(indexPath); err == nil {
			if err := idx.Load(indexPath); err != nil {
				return fmt.Errorf("failed to load retrieval index: %w", err)
			}
			loaded = true
			fmt.Printf("Loaded retrieval index from %s\n", indexPath)
		}
	}
	if !loaded {
		if err := idx.Build(imgs); err != nil {
			return fmt.Errorf("failed to build retrieval index: %w", err)
		}
		if indexPath != "" {
			if err := idx.Save(indexPath); err != nil {
				return fmt.Errorf("failed to save retrieval index: %w", err)
			}
			fmt.Printf("Saved retrieval index to %s\n", indexPath)
		}
	}

	candidates, err := idx.ProposePairs(imgs, neighbors)
	if err != nil {
		return fmt.Errorf("failed to propose pairs: %w", err)
	}

	fmt.Printf("Proposed %d candidate pairs:\n\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %s  %s  (distance %.4f)\n", c.ID0, c.ID1, c.Distance)
	}
	return nil
}
