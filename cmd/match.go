package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gridmatch/internal/coarsematch"
	"gridmatch/internal/config"
	"gridmatch/internal/database"
	"gridmatch/internal/database/postgres"
	"gridmatch/internal/features"
)

var matchCmd = &cobra.Command{
	Use:   "match <left.gmf> <right.gmf> [<left.gmf> <right.gmf>...]",
	Short: "Match feature files pairwise",
	Long: `Match feature files produced by the extract command. Files are taken
two at a time; every two consecutive arguments form one pair and all pairs
are matched in a single batch.

Examples:
  # Match one pair and print the correspondences
  gridmatch match left.gmf right.gmf

  # Use Sinkhorn optimal transport instead of dual-softmax
  gridmatch match --mode sinkhorn left.gmf right.gmf

  # Match two pairs and store the results in PostgreSQL
  gridmatch match --save a.gmf b.gmf c.gmf d.gmf`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 || len(args)%2 != 0 {
			return fmt.Errorf("expected an even number of feature files, got %d", len(args))
		}
		return nil
	},
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("mode", "", "Assignment mode: dual_softmax or sinkhorn (defaults to configuration)")
	matchCmd.Flags().Float64("threshold", 0, "Confidence threshold override (0 = use configured default)")
	matchCmd.Flags().Int("border-margin", -1, "Border margin override in cells (-1 = use configured default)")
	matchCmd.Flags().Bool("json", false, "Print full match lists as JSON")
	matchCmd.Flags().Bool("save", false, "Store match results in PostgreSQL")
}

// pairSummary is the per-pair result printed by the match command.
type pairSummary struct {
	Image0         string  `json:"image0"`
	Image1         string  `json:"image1"`
	MatchCount     int     `json:"match_count"`
	MeanConfidence float64 `json:"mean_confidence"`
	PairID         string  `json:"pair_id,omitempty"`

	points []database.MatchPoint
}

func runMatch(cmd *cobra.Command, args []string) error {
	asJSON := mustGetBool(cmd, "json")
	save := mustGetBool(cmd, "save")

	ctx := context.Background()
	cfg := config.Load()

	mcfg := cfg.Matcher.ToMatcher()
	if mode := mustGetString(cmd, "mode"); mode != "" {
		mcfg.Mode = coarsematch.Mode(mode)
	}
	if threshold := mustGetFloat64(cmd, "threshold"); threshold > 0 {
		mcfg.Threshold = float32(threshold)
	}
	if margin := mustGetInt(cmd, "border-margin"); margin >= 0 {
		mcfg.BorderMargin = margin
	}

	matcher, err := coarsematch.New(mcfg)
	if err != nil {
		return fmt.Errorf("invalid matcher configuration: %w", err)
	}

	var matchRepo *postgres.MatchRepository
	if save {
		if cfg.Database.URL == "" {
			return fmt.Errorf("--save requires the DATABASE_URL environment variable")
		}
		fmt.Fprintln(os.Stderr, "Connecting to PostgreSQL...")
		if err := postgres.Initialize(&cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		matchRepo = postgres.NewMatchRepository(postgres.GetGlobalPool())
	}

	pairs := make([]features.Pair, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		a, err := features.Load(args[i])
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[i], err)
		}
		b, err := features.Load(args[i+1])
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[i+1], err)
		}
		pairs = append(pairs, features.Pair{A: a, B: b})
	}

	batch, err := features.BuildBatch(pairs, false)
	if err != nil {
		return fmt.Errorf("failed to assemble batch: %w", err)
	}

	res, err := matcher.Match(batch.Feat0, batch.Feat1, batch.Mask0, batch.Mask1, batch.Geom)
	if err != nil {
		return fmt.Errorf("matching failed: %w", err)
	}

	summaries := summarize(pairs, res.Matches)

	if save {
		for i := range summaries {
			s := &summaries[i]
			stored := &database.StoredMatch{
				ID0:            s.Image0,
				ID1:            s.Image1,
				Mode:           string(mcfg.Mode),
				MatchCount:     s.MatchCount,
				MeanConfidence: s.MeanConfidence,
			}
			if err := matchRepo.SaveMatch(ctx, stored, s.points); err != nil {
				return fmt.Errorf("failed to save match %s/%s: %w", s.Image0, s.Image1, err)
			}
			s.PairID = stored.PairID
		}
	}

	if asJSON {
		out := map[string]any{"mode": string(mcfg.Mode), "pairs": summaries, "matches": matchPoints(summaries)}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, s := range summaries {
		fmt.Printf("%s <-> %s: %d matches, mean confidence %.4f", s.Image0, s.Image1, s.MatchCount, s.MeanConfidence)
		if s.PairID != "" {
			fmt.Printf(" (saved as %s)", s.PairID)
		}
		fmt.Println()
	}
	return nil
}

// summarize splits the flat match list into per-pair summaries, keeping the
// matcher's stable ordering.
func summarize(pairs []features.Pair, matches *coarsematch.MatchSet) []pairSummary {
	out := make([]pairSummary, len(pairs))
	for i, p := range pairs {
		out[i] = pairSummary{Image0: p.A.ID, Image1: p.B.ID}
	}

	for k := 0; k < matches.Len(); k++ {
		s := &out[matches.BatchID[k]]
		s.points = append(s.points, database.MatchPoint{
			I: matches.I[k], J: matches.J[k],
			X0: matches.Keypoints0[k][0], Y0: matches.Keypoints0[k][1],
			X1: matches.Keypoints1[k][0], Y1: matches.Keypoints1[k][1],
			Confidence: matches.Confidence[k],
		})
		s.MeanConfidence += float64(matches.Confidence[k])
	}

	for i := range out {
		out[i].MatchCount = len(out[i].points)
		if out[i].MatchCount > 0 {
			out[i].MeanConfidence /= float64(out[i].MatchCount)
		}
	}
	return out
}

func matchPoints(summaries []pairSummary) map[string][]database.MatchPoint {
	out := make(map[string][]database.MatchPoint, len(summaries))
	for _, s := range summaries {
		out[s.Image0+"/"+s.Image1] = s.points
	}
	return out
}
