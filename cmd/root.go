package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gridmatch",
	Short: "A CLI tool for coarse feature matching between image pairs",
	Long: `Gridmatch finds coarse correspondences between images. It works on
dense feature grids produced by an extractor service, scores every cell pair
with dual-softmax or Sinkhorn optimal transport, and keeps the mutually
strongest pairs as matches in full-resolution pixel coordinates.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
