package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"segeval/internal/models"
	"segeval/pkg/config"
	"segeval/pkg/solver"
	"segeval/pkg/stack"
	"segeval/pkg/ted"
)

func main() {
	// Parse command line arguments
	gtDir := flag.String("gt", "", "Directory containing the ground truth slice stack")
	recDir := flag.String("rec", "", "Directory containing the reconstruction slice stack")
	configPath := flag.String("config", "segeval.yaml", "Path to the YAML configuration file")
	threshold := flag.Float64("threshold", math.NaN(), "Tolerance distance threshold in nm (overrides config)")
	outputDir := flag.String("output", "evaluation_results", "Directory for result stacks")
	saveCorrected := flag.Bool("save-corrected", false, "Save the corrected reconstruction stack")
	saveLocations := flag.Bool("save-locations", false, "Save split/merge/fp/fn location stacks")
	workers := flag.Int("workers", 0, "Number of concurrent distance field workers (0 = config value, which defaults to all cores)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	// Validate inputs
	if *gtDir == "" || *recDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command line overrides
	if !math.IsNaN(*threshold) {
		cfg.Evaluation.ToleranceDistanceThreshold = *threshold
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *saveCorrected {
		cfg.Output.SaveCorrected = true
	}
	if *saveLocations {
		cfg.Output.SaveErrorLocations = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	fmt.Println("================================")
	fmt.Println("TOLERANT EDIT DISTANCE SEGMENTATION EVALUATION")
	fmt.Println("================================")

	// Load both stacks
	log.Info().Str("dir", *gtDir).Msg("loading ground truth stack")
	groundTruth, err := stack.LoadVolume(*gtDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load ground truth")
	}

	log.Info().Str("dir", *recDir).Msg("loading reconstruction stack")
	reconstruction, err := stack.LoadVolume(*recDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load reconstruction")
	}

	fmt.Printf("Loaded %dx%dx%d volumes (%s voxels each)\n",
		groundTruth.Width, groundTruth.Height, groundTruth.Depth,
		humanize.Comma(int64(groundTruth.NumVoxels())))
	fmt.Printf("Tolerance: %.1f nm at pitch (%.1f, %.1f, %.1f) nm\n",
		cfg.Evaluation.ToleranceDistanceThreshold,
		cfg.Evaluation.Pitch.X, cfg.Evaluation.Pitch.Y, cfg.Evaluation.Pitch.Z)

	backend := solver.NewBranchBound()
	backend.MaxNodes = cfg.Processing.SolverNodeLimit

	evalCfg := ted.Config{
		ToleranceDistanceThreshold: cfg.Evaluation.ToleranceDistanceThreshold,
		Pitch: models.Pitch{
			X: cfg.Evaluation.Pitch.X,
			Y: cfg.Evaluation.Pitch.Y,
			Z: cfg.Evaluation.Pitch.Z,
		},
		GtBackgroundLabel:  cfg.Evaluation.GtBackgroundLabel,
		RecBackgroundLabel: cfg.Evaluation.RecBackgroundLabel,
		Workers:            cfg.Processing.NumWorkers,
		Solver:             backend,
		Logger:             log,
	}

	// Run the evaluation
	startTime := time.Now()
	result, err := ted.Evaluate(groundTruth, reconstruction, evalCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}
	elapsed := time.Since(startTime)

	fmt.Printf("\nEvaluation completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Solved %s cells over %s variables\n\n",
		humanize.Comma(int64(result.NumCells)), humanize.Comma(int64(result.NumVariables)))

	fmt.Printf("Errors:\n")
	fmt.Printf("=======\n")
	fmt.Printf("Splits: %d\n", result.Errors.Splits)
	fmt.Printf("Merges: %d\n", result.Errors.Merges)
	fmt.Printf("Total:  %d\n\n", result.Errors.Total())

	fmt.Printf("Matched label pairs:\n")
	for _, m := range result.Errors.Matches {
		fmt.Printf("  gt %g -> rec %g\n", m.GroundTruthLabel, m.ReconstructionLabel)
	}

	fmt.Printf("\nAgreement metrics:\n")
	fmt.Printf("==================\n")
	fmt.Printf("Mutual information (gt, rec): %.4f\n", result.Metrics.MutualInformation)
	fmt.Printf("Variation of information (gt, rec): %.4f\n", result.Metrics.VariationOfInformation)
	fmt.Printf("Variation of information (gt, corrected): %.4f\n", result.Metrics.CorrectedVariationOfInformation)
	fmt.Printf("Relabeled voxel fraction: %.4f\n", result.Metrics.RelabeledFraction)

	if cfg.Output.SaveCorrected {
		dir := filepath.Join(*outputDir, "corrected")
		fmt.Printf("\nSaving corrected reconstruction to: %s\n", dir)
		if err := stack.SaveVolume(result.Corrected, dir); err != nil {
			log.Error().Err(err).Msg("failed to save corrected reconstruction")
		}
	}

	if cfg.Output.SaveErrorLocations {
		locations := result.ErrorLocations(groundTruth, evalCfg)

		stacks := map[string]*models.Volume{
			"split_locations": locations.Splits,
			"merge_locations": locations.Merges,
		}
		if locations.FalsePositives != nil {
			stacks["false_positives"] = locations.FalsePositives
			stacks["false_negatives"] = locations.FalseNegatives
		}

		for name, volume := range stacks {
			dir := filepath.Join(*outputDir, name)
			fmt.Printf("Saving %s to: %s\n", name, dir)
			if err := stack.SaveVolume(volume, dir); err != nil {
				log.Error().Err(err).Msgf("failed to save %s", name)
			}
		}
	}
}
