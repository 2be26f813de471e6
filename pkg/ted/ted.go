// Package ted implements the tolerant edit distance: it scores a volumetric
// reconstruction against a ground truth segmentation while allowing
// boundaries to shift up to a physical distance threshold. The evaluation
// finds the minimum-error relabeling of the reconstruction that stays within
// the tolerance and reports the resulting splits and merges, together with
// the corrected reconstruction the optimum corresponds to.
//
// The evaluation runs in stages:
//  1. Extract cells: maximal voxel sets of constant (gt, rec) label pair.
//  2. Enumerate tolerated alternative labels per cell via distance fields.
//  3. Build the assignment problem over indicators, matches and counters.
//  4. Solve it exactly with a mixed-integer backend.
//  5. Read the chosen labels back into error counts and a corrected volume.
package ted

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"segeval/internal/models"
	"segeval/pkg/cells"
	"segeval/pkg/ilp"
	"segeval/pkg/solver"
	"segeval/pkg/tolerance"
)

// ErrBadSolution reports a solution violating a structural invariant, such
// as a cell without exactly one active indicator. It indicates a builder or
// backend bug, not bad input.
var ErrBadSolution = errors.New("solution violates problem invariants")

// Config holds the evaluation parameters
type Config struct {
	// ToleranceDistanceThreshold is the maximum allowed boundary shift in
	// nanometers
	ToleranceDistanceThreshold float64

	// Pitch is the physical voxel spacing in nanometers
	Pitch models.Pitch

	// GtBackgroundLabel optionally marks a ground truth label as background
	// for false positive / false negative scoring
	GtBackgroundLabel *float64

	// RecBackgroundLabel optionally marks a reconstruction label as
	// background; it is exempt from the survival constraint and used for
	// false positive / false negative scoring
	RecBackgroundLabel *float64

	// Workers bounds internal parallelism. Zero means one worker per CPU.
	Workers int

	// Solver is the mixed-integer backend. Nil selects the built-in branch
	// and bound over gonum's simplex.
	Solver solver.Solver

	// Logger receives progress events; use zerolog.Nop to disable
	Logger zerolog.Logger
}

// DefaultConfig returns the standard evaluation parameters: a 100 nm
// tolerance on a 1x1x10 nm voxel grid.
func DefaultConfig() Config {
	return Config{
		ToleranceDistanceThreshold: 100,
		Pitch:                      models.Pitch{X: 1, Y: 1, Z: 10},
		Workers:                    runtime.NumCPU(),
		Logger:                     zerolog.Nop(),
	}
}

// Result is the outcome of one evaluation
type Result struct {
	// Errors holds the split and merge counts and the active matches
	Errors models.Errors

	// Corrected is the reconstruction after applying the minimum-error
	// relabeling, same shape as the inputs
	Corrected *models.Volume

	// Metrics are information-theoretic agreement measures between the
	// ground truth and the reconstruction before and after correction
	Metrics Metrics

	// NumCells and NumVariables describe the solved problem
	NumCells     int
	NumVariables int
}

// Evaluate computes the tolerant edit distance between a ground truth and a
// reconstruction volume. Structures are built from scratch per call; nothing
// is shared between evaluations.
func Evaluate(groundTruth, reconstruction *models.Volume, cfg Config) (*Result, error) {
	log := cfg.Logger

	log.Info().
		Int("width", groundTruth.Width).
		Int("height", groundTruth.Height).
		Int("depth", groundTruth.Depth).
		Msg("extracting cells")

	col, err := cells.Extract(groundTruth, reconstruction)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("cells", col.NumCells()).
		Int("gtLabels", len(col.GroundTruthLabels())).
		Int("recLabels", len(col.ReconstructionLabels())).
		Msg("enumerating alternative labels")

	err = tolerance.Enumerate(col, tolerance.Params{
		Threshold: cfg.ToleranceDistanceThreshold,
		Pitch:     cfg.Pitch,
		Workers:   cfg.Workers,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("tolerance enumeration failed: %w", err)
	}

	model := ilp.Build(col, ilp.Options{
		RecBackgroundLabel: cfg.RecBackgroundLabel,
	})

	log.Info().
		Int("variables", model.Problem.NumVariables).
		Int("constraints", len(model.Problem.Constraints)).
		Msg("solving assignment problem")

	backend := cfg.Solver
	if backend == nil {
		backend = solver.NewBranchBound()
	}

	solution, err := backend.Solve(model.Problem)
	if err != nil {
		return nil, fmt.Errorf("solver failed: %w", err)
	}

	result, err := extract(model, solution, groundTruth, reconstruction)
	if err != nil {
		return nil, err
	}

	result.Metrics = computeMetrics(groundTruth, reconstruction, result.Corrected)

	log.Info().
		Int("splits", result.Errors.Splits).
		Int("merges", result.Errors.Merges).
		Msg("evaluation complete")

	return result, nil
}

// extract reads the solution vector back into error counts, active matches
// and the corrected reconstruction volume.
func extract(model *ilp.Model, solution *solver.Solution, groundTruth, reconstruction *models.Volume) (*Result, error) {
	result := &Result{
		Corrected:    models.NewVolume(groundTruth.Width, groundTruth.Height, groundTruth.Depth),
		NumVariables: model.Problem.NumVariables,
	}

	if model.Problem.NumVariables == 0 {
		return result, nil
	}

	// the chosen label of each cell is its unique active indicator
	chosen := make(map[*models.Cell]float64)
	active := make(map[*models.Cell]int)
	for _, a := range model.Assignments {
		if solution.Value(a.Variable) > 0.5 {
			chosen[a.Cell] = a.Label
			active[a.Cell]++
		} else {
			if _, ok := active[a.Cell]; !ok {
				active[a.Cell] = 0
			}
		}
	}
	result.NumCells = len(active)

	for cell, count := range active {
		if count != 1 {
			return nil, fmt.Errorf("%w: cell (gt=%g, rec=%g) has %d active indicators",
				ErrBadSolution, cell.GroundTruthLabel, cell.ReconstructionLabel, count)
		}
	}

	for cell, label := range chosen {
		for _, l := range cell.Locations {
			result.Corrected.Set(l.X, l.Y, l.Z, label)
		}
	}

	for _, m := range model.Matches {
		if solution.Value(m.Variable) > 0.5 {
			result.Errors.Matches = append(result.Errors.Matches, models.Match{
				GroundTruthLabel:    m.GroundTruthLabel,
				ReconstructionLabel: m.ReconstructionLabel,
			})
		}
	}

	result.Errors.Splits = int(solution.Value(model.SplitsVar) + 0.5)
	result.Errors.Merges = int(solution.Value(model.MergesVar) + 0.5)

	return result, nil
}
