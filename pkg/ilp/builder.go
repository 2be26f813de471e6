// Package ilp turns a cell collection into the integer linear program whose
// optimum is the minimum number of splits plus merges achievable under the
// boundary tolerance. Variable indices are assigned in one fixed order —
// cell indicators by ascending reconstruction label, match variables, split
// counters, total splits, merge counters, total merges — so that results are
// reproducible across runs.
package ilp

import (
	"segeval/internal/models"
	"segeval/pkg/cells"
	"segeval/pkg/solver"
)

// Options tunes the problem construction
type Options struct {
	// RecBackgroundLabel, when non-nil, names a reconstruction label that is
	// exempt from the survival constraint: background is allowed to be
	// relabeled away entirely.
	RecBackgroundLabel *float64
}

// CellAssignment ties one indicator variable to the cell and the
// reconstruction label it stands for.
type CellAssignment struct {
	Cell     *models.Cell
	Label    float64
	Variable int
}

// MatchVariable ties one match variable to its label pair
type MatchVariable struct {
	GroundTruthLabel    float64
	ReconstructionLabel float64
	Variable            int
}

// Model is the assembled problem plus the index maps needed to read a
// solution back into cell labels and error counts.
type Model struct {
	Problem *solver.Problem

	// Assignments lists every indicator variable in allocation order
	Assignments []CellAssignment

	// Matches lists every match variable in allocation order
	Matches []MatchVariable

	// SplitsVar and MergesVar index the two total counters
	SplitsVar int
	MergesVar int

	matchVarByPair map[uint64]map[uint64]int
}

// MatchVar returns the variable index of the match variable for the given
// label pair, or -1 when the pair is not a possible match.
func (m *Model) MatchVar(gtLabel, recLabel float64) int {
	byRec, ok := m.matchVarByPair[models.LabelKey(gtLabel)]
	if !ok {
		return -1
	}
	v, ok := byRec[models.LabelKey(recLabel)]
	if !ok {
		return -1
	}
	return v
}

// Build assembles the minimization problem for the given collection
func Build(col *cells.Collection, opts Options) *Model {
	b := &builder{
		col:  col,
		opts: opts,
		model: &Model{
			matchVarByPair: make(map[uint64]map[uint64]int),
		},
		indicatorsByRec:     make(map[uint64][]int),
		indicatorsByGtToRec: make(map[uint64]map[uint64][]int),
	}

	b.countVariables()
	b.model.Problem = solver.NewProblem(b.numVars)

	b.addIndicators()
	b.addSurvivalConstraints()
	b.addMatchVariables()
	b.addMatchActivation()
	b.addSplitCounters()
	b.addMergeCounters()
	b.addObjective()

	return b.model
}

type builder struct {
	col   *cells.Collection
	opts  Options
	model *Model

	numVars int
	nextVar int

	indicatorsByRec     map[uint64][]int
	indicatorsByGtToRec map[uint64]map[uint64][]int
}

// countVariables sizes the problem up front: one indicator per cell and
// possible label, one match variable per possible pair, one counter per
// label on each side, and the two totals.
func (b *builder) countVariables() {
	n := 0
	for _, cell := range b.col.Cells() {
		n += 1 + len(cell.AlternativeLabels())
	}
	for _, gtLabel := range b.col.GroundTruthLabels() {
		n += len(b.col.PossibleMatchesByGroundTruth(gtLabel))
	}
	n += len(b.col.GroundTruthLabels()) + 1
	n += len(b.col.ReconstructionLabels()) + 1
	b.numVars = n
}

func (b *builder) allocate() int {
	v := b.nextVar
	b.nextVar++
	return v
}

// addIndicators introduces one binary indicator per cell and admissible
// label, and the coverage constraint forcing exactly one per cell.
func (b *builder) addIndicators() {
	for _, recLabel := range b.col.ReconstructionLabels() {
		for _, cell := range b.col.CellsByReconstruction(recLabel) {
			begin := b.nextVar

			b.assignIndicator(b.allocate(), cell, cell.ReconstructionLabel)
			for _, alt := range cell.AlternativeLabels() {
				b.assignIndicator(b.allocate(), cell, alt)
			}

			end := b.nextVar

			// every cell carries exactly one label
			coverage := solver.NewConstraint(solver.Equal, 1)
			for v := begin; v < end; v++ {
				coverage.SetCoefficient(v, 1)
			}
			b.model.Problem.AddConstraint(coverage)
		}
	}
}

func (b *builder) assignIndicator(v int, cell *models.Cell, label float64) {
	b.model.Assignments = append(b.model.Assignments, CellAssignment{
		Cell:     cell,
		Label:    label,
		Variable: v,
	})

	labelKey := models.LabelKey(label)
	gtKey := models.LabelKey(cell.GroundTruthLabel)

	b.indicatorsByRec[labelKey] = append(b.indicatorsByRec[labelKey], v)

	if _, ok := b.indicatorsByGtToRec[gtKey]; !ok {
		b.indicatorsByGtToRec[gtKey] = make(map[uint64][]int)
	}
	b.indicatorsByGtToRec[gtKey][labelKey] = append(b.indicatorsByGtToRec[gtKey][labelKey], v)
}

// addSurvivalConstraints forces every input reconstruction label to remain
// on at least one cell. Indicators where the label appears as an alternative
// count toward the sum, so a label may migrate but not vanish. A configured
// background label is exempt.
func (b *builder) addSurvivalConstraints() {
	for _, recLabel := range b.col.ReconstructionLabels() {
		if b.opts.RecBackgroundLabel != nil &&
			models.LabelKey(recLabel) == models.LabelKey(*b.opts.RecBackgroundLabel) {
			continue
		}

		survival := solver.NewConstraint(solver.GreaterEqual, 1)
		for _, v := range b.indicatorsByRec[models.LabelKey(recLabel)] {
			survival.SetCoefficient(v, 1)
		}
		b.model.Problem.AddConstraint(survival)
	}
}

// addMatchVariables introduces one binary variable per possible label pair
func (b *builder) addMatchVariables() {
	for _, gtLabel := range b.col.GroundTruthLabels() {
		gtKey := models.LabelKey(gtLabel)
		for _, recLabel := range b.col.PossibleMatchesByGroundTruth(gtLabel) {
			v := b.allocate()

			b.model.Matches = append(b.model.Matches, MatchVariable{
				GroundTruthLabel:    gtLabel,
				ReconstructionLabel: recLabel,
				Variable:            v,
			})

			if _, ok := b.model.matchVarByPair[gtKey]; !ok {
				b.model.matchVarByPair[gtKey] = make(map[uint64]int)
			}
			b.model.matchVarByPair[gtKey][models.LabelKey(recLabel)] = v
		}
	}
}

// addMatchActivation couples each match variable to the indicators mapping
// its ground truth label onto its reconstruction label: any active indicator
// lifts the match to one, and without any the match drops to zero.
func (b *builder) addMatchActivation() {
	for _, gtLabel := range b.col.GroundTruthLabels() {
		gtKey := models.LabelKey(gtLabel)
		for _, recLabel := range b.col.PossibleMatchesByGroundTruth(gtLabel) {
			matchVar := b.model.MatchVar(gtLabel, recLabel)
			indicators := b.indicatorsByGtToRec[gtKey][models.LabelKey(recLabel)]

			noMatch := solver.NewConstraint(solver.GreaterEqual, 0)
			for _, v := range indicators {
				noMatch.SetCoefficient(v, 1)

				activate := solver.NewConstraint(solver.GreaterEqual, 0)
				activate.SetCoefficient(matchVar, 1)
				activate.SetCoefficient(v, -1)
				b.model.Problem.AddConstraint(activate)
			}
			noMatch.SetCoefficient(matchVar, -1)
			b.model.Problem.AddConstraint(noMatch)
		}
	}
}

// addSplitCounters introduces one nonnegative integer counter per ground
// truth label, equal to its number of active matches minus one, and the
// total splits variable.
func (b *builder) addSplitCounters() {
	splitBegin := b.nextVar

	for _, gtLabel := range b.col.GroundTruthLabels() {
		splitVar := b.allocate()
		b.model.Problem.SetVariableType(splitVar, solver.Integer)

		positive := solver.NewConstraint(solver.GreaterEqual, 0)
		positive.SetCoefficient(splitVar, 1)
		b.model.Problem.AddConstraint(positive)

		numSplits := solver.NewConstraint(solver.Equal, -1)
		numSplits.SetCoefficient(splitVar, 1)
		for _, recLabel := range b.col.PossibleMatchesByGroundTruth(gtLabel) {
			numSplits.SetCoefficient(b.model.MatchVar(gtLabel, recLabel), -1)
		}
		b.model.Problem.AddConstraint(numSplits)
	}

	splitEnd := b.nextVar

	b.model.SplitsVar = b.allocate()
	b.model.Problem.SetVariableType(b.model.SplitsVar, solver.Integer)

	total := solver.NewConstraint(solver.Equal, 0)
	total.SetCoefficient(b.model.SplitsVar, 1)
	for v := splitBegin; v < splitEnd; v++ {
		total.SetCoefficient(v, -1)
	}
	b.model.Problem.AddConstraint(total)
}

// addMergeCounters mirrors addSplitCounters on the reconstruction side
func (b *builder) addMergeCounters() {
	mergeBegin := b.nextVar

	for _, recLabel := range b.col.ReconstructionLabels() {
		mergeVar := b.allocate()
		b.model.Problem.SetVariableType(mergeVar, solver.Integer)

		positive := solver.NewConstraint(solver.GreaterEqual, 0)
		positive.SetCoefficient(mergeVar, 1)
		b.model.Problem.AddConstraint(positive)

		// an exempt background label may vanish, leaving it without any
		// match; its counter must then be free to sit at zero
		relation := solver.Equal
		if b.opts.RecBackgroundLabel != nil &&
			models.LabelKey(recLabel) == models.LabelKey(*b.opts.RecBackgroundLabel) {
			relation = solver.GreaterEqual
		}

		numMerges := solver.NewConstraint(relation, -1)
		numMerges.SetCoefficient(mergeVar, 1)
		for _, gtLabel := range b.col.PossibleMatchesByReconstruction(recLabel) {
			numMerges.SetCoefficient(b.model.MatchVar(gtLabel, recLabel), -1)
		}
		b.model.Problem.AddConstraint(numMerges)
	}

	mergeEnd := b.nextVar

	b.model.MergesVar = b.allocate()
	b.model.Problem.SetVariableType(b.model.MergesVar, solver.Integer)

	total := solver.NewConstraint(solver.Equal, 0)
	total.SetCoefficient(b.model.MergesVar, 1)
	for v := mergeBegin; v < mergeEnd; v++ {
		total.SetCoefficient(v, -1)
	}
	b.model.Problem.AddConstraint(total)
}

func (b *builder) addObjective() {
	b.model.Problem.SetObjectiveCoefficient(b.model.SplitsVar, 1)
	b.model.Problem.SetObjectiveCoefficient(b.model.MergesVar, 1)
}
