package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// BranchBound is an exact mixed-integer solver. Each node relaxes the
// integrality requirements and solves the remaining linear program with
// gonum's simplex; fractional integer variables are resolved by branching on
// the most fractional one, depth-first, pruning against the incumbent.
type BranchBound struct {
	// IntegralityTol decides when a relaxation value counts as integral
	IntegralityTol float64

	// MaxNodes bounds the search; exceeding it returns ErrNodeLimit
	MaxNodes int
}

// NewBranchBound returns a solver with default settings
func NewBranchBound() *BranchBound {
	return &BranchBound{
		IntegralityTol: 1e-6,
		MaxNodes:       200000,
	}
}

// node is one subproblem, defined entirely by its variable bounds
type node struct {
	lower []float64
	upper []float64
}

// Solve finds an exact optimum of the mixed-integer problem
func (s *BranchBound) Solve(p *Problem) (*Solution, error) {
	n := p.NumVariables
	if n == 0 {
		return &Solution{}, nil
	}

	rel := newRelaxation(p)

	root := node{
		lower: make([]float64, n),
		upper: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		if p.VariableType(i) == Binary {
			root.upper[i] = 1
		} else {
			root.upper[i] = math.Inf(1)
		}
	}

	var (
		best    *Solution
		bestObj = math.Inf(1)
		stack   = []node{root}
		visited = 0
	)

	for len(stack) > 0 {
		visited++
		if visited > s.MaxNodes {
			return nil, ErrNodeLimit
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		x, obj, err := rel.solve(nd.lower, nd.upper)
		if err != nil {
			if errors.Is(err, lp.ErrInfeasible) {
				continue
			}
			if errors.Is(err, lp.ErrUnbounded) {
				return nil, ErrUnbounded
			}
			return nil, fmt.Errorf("simplex failed: %w", err)
		}

		// a relaxation no better than the incumbent cannot improve
		if obj >= bestObj-1e-9 {
			continue
		}

		branchVar := -1
		maxFrac := s.IntegralityTol
		for i := 0; i < n; i++ {
			if p.VariableType(i) == Continuous {
				continue
			}
			frac := math.Abs(x[i] - math.Round(x[i]))
			if frac > maxFrac {
				maxFrac = frac
				branchVar = i
			}
		}

		if branchVar < 0 {
			// integral solution; round off residual noise
			values := make([]float64, n)
			for i := range values {
				values[i] = math.Round(x[i])
			}
			best = &Solution{Values: values, Objective: obj}
			bestObj = obj
			continue
		}

		floor := math.Floor(x[branchVar])

		up := node{
			lower: append([]float64(nil), nd.lower...),
			upper: append([]float64(nil), nd.upper...),
		}
		up.lower[branchVar] = floor + 1

		down := node{
			lower: append([]float64(nil), nd.lower...),
			upper: append([]float64(nil), nd.upper...),
		}
		down.upper[branchVar] = floor

		// explore the rounded-down branch first
		stack = append(stack, up, down)
	}

	if best == nil {
		return nil, ErrInfeasible
	}
	return best, nil
}

// relaxation converts the problem's constraints into the general LP form
// consumed by lp.Convert once, and re-applies per-node variable bounds as
// extra inequality rows on every solve.
type relaxation struct {
	n int
	c []float64

	// fixed inequality rows: ineqA * x <= ineqB
	ineqA [][]float64
	ineqB []float64

	// fixed equality rows: eqA * x = eqB
	eqA [][]float64
	eqB []float64
}

func newRelaxation(p *Problem) *relaxation {
	n := p.NumVariables

	r := &relaxation{n: n, c: make([]float64, n)}
	for i, coeff := range p.Objective {
		r.c[i] = coeff
	}

	for _, constraint := range p.Constraints {
		row := make([]float64, n)
		for i, coeff := range constraint.Coefficients {
			row[i] = coeff
		}

		switch constraint.Relation {
		case LessEqual:
			r.ineqA = append(r.ineqA, row)
			r.ineqB = append(r.ineqB, constraint.Value)
		case GreaterEqual:
			neg := make([]float64, n)
			for i, coeff := range row {
				neg[i] = -coeff
			}
			r.ineqA = append(r.ineqA, neg)
			r.ineqB = append(r.ineqB, -constraint.Value)
		case Equal:
			r.eqA = append(r.eqA, row)
			r.eqB = append(r.eqB, constraint.Value)
		}
	}

	return r
}

// solve runs the simplex on the LP relaxation under the given bounds and
// returns the optimum over the original variables.
func (r *relaxation) solve(lower, upper []float64) ([]float64, float64, error) {
	n := r.n

	// bounds become inequality rows: -x_i <= -lower_i, x_i <= upper_i
	numIneq := len(r.ineqA)
	rows := numIneq + n
	for i := 0; i < n; i++ {
		if !math.IsInf(upper[i], 1) {
			rows++
		}
	}

	g := mat.NewDense(rows, n, nil)
	h := make([]float64, rows)

	for i, row := range r.ineqA {
		g.SetRow(i, row)
		h[i] = r.ineqB[i]
	}

	ri := numIneq
	for i := 0; i < n; i++ {
		g.Set(ri, i, -1)
		h[ri] = -lower[i]
		ri++
	}
	for i := 0; i < n; i++ {
		if math.IsInf(upper[i], 1) {
			continue
		}
		g.Set(ri, i, 1)
		h[ri] = upper[i]
		ri++
	}

	var a mat.Matrix
	var b []float64
	if len(r.eqA) > 0 {
		dense := mat.NewDense(len(r.eqA), n, nil)
		for i, row := range r.eqA {
			dense.SetRow(i, row)
		}
		a = dense
		b = r.eqB
	}

	cStd, aStd, bStd := lp.Convert(r.c, g, h, a, b)

	_, xStd, err := lp.Simplex(cStd, aStd, bStd, 1e-10, nil)
	if err != nil {
		return nil, 0, err
	}

	// lp.Convert splits every free variable into a positive and a negative
	// part; the original variables are their difference
	x := make([]float64, n)
	obj := 0.0
	for i := 0; i < n; i++ {
		x[i] = xStd[i] - xStd[n+i]
		obj += r.c[i] * x[i]
	}

	return x, obj, nil
}
