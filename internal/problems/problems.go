// Package problems is a small catalog of implicit test systems for the
// stepper: classic stiff ODEs written in residual form and a genuinely
// algebraic-constrained system.
package problems

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/radau/internal/dae"
)

// ErrUnknownModel indicates a catalog lookup by an unregistered name.
var ErrUnknownModel = errors.New("problems: unknown model")

// Model is an implicit system F(t, y, y') = 0 with consistent initial
// conditions and a recommended integration span.
type Model interface {
	Name() string
	Dim() int
	Residual(t float64, y, yp, f []float64)
	Jacobians(t float64, y, yp []float64) (jy, jyp *mat.Dense)
	Initial() (y0, yp0 []float64)
	Span() (t0, tBound float64)
	Describe() string
}

// Reference is implemented by models with a closed-form solution.
type Reference interface {
	Exact(t float64) []float64
}

var catalog = map[string]func() Model{
	"decay":     func() Model { return NewDecay() },
	"prothero":  func() Model { return NewProthero() },
	"vanderpol": func() Model { return NewVanDerPol() },
	"robertson": func() Model { return NewRobertson() },
}

// Get constructs the named model.
func Get(name string) (Model, error) {
	ctor, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return ctor(), nil
}

// Names lists the catalog in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResidualFunc adapts a model to the solver callback type.
func ResidualFunc(m Model) dae.ResidualFunc {
	return m.Residual
}

// JacobianFunc adapts a model to the solver callback type.
func JacobianFunc(m Model) dae.JacobianFunc {
	return m.Jacobians
}
