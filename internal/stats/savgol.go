package stats

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CheckSavGol reports why (window, order) cannot smooth n samples, or nil.
func CheckSavGol(n, window, order int) error {
	switch {
	case window <= 0:
		return fmt.Errorf("window length %d must be positive", window)
	case window%2 == 0:
		return fmt.Errorf("window length %d must be odd", window)
	case order < 0:
		return fmt.Errorf("polynomial order %d must not be negative", order)
	case window < order+2:
		return fmt.Errorf("window length %d must be at least polynomial order + 2 (%d)", window, order+2)
	case window > n:
		return fmt.Errorf("window length %d exceeds sample count %d", window, n)
	}
	return nil
}

// SavGol applies a Savitzky-Golay filter. Interior points use the centered
// least-squares fit; the first and last half-windows are evaluated on the
// polynomial fitted to the first and last full window.
func SavGol(values []float64, window, order int) ([]float64, error) {
	n := len(values)
	if err := CheckSavGol(n, window, order); err != nil {
		return nil, err
	}

	hat, err := savGolHat(window, order)
	if err != nil {
		return nil, err
	}

	half := window / 2
	out := make([]float64, n)

	apply := func(row int, start int) float64 {
		var sum float64
		for j := 0; j < window; j++ {
			sum += hat.At(row, j) * values[start+j]
		}
		return sum
	}

	for i := 0; i < n; i++ {
		switch {
		case i < half:
			out[i] = apply(i, 0)
		case i >= n-half:
			out[i] = apply(window-(n-i), n-window)
		default:
			out[i] = apply(half, i-half)
		}
	}

	return out, nil
}

// savGolHat builds the window x window projection A (A^T A)^-1 A^T where
// A is the Vandermonde matrix of offsets -half..half.
func savGolHat(window, order int) (*mat.Dense, error) {
	half := window / 2
	cols := order + 1

	// Offsets are scaled into [-1, 1]; the projection is unchanged by
	// column scaling and the normal matrix stays well conditioned.
	scale := float64(max(half, 1))

	a := mat.NewDense(window, cols, nil)
	for i := 0; i < window; i++ {
		x := float64(i-half) / scale
		p := 1.0
		for j := 0; j < cols; j++ {
			a.Set(i, j, p)
			p *= x
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)

	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		return nil, fmt.Errorf("failed to invert normal matrix: %w", err)
	}

	var tmp, hat mat.Dense
	tmp.Mul(a, &inv)
	hat.Mul(&tmp, a.T())
	return &hat, nil
}
