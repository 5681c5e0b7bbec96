package stats

import "math"

// Osterwald-Lenum 5% critical values for the 2-variable case with constant.
var (
	johansenTraceCrit  = [2]float64{15.41, 3.76}
	johansenMaxEigCrit = [2]float64{14.07, 3.76}
)

// johansenMinObs is the smallest sample the test accepts.
const johansenMinObs = 40

// JohansenResult holds the cointegration rank decision for a 2-variable
// system together with the statistics that produced it.
type JohansenResult struct {
	Rank        int
	Eigenvalues [2]float64
	TraceStats  [2]float64
	MaxEigStats [2]float64
	Reason      string
}

// Johansen runs a 2-variable Johansen cointegration test on the level
// series a and b: VAR(1) residual moment matrices are formed and the
// generalized eigenvalue problem is solved in closed form for the 2x2 case.
// Fewer than 40 observations, or a singular moment matrix, reports rank 0
// with a reason rather than failing.
func Johansen(a, b []float64) *JohansenResult {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < johansenMinObs {
		return &JohansenResult{Rank: 0, Reason: "insufficient observations for johansen test"}
	}

	// Lagged levels and first differences, both demeaned.
	t := n - 1
	z0 := [2][]float64{make([]float64, t), make([]float64, t)} // differences
	z1 := [2][]float64{make([]float64, t), make([]float64, t)} // lagged levels
	for i := 0; i < t; i++ {
		z0[0][i] = a[i+1] - a[i]
		z0[1][i] = b[i+1] - b[i]
		z1[0][i] = a[i]
		z1[1][i] = b[i]
	}
	for k := 0; k < 2; k++ {
		z0[k] = demean(z0[k])
		z1[k] = demean(z1[k])
	}

	s00 := momentMatrix(z0, z0, t)
	s11 := momentMatrix(z1, z1, t)
	s01 := momentMatrix(z0, z1, t)
	s10 := transpose2(s01)

	s00Inv, ok := inverse2(s00)
	if !ok {
		return &JohansenResult{Rank: 0, Reason: "singular moment matrix"}
	}
	s11Inv, ok := inverse2(s11)
	if !ok {
		return &JohansenResult{Rank: 0, Reason: "singular moment matrix"}
	}

	// Eigenvalues of S11^-1 S10 S00^-1 S01, closed form via the
	// characteristic quadratic of a 2x2 matrix.
	m := mul2(mul2(s11Inv, s10), mul2(s00Inv, s01))
	tr := m[0][0] + m[1][1]
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	disc := tr*tr - 4*det
	if disc < 0 {
		disc = 0
	}
	root := math.Sqrt(disc)
	l1 := (tr + root) / 2
	l2 := (tr - root) / 2
	l1 = clampEigen(l1)
	l2 = clampEigen(l2)
	if l2 > l1 {
		l1, l2 = l2, l1
	}

	res := &JohansenResult{Eigenvalues: [2]float64{l1, l2}}
	tf := float64(t)
	res.TraceStats[0] = -tf * (math.Log(1-l1) + math.Log(1-l2))
	res.TraceStats[1] = -tf * math.Log(1-l2)
	res.MaxEigStats[0] = -tf * math.Log(1-l1)
	res.MaxEigStats[1] = -tf * math.Log(1-l2)

	// Sequential trace test at 5%.
	rank := 0
	for r := 0; r < 2; r++ {
		if res.TraceStats[r] > johansenTraceCrit[r] {
			rank = r + 1
		} else {
			break
		}
	}
	res.Rank = rank
	return res
}

// clampEigen keeps an eigenvalue inside [0, 1) so the log transforms stay
// finite under numerical noise.
func clampEigen(l float64) float64 {
	if l < 0 || math.IsNaN(l) {
		return 0
	}
	if l >= 1 {
		return 1 - 1e-12
	}
	return l
}

type mat2 [2][2]float64

// momentMatrix returns X Y' / t for two 2-row series.
func momentMatrix(x, y [2][]float64, t int) mat2 {
	var m mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			var sum float64
			for k := 0; k < t; k++ {
				sum += x[i][k] * y[j][k]
			}
			m[i][j] = sum / float64(t)
		}
	}
	return m
}

func transpose2(m mat2) mat2 {
	return mat2{{m[0][0], m[1][0]}, {m[0][1], m[1][1]}}
}

func inverse2(m mat2) (mat2, bool) {
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	if det == 0 || math.IsNaN(det) {
		return mat2{}, false
	}
	return mat2{
		{m[1][1] / det, -m[0][1] / det},
		{-m[1][0] / det, m[0][0] / det},
	}, true
}

func mul2(a, b mat2) mat2 {
	var m mat2
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			m[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j]
		}
	}
	return m
}
