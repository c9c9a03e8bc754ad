package dnn

// Winograd F(2x2, 3x3): each 4x4 input tile yields a 2x2 output tile with
// 16 multiplications per channel instead of 36.

func winogradApplies(g convGeom) bool {
	return g.r == 3 && g.s == 3 && g.sh == 1 && g.sw == 1 && g.dh == 1 && g.dw == 1 && g.groups == 1
}

// filterTransform writes U = G g Gᵀ for every (f, c) into u.
func filterTransform(g convGeom, w []float32, u []float32) {
	for f := range g.f {
		for c := range g.c {
			var k [3][3]float32
			for i := range 3 {
				for j := range 3 {
					k[i][j] = w[(f*g.c+c)*9+g.tap(i, j)]
				}
			}
			// G is [[1 0 0] [.5 .5 .5] [.5 -.5 .5] [0 0 1]].
			var gk [4][3]float32
			for j := range 3 {
				gk[0][j] = k[0][j]
				gk[1][j] = 0.5 * (k[0][j] + k[1][j] + k[2][j])
				gk[2][j] = 0.5 * (k[0][j] - k[1][j] + k[2][j])
				gk[3][j] = k[2][j]
			}
			out := u[(f*g.c+c)*16:]
			for i := range 4 {
				out[i*4+0] = gk[i][0]
				out[i*4+1] = 0.5 * (gk[i][0] + gk[i][1] + gk[i][2])
				out[i*4+2] = 0.5 * (gk[i][0] - gk[i][1] + gk[i][2])
				out[i*4+3] = gk[i][2]
			}
		}
	}
}

// inputTransform computes V = Bᵀ d B for one tile.
func inputTransform(d *[4][4]float32) (v [4][4]float32) {
	// Bᵀ is [[1 0 -1 0] [0 1 1 0] [0 -1 1 0] [0 1 0 -1]].
	var bd [4][4]float32
	for j := range 4 {
		bd[0][j] = d[0][j] - d[2][j]
		bd[1][j] = d[1][j] + d[2][j]
		bd[2][j] = d[2][j] - d[1][j]
		bd[3][j] = d[1][j] - d[3][j]
	}
	for i := range 4 {
		v[i][0] = bd[i][0] - bd[i][2]
		v[i][1] = bd[i][1] + bd[i][2]
		v[i][2] = bd[i][2] - bd[i][1]
		v[i][3] = bd[i][1] - bd[i][3]
	}
	return v
}

// outputTransform computes Y = Aᵀ m A.
func outputTransform(m *[4][4]float32) (y [2][2]float32) {
	// Aᵀ is [[1 1 1 0] [0 1 -1 -1]].
	var am [2][4]float32
	for j := range 4 {
		am[0][j] = m[0][j] + m[1][j] + m[2][j]
		am[1][j] = m[1][j] - m[2][j] - m[3][j]
	}
	for i := range 2 {
		y[i][0] = am[i][0] + am[i][1] + am[i][2]
		y[i][1] = am[i][1] - am[i][2] - am[i][3]
	}
	return y
}

func winograd(g convGeom, alpha float32, x, w []float32, beta float32, y []float32, u []float32) {
	filterTransform(g, w, u)

	tilesH, tilesW := (g.oh+1)/2, (g.ow+1)/2
	v := make([][4][4]float32, g.c)
	for n := range g.n {
		for ty := range tilesH {
			for tx := range tilesW {
				for c := range g.c {
					var d [4][4]float32
					plane := x[(n*g.c+c)*g.h*g.w:]
					for i := range 4 {
						iy := 2*ty - g.ph + i
						if iy < 0 || iy >= g.h {
							continue
						}
						for j := range 4 {
							ix := 2*tx - g.pw + j
							if ix >= 0 && ix < g.w {
								d[i][j] = plane[iy*g.w+ix]
							}
						}
					}
					v[c] = inputTransform(&d)
				}

				for f := range g.f {
					var m [4][4]float32
					for c := range g.c {
						uf := u[(f*g.c+c)*16:]
						for i := range 4 {
							for j := range 4 {
								m[i][j] += uf[i*4+j] * v[c][i][j]
							}
						}
					}
					out := outputTransform(&m)
					for a := range 2 {
						oy := 2*ty + a
						if oy >= g.oh {
							continue
						}
						for b := range 2 {
							ox := 2*tx + b
							if ox >= g.ow {
								continue
							}
							store(y, ((n*g.f+f)*g.oh+oy)*g.ow+ox, alpha, beta, out[a][b])
						}
					}
				}
			}
		}
	}
}
