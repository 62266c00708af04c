package core

import "testing"

// FuzzHashToCurve_NoPanic asserts that HashToCurve never panics and only
// accepts the known tags.
func FuzzHashToCurve_NoPanic(f *testing.F) {
	f.Add([]byte("msg"), DSTSig)
	f.Add([]byte("msg"), DSTDkg)
	f.Add([]byte("msg"), DSTApp)
	f.Add([]byte("x"), "EQS/UNKNOWN")
	f.Fuzz(func(t *testing.T, msg []byte, dst string) {
		p, err := HashToCurve(msg, dst)
		if IsValidDST(dst) {
			if err != nil || p.IsInfinity() {
				t.Fatalf("valid dst: err=%v", err)
			}
		} else if err == nil {
			t.Fatalf("want error for invalid dst")
		}
	})
}
