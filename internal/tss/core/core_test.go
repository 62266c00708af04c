package core

import (
	"bytes"
	"testing"
)

func TestIsValidDST(t *testing.T) {
	if !IsValidDST(DSTSig) || !IsValidDST(DSTDkg) || !IsValidDST(DSTApp) {
		t.Fatalf("known DST should be valid")
	}
	if IsValidDST("EQS/UNKNOWN") {
		t.Fatalf("unexpected valid DST")
	}
}

func TestHashToCurve_Deterministic(t *testing.T) {
	a, err := HashToCurve([]byte("msg"), DSTSig)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, _ := HashToCurve([]byte("msg"), DSTSig)
	c, _ := HashToCurve([]byte("msg"), DSTDkg)
	if a != b {
		t.Fatalf("hash not deterministic")
	}
	if a == c {
		t.Fatalf("dst not separating")
	}
}

func TestHashToCurve_InvalidDST(t *testing.T) {
	if _, err := HashToCurve([]byte("msg"), "X/BAD"); err != ErrInvalidDST {
		t.Fatalf("want invalid dst error, got %v", err)
	}
}

func TestRoundMessage(t *testing.T) {
	m1 := RoundMessage(1, []byte("x"))
	m2 := RoundMessage(2, []byte("x"))
	if bytes.Equal(m1, m2) {
		t.Fatalf("round id not bound")
	}
	if !bytes.HasPrefix(m1, []byte(DSTApp)) || m1[len(m1)-2] != 1 {
		t.Fatalf("unexpected layout %x", m1)
	}
}
