package vss

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	blst "github.com/supranational/blst/bindings/go"
	"golang.org/x/crypto/hkdf"

	"github.com/zmlAEQ/Aequa-dkg/internal/tss/core"
	bls381 "github.com/zmlAEQ/Aequa-dkg/internal/tss/core/bls381"
	"github.com/zmlAEQ/Aequa-dkg/internal/tss/poly"
)

const (
	nonceSize = 12
	tagSize   = 16
)

// EncryptedRow is U || nonce || AES-256-GCM(row) where U = g1^r is the
// ephemeral key and the AEAD key is derived from pk^r.
type EncryptedRow []byte

// EncryptedRowSize is the length of an encrypted degree-t row.
func EncryptedRowSize(t int) int {
	return bls381.G1Size + nonceSize + (t+1)*bls381.ScalarSize + tagSize
}

// rowEntropy is the per-row randomness: ephemeral key material and nonce.
type rowEntropy struct {
	ikm   [32]byte
	nonce [nonceSize]byte
}

func readEntropy(r io.Reader) (rowEntropy, error) {
	var e rowEntropy
	if _, err := io.ReadFull(r, e.ikm[:]); err != nil {
		return e, err
	}
	if _, err := io.ReadFull(r, e.nonce[:]); err != nil {
		return e, err
	}
	return e, nil
}

func rowInfo(index uint16) []byte {
	info := make([]byte, 0, len(core.DSTDkg)+6)
	info = append(info, core.DSTDkg...)
	info = append(info, "/ROW"...)
	return binary.BigEndian.AppendUint16(info, index)
}

func rowAEAD(shared *blst.P1, u []byte, index uint16) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, shared.ToAffine().Compress(), u, rowInfo(index))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptRow encrypts row for the member at index holding pub.
func EncryptRow(pub bls381.G1Point, index uint16, row *poly.Poly, r io.Reader) (EncryptedRow, error) {
	e, err := readEntropy(r)
	if err != nil {
		return nil, err
	}
	return encryptRow(pub, index, row, e)
}

func encryptRow(pub bls381.G1Point, index uint16, row *poly.Poly, e rowEntropy) (EncryptedRow, error) {
	pk, err := pub.P1()
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", index, err)
	}
	eph := blst.KeyGen(e.ikm[:])
	if eph == nil {
		return nil, fmt.Errorf("row %d: bad randomness", index)
	}
	u := blst.P1Generator().Mult(eph).ToAffine().Compress()
	aead, err := rowAEAD(pk.Mult(eph), u, index)
	if err != nil {
		return nil, err
	}
	plain := row.Bytes()
	out := make([]byte, 0, EncryptedRowSize(row.Degree()))
	out = append(out, u...)
	out = append(out, e.nonce[:]...)
	out = aead.Seal(out, e.nonce[:], plain, rowInfo(index))
	zero(plain)
	return out, nil
}

// DecryptRow opens a degree-t row addressed to index with the member secret sk.
func DecryptRow(sk bls381.Scalar, index uint16, blob EncryptedRow, t int) (*poly.Poly, error) {
	if len(blob) != EncryptedRowSize(t) {
		return nil, fmt.Errorf("row %d: %w: %d", index, bls381.ErrInvalidLength, len(blob))
	}
	up, err := blob.ephemeral().P1()
	if err != nil {
		return nil, fmt.Errorf("row %d: ephemeral key: %w", index, err)
	}
	s, err := sk.Blst()
	if err != nil {
		return nil, err
	}
	return openRow(up.Mult(s), index, blob, t)
}

func (b EncryptedRow) ephemeral() bls381.G1Point {
	var u bls381.G1Point
	copy(u[:], b[:bls381.G1Size])
	return u
}

// openRow decrypts blob with the shared point pk^r = U^sk.
func openRow(shared *blst.P1, index uint16, blob EncryptedRow, t int) (*poly.Poly, error) {
	aead, err := rowAEAD(shared, blob[:bls381.G1Size], index)
	if err != nil {
		return nil, err
	}
	nonce := blob[bls381.G1Size : bls381.G1Size+nonceSize]
	plain, err := aead.Open(nil, nonce, blob[bls381.G1Size+nonceSize:], rowInfo(index))
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", index, ErrDecrypt)
	}
	defer zero(plain)
	return poly.PolyFromBytes(plain, t)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
