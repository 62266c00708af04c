package dkg

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// On-disk frame shared by the key share and deal session files:
//
//	[magic u32][version u16][flags u16][length u32][crc32 u32][body ...]
const (
	frameVersion    uint16 = 1
	frameHeaderSize        = 4 + 2 + 2 + 4 + 4
	flagEncrypt     uint16 = 1 << 0
)

var (
	errBadMagic  = errors.New("bad magic")
	errBadLength = errors.New("bad length")
	errCRC       = errors.New("crc mismatch")
)

// writeFrame writes body atomically (tmp+fsync+rename) and keeps the previous
// file as path.bak.
func writeFrame(path string, magic uint32, flags uint16, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:], magic)
	binary.BigEndian.PutUint16(hdr[4:], frameVersion)
	binary.BigEndian.PutUint16(hdr[6:], flags)
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[12:], crc32.ChecksumIEEE(body))
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".bak")
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func readFrame(path string, magic uint32) (flags uint16, body []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, nil, err
	}
	if binary.BigEndian.Uint32(hdr[0:]) != magic {
		return 0, nil, errBadMagic
	}
	flags = binary.BigEndian.Uint16(hdr[6:])
	length := binary.BigEndian.Uint32(hdr[8:])
	if length == 0 || length > 1<<24 {
		return 0, nil, errBadLength
	}
	body = make([]byte, int(length))
	if _, err := io.ReadFull(f, body); err != nil {
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(hdr[12:]) {
		return 0, nil, errCRC
	}
	return flags, body, nil
}

// zero clears b on a best-effort basis.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
