package task

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire format: a fixed header followed by a JSON body.
//
// Header fields: magic(1) + version(1) + size(4, little endian) + parity(1).
// Parity is the XOR of the six preceding header bytes. The JSON body carries
// the full record; unknown body fields are rejected so that forward
// compatibility stays additive-with-defaults only.
//
// Encode is deterministic for a given record (fixed field order, sorted map
// keys), so Encode(Decode(b)) == b for every b that Encode produced.
const (
	magicByte    = 0x53 // 'S'
	codecVersion = 0x01

	headerLen = 1 + 1 + 4 + 1
)

var (
	ErrCodec            = errors.New("malformed task record")
	ErrRecordTruncated  = errors.New("record shorter than header")
	ErrRecordBadMagic   = errors.New("bad record magic")
	ErrRecordBadVersion = errors.New("unsupported record version")
	ErrRecordBadParity  = errors.New("header parity mismatch")
	ErrRecordBadSize    = errors.New("body size mismatch")
	ErrRecordBadBody    = errors.New("bad record body")
)

// Encode serializes t into its wire form.
func Encode(t Task) ([]byte, error) {
	if t.Kwargs == nil {
		t.Kwargs = Kwargs{}
	}

	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %q: %w", t.Name, err)
	}

	record := make([]byte, headerLen+len(body))
	record[0] = magicByte
	record[1] = codecVersion
	binary.LittleEndian.PutUint32(record[2:6], uint32(len(body)))
	record[6] = headerParity(record[:6])
	copy(record[headerLen:], body)

	return record, nil
}

// Decode parses a wire record. Every failure wraps ErrCodec; the record is
// surfaced to the caller, never silently dropped.
func Decode(record []byte) (Task, error) {
	var t Task

	if len(record) < headerLen {
		return t, errors.Join(ErrCodec, ErrRecordTruncated)
	}
	if record[0] != magicByte {
		return t, errors.Join(ErrCodec, ErrRecordBadMagic)
	}
	if record[1] != codecVersion {
		return t, errors.Join(ErrCodec, ErrRecordBadVersion)
	}
	if record[6] != headerParity(record[:6]) {
		return t, errors.Join(ErrCodec, ErrRecordBadParity)
	}

	size := binary.LittleEndian.Uint32(record[2:6])
	if int(size) != len(record)-headerLen {
		return t, errors.Join(ErrCodec, ErrRecordBadSize)
	}

	decoder := json.NewDecoder(bytes.NewReader(record[headerLen:]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&t); err != nil {
		return t, errors.Join(ErrCodec, ErrRecordBadBody, err)
	}

	if t.Name == "" || t.RunCount < 0 {
		return t, errors.Join(ErrCodec, ErrRecordBadBody)
	}
	if t.Kwargs == nil {
		t.Kwargs = Kwargs{}
	}

	return t, nil
}

func headerParity(bytes6 []byte) byte {
	var x byte
	for _, b := range bytes6 {
		x ^= b
	}

	return x
}
