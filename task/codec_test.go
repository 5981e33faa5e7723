package task

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := New("some_worker", Kwargs{"url": "https://example.com", "depth": float64(3)})

	record, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(record)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("id changed: got %q, want %q", decoded.ID, original.ID)
	}
	if decoded.Name != original.Name {
		t.Errorf("name changed: got %q, want %q", decoded.Name, original.Name)
	}
	if decoded.RunCount != original.RunCount {
		t.Errorf("run_count changed: got %d, want %d", decoded.RunCount, original.RunCount)
	}
	if decoded.Kwargs["url"] != "https://example.com" {
		t.Errorf("kwargs url changed: got %v", decoded.Kwargs["url"])
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}
	if !bytes.Equal(record, reencoded) {
		t.Error("Encode(Decode(record)) is not byte-identical to record")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	record := New("some_worker", Kwargs{"b": float64(2), "a": float64(1), "c": "x"})

	first, err := Encode(record)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Encode(record)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Encode produced different bytes for the same record")
		}
	}
}

func TestEncodeNilKwargs(t *testing.T) {
	record, err := Encode(Task{ID: "x", Name: "some_worker"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(record)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Kwargs == nil {
		t.Error("decoded kwargs should never be nil")
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}
	if !bytes.Equal(record, reencoded) {
		t.Error("round trip not byte-identical for empty kwargs")
	}
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	valid, err := Encode(New("some_worker", nil))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	truncated := valid[:3]

	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 0x00

	badVersion := append([]byte(nil), valid...)
	badVersion[1] = 0x7f

	badParity := append([]byte(nil), valid...)
	badParity[6] ^= 0xff

	badSize := append([]byte(nil), valid...)
	badSize[2] ^= 0x01
	badSize[6] = headerParity(badSize[:6])

	badBody := append([]byte(nil), valid...)
	badBody[len(badBody)-1] = '{'

	tests := []struct {
		name   string
		record []byte
		want   error
	}{
		{"truncated", truncated, ErrRecordTruncated},
		{"bad magic", badMagic, ErrRecordBadMagic},
		{"bad version", badVersion, ErrRecordBadVersion},
		{"bad parity", badParity, ErrRecordBadParity},
		{"bad size", badSize, ErrRecordBadSize},
		{"bad body", badBody, ErrRecordBadBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.record)
			if err == nil {
				t.Fatal("Decode accepted a corrupt record")
			}
			if !errors.Is(err, ErrCodec) {
				t.Errorf("error does not wrap ErrCodec: %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error does not wrap %v: %v", tt.want, err)
			}
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	record := New("some_worker", nil)
	encoded, err := Encode(record)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Splice an extra field into the body and fix up the header size.
	body := encoded[7:]
	patched := bytes.Replace(body, []byte(`{"id":`), []byte(`{"surprise":1,"id":`), 1)
	rebuilt := append(append([]byte(nil), encoded[:7]...), patched...)
	rebuilt[2] = byte(len(patched))
	rebuilt[3] = byte(len(patched) >> 8)
	rebuilt[4] = 0
	rebuilt[5] = 0
	rebuilt[6] = headerParity(rebuilt[:6])

	if _, err := Decode(rebuilt); err == nil {
		t.Error("Decode accepted a record with an unknown field")
	}
}

func TestNextIncrementsRunCount(t *testing.T) {
	first := New("some_worker", nil)
	if first.RunCount != 0 {
		t.Fatalf("fresh task run_count = %d, want 0", first.RunCount)
	}

	second := first.Next()
	if second.RunCount != 1 {
		t.Errorf("Next run_count = %d, want 1", second.RunCount)
	}
	if first.RunCount != 0 {
		t.Error("Next mutated the original record")
	}

	requeued := second.Requeued()
	if requeued.RunCount != second.RunCount {
		t.Errorf("Requeued changed run_count: got %d, want %d", requeued.RunCount, second.RunCount)
	}
}
