package checksum

import (
	"strings"
	"testing"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
)

func TestSumKnownValues(t *testing.T) {
	// SHA-256 of the empty string.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256.Sum(nil); got != empty {
		t.Fatalf("sha256(empty) = %s, want %s", got, empty)
	}
	if got := BLAKE2b256.Sum([]byte("abc")); len(got) != 64 {
		t.Fatalf("blake2b-256 hex length = %d, want 64", len(got))
	}
	if SHA256.Sum([]byte("abc")) == BLAKE2b256.Sum([]byte("abc")) {
		t.Fatal("algorithms should produce different digests")
	}
}

func TestVerify(t *testing.T) {
	data := []byte(`{"session":"s1"}`)
	sum := SHA256.Sum(data)

	if err := SHA256.Verify(data, strings.ToUpper(sum)); err != nil {
		t.Fatalf("uppercase digest should verify: %v", err)
	}
	if err := SHA256.Verify(data, "sha256:"+sum); err != nil {
		t.Fatalf("prefixed digest should verify: %v", err)
	}

	err := SHA256.Verify(data, "XYZ789")
	if err == nil {
		t.Fatal("expected mismatch")
	}
	if !errs.Is(err, errs.CodeChecksumMismatch) {
		t.Fatalf("expected CHECKSUM_MISMATCH, got %v", err)
	}
}

func TestSumJSONStableForMaps(t *testing.T) {
	a := map[string]int{"b": 2, "a": 1}
	b := map[string]int{"a": 1, "b": 2}
	sa, err := SHA256.SumJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	sb, _ := SHA256.SumJSON(b)
	if sa != sb {
		t.Fatalf("map digests differ: %s vs %s", sa, sb)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
		err  bool
	}{
		{"", SHA256, false},
		{"SHA256", SHA256, false},
		{"blake2b", BLAKE2b256, false},
		{"blake2b-256", BLAKE2b256, false},
		{"md5", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("Parse(%q) err = %v, want err=%v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
