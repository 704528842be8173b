package store

import (
	"testing"

	"faceattend/internal/face"
)

func TestVectorConversion(t *testing.T) {
	v := face.Vector{0, 1, 127, 255}
	got := fromFloats(toFloats(v))
	if string(got) != string(v) {
		t.Fatalf("round trip: got %v want %v", got, v)
	}

	clamped := fromFloats([]float32{-3, 254.6, 300})
	if clamped[0] != 0 || clamped[1] != 255 || clamped[2] != 255 {
		t.Fatalf("clamp: %v", clamped)
	}
}

func TestJoinClauses(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a = $1"}, "a = $1"},
		{[]string{"a = $1", "b = $2"}, "a = $1 AND b = $2"},
	}
	for _, tt := range tests {
		if got := joinClauses(tt.in, " AND "); got != tt.want {
			t.Errorf("joinClauses(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected up and down migrations, got %d files", len(entries))
	}
}
