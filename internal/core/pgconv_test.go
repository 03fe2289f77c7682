package core

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestToPgText(t *testing.T) {
	tests := []struct {
		input string
		want  pgtype.Text
	}{
		{"DDP002", pgtype.Text{String: "DDP002", Valid: true}},
		{"  padded  ", pgtype.Text{String: "padded", Valid: true}},
		{"", pgtype.Text{Valid: false}},
		{"   ", pgtype.Text{Valid: false}},
	}
	for _, tt := range tests {
		if got := ToPgText(tt.input); got != tt.want {
			t.Errorf("ToPgText(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestPgTextToString(t *testing.T) {
	if got := PgTextToString(pgtype.Text{}); got != "" {
		t.Errorf("NULL text = %q, want empty", got)
	}
	if got := PgTextToString(pgtype.Text{String: "x", Valid: true}); got != "x" {
		t.Errorf("got %q, want x", got)
	}
}

func TestPgUUIDRoundTrip(t *testing.T) {
	const id = "2b1f6f0e-8a59-4a3c-9d55-2a7f5e1b3c4d"

	u := ToPgUUID(id)
	if !u.Valid {
		t.Fatal("expected valid UUID")
	}
	if got := PgUUIDToString(u); got != id {
		t.Errorf("round trip = %q, want %q", got, id)
	}

	if ToPgUUID("not-a-uuid").Valid {
		t.Error("invalid input should give NULL UUID")
	}
	if ToPgUUID("").Valid {
		t.Error("empty input should give NULL UUID")
	}
	if got := PgUUIDToString(pgtype.UUID{}); got != "" {
		t.Errorf("NULL UUID = %q, want empty", got)
	}
}
