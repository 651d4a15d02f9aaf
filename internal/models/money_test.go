package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyFromFen(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		1:      "0.01",
		100:    "1.00",
		123456: "1234.56",
	}
	for fen, want := range cases {
		m := NewMoneyFromFen(fen)
		if m.String() != want {
			t.Fatalf("fen %d: expected %s, got %s", fen, want, m.String())
		}
		if m.Fen() != fen {
			t.Fatalf("fen %d: round trip got %d", fen, m.Fen())
		}
	}
}

func TestMoneyFenRounds(t *testing.T) {
	m := Money{Decimal: decimal.RequireFromString("1.005")}
	if m.Fen() != 101 {
		t.Fatalf("expected 101, got %d", m.Fen())
	}
}

func TestMoneyMarshalJSON(t *testing.T) {
	raw, err := json.Marshal(NewMoneyFromFen(250))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != `"2.50"` {
		t.Fatalf("unexpected json: %s", raw)
	}
}
