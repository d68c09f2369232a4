package strategy

import (
	"errors"
	"math/big"
	"testing"
)

func TestFractionToWAD(t *testing.T) {
	got := FractionToWAD(0.25)
	want := new(big.Int).Quo(WAD, big.NewInt(4))
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}

	if FractionToWAD(0).Sign() != 0 {
		t.Fatal("zero fraction should map to zero")
	}
}

func TestRelativeDelta(t *testing.T) {
	a := big.NewInt(100)
	b := big.NewInt(101)

	up, err := RelativeDelta(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Quo(WAD, big.NewInt(100))
	if up.Cmp(want) != 0 {
		t.Fatalf("expected 1%% delta %s, got %s", want, up)
	}

	down, err := RelativeDelta(a, big.NewInt(99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if down.Cmp(want) != 0 {
		t.Fatalf("delta should be symmetric around the base: got %s", down)
	}
}

func TestRelativeDeltaZeroBase(t *testing.T) {
	if _, err := RelativeDelta(big.NewInt(0), big.NewInt(1)); !errors.Is(err, ErrZeroBase) {
		t.Fatalf("expected ErrZeroBase, got %v", err)
	}
	if _, err := RelativeDelta(nil, big.NewInt(1)); !errors.Is(err, ErrZeroBase) {
		t.Fatalf("expected ErrZeroBase for nil base, got %v", err)
	}
}
