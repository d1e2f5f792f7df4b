package helper

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTrimDecimal(t *testing.T) {
	cases := map[string]string{
		"1":        "1.00",
		"1.005":    "1.01",
		"1.004":    "1.00",
		"0":        "0.00",
		"99999.99": "99999.99",
	}
	for in, want := range cases {
		d, _ := decimal.NewFromString(in)
		if got := TrimDecimal(MoneyRound(d)); got != want {
			t.Fatalf("TrimDecimal(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestParseMoney(t *testing.T) {
	if d, ok := ParseMoney("10.555"); !ok || d.StringFixed(2) != "10.56" {
		t.Fatalf("ParseMoney rounding failed: %v %v", d, ok)
	}
	if _, ok := ParseMoney("-1"); ok {
		t.Fatal("negative amounts must be rejected")
	}
	if _, ok := ParseMoney("abc"); ok {
		t.Fatal("non-numeric input must be rejected")
	}
	if d, ok := ParseMoney("0"); !ok || !d.IsZero() {
		t.Fatal("zero parses but stays zero")
	}
}
