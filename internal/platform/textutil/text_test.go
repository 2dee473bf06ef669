package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  Chicken   Bento ": "chicken bento",
		"CHICKEN BENTO":      "chicken bento",
		"Ｂｅｎｔｏ":              "bento",
		"":                   "",
	}
	for input, want := range cases {
		if got := NormalizeName(input); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", input, got, want)
		}
	}
	if !SameName("Teriyaki Don", " teriyaki  don") {
		t.Fatalf("expected names to match")
	}
}

func TestSanitizeText(t *testing.T) {
	got := SanitizeText(`<script>alert(1)</script>Leave at <b>door</b>`, 0)
	if got != "Leave at door" {
		t.Fatalf("unexpected sanitised text %q", got)
	}
	if got := SanitizeText("Blk 12 & Co", 0); got != "Blk 12 & Co" {
		t.Fatalf("expected ampersand preserved, got %q", got)
	}
	if got := SanitizeText("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestNormalizeStringMap(t *testing.T) {
	input := map[string]string{" order_id ": " ord_1 ", " ": "ignored"}
	want := map[string]string{"order_id": "ord_1"}
	if got := NormalizeStringMap(input); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v got %#v", want, got)
	}
	if NormalizeStringMap(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
}
