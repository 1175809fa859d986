package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := Normalize("  Customers\t NAMED   홍길동\n")
	want := "customers named 홍길동"
	if got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Customers Named 홍길동",
		"  a   B  c ",
		"이번 달   메모",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestTokenizeMixedScript(t *testing.T) {
	got := Tokenize("홍길동customer 메모 2024-01-01")
	want := []string{"홍길동", "customer", "메모", "2024", "01", "01"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestTokenizePunctuation(t *testing.T) {
	got := Tokenize("premium>=500,000원")
	want := []string{"premium", "500", "000", "원"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestKeywordsDropsStopwords(t *testing.T) {
	got := Keywords("show me all the customers in 서울")
	want := []string{"customers", "서울"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords = %v, want %v", got, want)
	}
}

func TestKeywordsDeduplicates(t *testing.T) {
	got := Keywords("메모 메모 customers customers")
	want := []string{"메모", "customers"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords = %v, want %v", got, want)
	}
}
