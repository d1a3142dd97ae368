package service

import (
	"testing"
)

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []string
		b    []string
		want float64
	}{
		{"identical", []string{"apple", "banana", "cherry"}, []string{"apple", "banana", "cherry"}, 1.0},
		{"disjoint", []string{"apple", "banana"}, []string{"cherry", "date"}, 0.0},
		{"overlap", []string{"apple", "banana", "cherry"}, []string{"banana", "cherry", "date"}, 0.5},
		{"both empty", []string{}, []string{}, 1.0},
		{"a empty", []string{}, []string{"apple"}, 0.0},
		{"duplicates collapse", []string{"a", "a", "b"}, []string{"a", "b"}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JaccardSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("JaccardSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  SQL-Injection  ", "sql injection"},
		{"user_id = {id}", "user id id"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokens_DropsStopWords(t *testing.T) {
	got := Tokens("Use the parameterized queries for all SQL")
	want := []string{"use", "parameterized", "queries", "sql"}
	if len(got) != len(want) {
		t.Fatalf("Tokens() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokens() = %v, want %v", got, want)
		}
	}
}

func TestCategorySimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"SQL Injection", "sql-injection", 1},
		{"SQL Injection", "SQL Injection Risk", 2.0 / 3.0},
		{"SQL Injection", "Memory Leak", 0},
		{"", "Memory Leak", 0},
	}
	for _, tt := range tests {
		if got := CategorySimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("CategorySimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
