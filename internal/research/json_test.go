package research

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"braces inside strings", `{"text":"uses { and } freely","n":1}`, `{"text":"uses { and } freely","n":1}`},
		{"escaped quote", `{"text":"she said \"hi\" {","n":2}`, `{"text":"she said \"hi\" {","n":2}`},
	}
	for _, tc := range cases {
		got, err := extractJSON(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}

	if _, err := extractJSON("no json here at all"); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func TestTruncateToBudgetList(t *testing.T) {
	items := make([]string, 20)
	for i := range items {
		items[i] = strings.Repeat("x", 50)
	}
	raw, _ := json.Marshal(items)

	got := truncateToBudget(string(raw), 300)
	if len(got) > 300 {
		t.Fatalf("result exceeds budget: %d chars", len(got))
	}
	var out []string
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("list truncation must keep valid JSON: %v (%q)", err, got)
	}
	if len(out) == 0 || len(out) >= len(items) {
		t.Fatalf("expected a proper subset of items, got %d of %d", len(out), len(items))
	}
	// Deterministic: the same input always yields the same output.
	if again := truncateToBudget(string(raw), 300); again != got {
		t.Fatal("truncation is not deterministic")
	}
}

func TestTruncateToBudgetHardCut(t *testing.T) {
	raw := strings.Repeat("abc ", 100)
	got := truncateToBudget(raw, 50)
	if !strings.HasSuffix(got, "\n...[truncated]") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if !strings.HasPrefix(got, raw[:50]) {
		t.Fatalf("expected prefix of the input, got %q", got)
	}
}

func TestTruncateToBudgetRuneBoundary(t *testing.T) {
	raw := strings.Repeat("é", 40) // 2 bytes each
	got := truncateToBudget(raw, 33)
	body := strings.TrimSuffix(got, "\n...[truncated]")
	for _, r := range body {
		if r != 'é' {
			t.Fatalf("cut split a rune: %q", body)
		}
	}
	if len(body) != 32 {
		t.Fatalf("expected cut back to the rune boundary at 32, got %d", len(body))
	}
}

func TestTruncateToBudgetWithinBudget(t *testing.T) {
	raw := "short"
	if got := truncateToBudget(raw, 100); got != raw {
		t.Fatalf("input within budget must pass through, got %q", got)
	}
	if got := truncateToBudget(raw, 0); got != raw {
		t.Fatalf("zero budget disables truncation, got %q", got)
	}
}
