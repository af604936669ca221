package domain

import (
	"sort"
	"testing"
	"time"
)

func TestTransactionSortKey_RoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 30, 0, 123_000_000, time.UTC)
	sk := TransactionSortKey(at, "abc-123")

	if sk != "DT#2024-03-05T14:30:00.123Z#TX#abc-123" {
		t.Fatalf("unexpected sort key %q", sk)
	}

	gotTime, gotID, err := ParseTransactionSortKey(sk)
	if err != nil {
		t.Fatalf("ParseTransactionSortKey() error = %v", err)
	}
	if !gotTime.Equal(at) || gotID != "abc-123" {
		t.Errorf("round trip = (%v, %q)", gotTime, gotID)
	}
}

func TestTransactionSortKey_OrdersByTime(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := []string{
		TransactionSortKey(base.Add(48*time.Hour), "a"),
		TransactionSortKey(base.Add(time.Millisecond), "z"),
		TransactionSortKey(base, "m"),
	}
	sort.Strings(keys)

	want := []string{
		TransactionSortKey(base, "m"),
		TransactionSortKey(base.Add(time.Millisecond), "z"),
		TransactionSortKey(base.Add(48*time.Hour), "a"),
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestTransactionRange_IncludesEndpoints(t *testing.T) {
	at := time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)
	sk := TransactionSortKey(at, "ffffffff-ffff")

	if !(TransactionRangeStart(at) <= sk && sk <= TransactionRangeEnd(at)) {
		t.Errorf("sort key %q should fall within [%q, %q]", sk, TransactionRangeStart(at), TransactionRangeEnd(at))
	}
	if TransactionSortKey(at.Add(time.Millisecond), "0") <= TransactionRangeEnd(at) {
		t.Error("later transaction should fall outside the range")
	}
}

func TestParseTransactionSortKey_Invalid(t *testing.T) {
	for _, sk := range []string{"", "TX#1", "DT#2024-01-01", "DT#notatime#TX#1"} {
		if _, _, err := ParseTransactionSortKey(sk); err == nil {
			t.Errorf("expected error for %q", sk)
		}
	}
}

func TestFrequencyAdvance(t *testing.T) {
	start := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		freq Frequency
		want time.Time
	}{
		{Daily, time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)},
		{Weekly, time.Date(2024, 2, 7, 9, 0, 0, 0, time.UTC)},
		{Monthly, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
		{Quarterly, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		{Yearly, time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			got, err := tt.freq.Advance(start)
			if err != nil {
				t.Fatalf("Advance() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Advance() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Frequency("hourly").Advance(start); err == nil {
		t.Error("unknown frequency should fail")
	}
}

func TestBudgetPeriod(t *testing.T) {
	start, end, err := BudgetPeriod("2024-02")
	if err != nil {
		t.Fatalf("BudgetPeriod() error = %v", err)
	}
	if FormatTimestamp(start) != "2024-02-01T00:00:00.000Z" {
		t.Errorf("start = %s", FormatTimestamp(start))
	}
	if FormatTimestamp(end) != "2024-02-29T23:59:59.999Z" {
		t.Errorf("end = %s", FormatTimestamp(end))
	}
	if _, _, err := BudgetPeriod("2024-13"); err == nil {
		t.Error("invalid month should fail")
	}
}

func TestBudgetPeriodKey(t *testing.T) {
	cat := "cat-1"
	empty := ""
	if got := BudgetPeriodKey("2024-05", &cat); got != "2024-05#cat-1" {
		t.Errorf("got %q", got)
	}
	if got := BudgetPeriodKey("2024-05", nil); got != "2024-05#all" {
		t.Errorf("got %q", got)
	}
	if got := BudgetPeriodKey("2024-05", &empty); got != "2024-05#all" {
		t.Errorf("got %q", got)
	}
}

func TestCleanTags(t *testing.T) {
	got := CleanTags([]string{" food ", "", "  ", "work"})
	if len(got) != 2 || got[0] != "food" || got[1] != "work" {
		t.Errorf("CleanTags() = %v", got)
	}
	if CleanTags(nil) == nil {
		t.Error("CleanTags(nil) should return an empty slice")
	}
}
