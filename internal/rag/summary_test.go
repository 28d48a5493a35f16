package rag

import (
	"strings"
	"testing"
)

func TestParseSummary(t *testing.T) {
	response := "This note covers the basics of container networking.\n" +
		"It explains overlay networks and service discovery.\n" +
		"\n" +
		"- overlay networks connect containers across hosts\n" +
		"- service discovery maps names to addresses\n" +
		"* DNS is the default mechanism\n"

	got := parseSummary(response)

	wantSummary := "This note covers the basics of container networking.\n" +
		"It explains overlay networks and service discovery."
	if got.Summary != wantSummary {
		t.Errorf("Summary = %q", got.Summary)
	}
	if len(got.KeyPoints) != 3 {
		t.Fatalf("KeyPoints = %v", got.KeyPoints)
	}
	if got.KeyPoints[2] != "DNS is the default mechanism" {
		t.Errorf("KeyPoints[2] = %q", got.KeyPoints[2])
	}
	if want := len(strings.Fields(got.Summary)); got.WordCount != want {
		t.Errorf("WordCount = %d, want %d (whitespace token count)", got.WordCount, want)
	}
	if got.ReadingTime != 1 {
		t.Errorf("ReadingTime = %d, want 1", got.ReadingTime)
	}
}

func TestParseSummaryBulletOnly(t *testing.T) {
	response := "- first point\n- second point\n"
	got := parseSummary(response)
	if got.Summary == "" {
		t.Error("bullet-only response yielded empty summary")
	}
	if len(got.KeyPoints) != 2 {
		t.Errorf("KeyPoints = %v", got.KeyPoints)
	}
}

func TestReadingTime(t *testing.T) {
	tests := []struct {
		words int
		want  int
	}{
		{0, 1},
		{1, 1},
		{200, 1},
		{201, 2},
		{1000, 5},
		{1001, 6},
	}
	for _, tt := range tests {
		if got := readingTime(tt.words); got != tt.want {
			t.Errorf("readingTime(%d) = %d, want %d", tt.words, got, tt.want)
		}
	}
}
