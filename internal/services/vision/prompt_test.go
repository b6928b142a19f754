package vision

import (
	"strings"
	"testing"
	"time"

	"github.com/kardex-io/kardex/internal/models"
)

func TestBuildPromptFullMode(t *testing.T) {
	month := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	prompt := buildPrompt(models.JobModeFull, month)

	if prompt.System == "" {
		t.Fatal("system prompt is empty")
	}
	if !strings.Contains(prompt.User, "2025-02") {
		t.Error("user prompt missing month anchor")
	}
	if !strings.Contains(prompt.User, "28 days") {
		t.Error("user prompt missing day count for February")
	}
	if !strings.Contains(prompt.User, "passport_id_candidates") {
		t.Error("FULL prompt must request identity candidates")
	}
	if !strings.Contains(prompt.User, "employee_name") {
		t.Error("FULL prompt must request the employee name")
	}
}

func TestBuildPromptHoursOnlySkipsIdentity(t *testing.T) {
	month := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	prompt := buildPrompt(models.JobModeHoursOnly, month)

	if strings.Contains(prompt.User, "passport_id_candidates") {
		t.Error("HOURS_ONLY prompt must not request identity candidates")
	}
	if strings.Contains(prompt.User, "employee_name") {
		t.Error("HOURS_ONLY prompt must not request the employee name")
	}
	if !strings.Contains(prompt.User, "29 days") {
		t.Error("leap-year February should anchor 29 days")
	}
	if !strings.Contains(prompt.User, "entries") {
		t.Error("HOURS_ONLY prompt must still request day rows")
	}
}

func TestDaysInMonth(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2025, time.January, 31},
		{2025, time.February, 28},
		{2024, time.February, 29},
		{2025, time.April, 30},
		{2025, time.December, 31},
	}
	for _, tc := range cases {
		got := daysInMonth(time.Date(tc.year, tc.month, 1, 0, 0, 0, 0, time.UTC))
		if got != tc.want {
			t.Errorf("daysInMonth(%d-%02d) = %d, want %d", tc.year, tc.month, got, tc.want)
		}
	}
}
