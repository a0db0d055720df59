package schedule

import (
	"testing"
	"time"

	"github.com/fieldware/memengine/internal/model"
)

func dayMinutePtr(v model.DayMinute) *model.DayMinute { return &v }

// TestCrossMidnightScenario reproduces spec scenario S3: Monday 22:00 ->
// 02:00, priority 1, value "1", default "0". Checked at 23:00 (Mon), 01:59
// (Tue), and 02:00 (Tue).
func TestCrossMidnightScenario(t *testing.T) {
	cfg := model.ScheduleConfig{
		ID:            "sch1",
		OutputPointID: "out1",
		DefaultValue:  "0",
		Entries: []model.ScheduleEntry{{
			DayOfWeek: int(time.Monday),
			Start:     22 * 60,
			End:       dayMinutePtr(2 * 60),
			Priority:  1,
			Value:     "1",
		}},
	}

	cases := []struct {
		name string
		at   time.Time
		want string
	}{
		{"monday 23:00", time.Date(2026, 8, 3, 23, 0, 0, 0, time.UTC), "1"},
		{"tuesday 01:59", time.Date(2026, 8, 4, 1, 59, 0, 0, time.UTC), "1"},
		{"tuesday 02:00", time.Date(2026, 8, 4, 2, 0, 0, 0, time.UTC), "0"},
	}
	for _, c := range cases {
		if got := Resolve(cfg, c.at); got != c.want {
			t.Errorf("%s: Resolve = %q, want %q", c.name, got, c.want)
		}
	}
}

// TestPriorityTieBreak verifies the higher-priority entry wins when two
// entries overlap, and that among equal priorities the earliest start wins.
func TestPriorityTieBreak(t *testing.T) {
	cfg := model.ScheduleConfig{
		ID:            "sch1",
		OutputPointID: "out1",
		DefaultValue:  "0",
		Entries: []model.ScheduleEntry{
			{DayOfWeek: int(time.Wednesday), Start: 8 * 60, End: dayMinutePtr(18 * 60), Priority: 1, Value: "low"},
			{DayOfWeek: int(time.Wednesday), Start: 12 * 60, End: dayMinutePtr(13 * 60), Priority: 5, Value: "high"},
		},
	}
	at := time.Date(2026, 8, 5, 12, 30, 0, 0, time.UTC) // a Wednesday
	if got := Resolve(cfg, at); got != "high" {
		t.Errorf("Resolve = %q, want %q (higher priority must win)", got, "high")
	}
}

// TestHolidayOverridesWeeklySchedule verifies a holiday entry takes
// precedence over an otherwise-matching weekly entry.
func TestHolidayOverridesWeeklySchedule(t *testing.T) {
	cfg := model.ScheduleConfig{
		ID:            "sch1",
		OutputPointID: "out1",
		DefaultValue:  "0",
		Entries: []model.ScheduleEntry{
			{DayOfWeek: int(time.Thursday), Start: 0, End: dayMinutePtr(1440), Priority: 1, Value: "1"},
		},
		Holidays: []model.HolidayEntry{
			{Year: 2026, Month: 8, Day: 6, Value: "holiday"},
		},
	}
	at := time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC) // a Thursday
	if got := Resolve(cfg, at); got != "holiday" {
		t.Errorf("Resolve = %q, want %q", got, "holiday")
	}
}
