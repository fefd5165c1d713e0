package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket_parser/internal/ticket"
)

func seg(flight, dep, depTime, arr, arrTime string) ticket.Segment {
	return ticket.Segment{
		MarketingFlightNo: flight,
		Dep:               ticket.Endpoint{IATA: dep, TimeLocal: depTime},
		Arr:               ticket.Endpoint{IATA: arr, TimeLocal: arrTime},
	}
}

func explicit(s ticket.Segment, depDate, arrDate string) ticket.Segment {
	if depDate != "" {
		s.Dep.Date, s.Dep.DateSource = depDate, ticket.DateExplicit
	}
	if arrDate != "" {
		s.Arr.Date, s.Arr.DateSource = arrDate, ticket.DateExplicit
	}
	return s
}

func TestInferArrival(t *testing.T) {
	tests := []struct {
		name    string
		dep     string
		arr     string
		nextDay bool
		want    string
	}{
		{"overnight", "22:10", "06:15", false, "2025-03-11"},
		{"same day", "14:30", "17:45", false, "2025-03-10"},
		{"earlier but short", "09:00", "08:10", false, "2025-03-10"},
		{"next day flag", "09:00", "11:00", true, "2025-03-11"},
		{"exactly twelve hours", "23:00", "11:00", false, "2025-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := explicit(seg("SA1", "JNB", tt.dep, "LOS", tt.arr), "2025-03-10", "")
			s.Arr.NextDay = tt.nextDay

			got, _, _ := Infer([]ticket.Segment{s}, Options{})
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Arr.Date)
			assert.Equal(t, ticket.DateInferred, got[0].Arr.DateSource)
			assert.Equal(t, ticket.DateExplicit, got[0].Dep.DateSource)
		})
	}
}

func TestInferAccraJohannesburg(t *testing.T) {
	s := seg("SA052", "ACC", "20:30", "JNB", "04:25")
	s.Arr.NextDay = true
	base := time.Date(2025, 9, 28, 0, 0, 0, 0, time.UTC)

	got, warnings, _ := Infer([]ticket.Segment{s}, Options{BaseDate: base})
	require.Len(t, got, 1)
	assert.Empty(t, warnings)

	dep, ok := At(got[0].Dep)
	require.True(t, ok)
	arr, ok := At(got[0].Arr)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 9, 28, 20, 30, 0, 0, time.UTC), dep)
	assert.Equal(t, time.Date(2025, 9, 29, 4, 25, 0, 0, time.UTC), arr)
}

func TestInferNeverOverwrites(t *testing.T) {
	s := explicit(seg("SA1", "JNB", "22:10", "LOS", "06:15"), "2025-03-10", "2025-03-12")
	got, _, _ := Infer([]ticket.Segment{s}, Options{BaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "2025-03-10", got[0].Dep.Date)
	assert.Equal(t, "2025-03-12", got[0].Arr.Date)
	assert.Equal(t, ticket.DateExplicit, got[0].Arr.DateSource)
}

func TestInferDoesNotMutateInput(t *testing.T) {
	in := []ticket.Segment{seg("SA1", "JNB", "10:00", "CPT", "12:10")}
	Infer(in, Options{BaseDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)})
	assert.Empty(t, in[0].Dep.Date)
}

func TestInferConnection(t *testing.T) {
	tests := []struct {
		name    string
		prevArr string
		dep     string
		nextDay bool
		want    string
	}{
		{"later same day", "06:15", "10:40", false, "2025-03-11"},
		{"slightly earlier clock", "06:15", "05:00", false, "2025-03-11"},
		{"crosses midnight", "23:30", "01:10", false, "2025-03-12"},
		{"flagged", "06:15", "10:40", true, "2025-03-12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := explicit(seg("SA1", "LOS", "22:10", "JNB", tt.prevArr), "2025-03-10", "2025-03-11")
			second := seg("SA2", "JNB", tt.dep, "CPT", "")
			second.Dep.NextDay = tt.nextDay

			got, _, _ := Infer([]ticket.Segment{first, second}, Options{})
			assert.Equal(t, tt.want, got[1].Dep.Date)
			assert.Equal(t, ticket.DateInferred, got[1].Dep.DateSource)
			assert.Equal(t, tt.want, got[1].Arr.Date)
		})
	}
}

func TestInferChainsThroughSegments(t *testing.T) {
	segs := []ticket.Segment{
		seg("SA52", "ACC", "20:30", "JNB", "04:25"),
		seg("SA333", "JNB", "07:00", "CPT", "09:10"),
	}
	segs[0].Arr.NextDay = true

	got, warnings, _ := Infer(segs, Options{BaseDate: time.Date(2025, 9, 28, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "2025-09-29", got[1].Dep.Date)
	assert.Equal(t, "2025-09-29", got[1].Arr.Date)
	assert.Empty(t, warnings)
}

func TestInferFallback(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC) }
	got, _, diags := Infer([]ticket.Segment{seg("SA1", "JNB", "10:00", "CPT", "12:10")}, Options{Now: now})

	assert.Equal(t, "2026-01-05", got[0].Dep.Date)
	assert.Equal(t, ticket.DateFallback, got[0].Dep.DateSource)
	assert.Equal(t, ticket.DateFallback, got[0].Arr.DateSource)
	assert.Equal(t, 1, diags.Count(ticket.SeverityWarn))
}

func TestInferBorrowsLaterPrintedDate(t *testing.T) {
	segs := []ticket.Segment{
		seg("SA1", "JNB", "06:00", "CPT", "08:10"),
		explicit(seg("SA2", "CPT", "18:00", "JNB", "20:10"), "2025-04-02", ""),
	}
	got, _, diags := Infer(segs, Options{Now: func() time.Time { return time.Time{} }})
	assert.Equal(t, "2025-04-02", got[0].Dep.Date)
	assert.Equal(t, ticket.DateInferred, got[0].Dep.DateSource)
	assert.Equal(t, 1, diags.Count(ticket.SeverityInfo))
}

func TestInferDepartureFromPrintedArrival(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC) }
	tests := []struct {
		name    string
		dep     string
		arr     string
		nextDay bool
		want    string
	}{
		{"overnight", "20:30", "04:25", false, "2025-09-28"},
		{"same day", "14:30", "17:45", false, "2025-09-29"},
		{"next day flag", "09:00", "11:00", true, "2025-09-28"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := explicit(seg("SA052", "ACC", tt.dep, "JNB", tt.arr), "", "2025-09-29")
			s.Arr.NextDay = tt.nextDay

			got, warnings, diags := Infer([]ticket.Segment{s}, Options{Now: now})
			assert.Equal(t, tt.want, got[0].Dep.Date)
			assert.Equal(t, ticket.DateInferred, got[0].Dep.DateSource)
			assert.Equal(t, "2025-09-29", got[0].Arr.Date)
			assert.Equal(t, ticket.DateExplicit, got[0].Arr.DateSource)
			assert.Empty(t, warnings)
			assert.Zero(t, diags.Count(ticket.SeverityWarn))
		})
	}
}

func TestInferBorrowsLaterPrintedArrival(t *testing.T) {
	segs := []ticket.Segment{
		seg("SA1", "JNB", "06:00", "CPT", "08:10"),
		explicit(seg("SA2", "CPT", "18:00", "JNB", "20:10"), "", "2025-04-02"),
	}
	got, _, _ := Infer(segs, Options{Now: func() time.Time { return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC) }})
	assert.Equal(t, "2025-04-02", got[0].Dep.Date)
	assert.Equal(t, ticket.DateInferred, got[0].Dep.DateSource)
	assert.Equal(t, "2025-04-02", got[1].Dep.Date)
}

func TestValidate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		segs := []ticket.Segment{
			explicit(seg("SA1", "ACC", "20:30", "JNB", "04:25"), "2025-09-28", "2025-09-29"),
			explicit(seg("SA2", "JNB", "07:00", "CPT", "09:10"), "2025-09-29", "2025-09-29"),
		}
		assert.Empty(t, Validate(segs))
	})

	t.Run("order", func(t *testing.T) {
		segs := []ticket.Segment{
			explicit(seg("SA1", "ACC", "20:30", "JNB", "04:25"), "2025-09-28", "2025-09-29"),
			explicit(seg("SA2", "JNB", "03:00", "CPT", "05:10"), "2025-09-29", "2025-09-29"),
		}
		w := Validate(segs)
		require.Len(t, w, 1)
		assert.Equal(t, WarnOrder, w[0].Kind)
		assert.Equal(t, 0, w[0].Index)
	})

	t.Run("short layover", func(t *testing.T) {
		segs := []ticket.Segment{
			explicit(seg("SA1", "JNB", "06:00", "CPT", "08:10"), "2025-09-29", "2025-09-29"),
			explicit(seg("SA2", "CPT", "08:25", "GRJ", "09:20"), "2025-09-29", "2025-09-29"),
		}
		w := Validate(segs)
		require.Len(t, w, 1)
		assert.Equal(t, WarnLayover, w[0].Kind)
		assert.Equal(t, 15*time.Minute, w[0].Gap)
	})

	t.Run("long layover", func(t *testing.T) {
		segs := []ticket.Segment{
			explicit(seg("SA1", "JNB", "06:00", "CPT", "08:10"), "2025-09-29", "2025-09-29"),
			explicit(seg("SA2", "CPT", "18:00", "JNB", "20:10"), "2025-10-03", "2025-10-03"),
		}
		w := Validate(segs)
		require.Len(t, w, 1)
		assert.Equal(t, WarnLayover, w[0].Kind)
	})

	t.Run("missing times skipped", func(t *testing.T) {
		segs := []ticket.Segment{
			explicit(seg("SA1", "JNB", "06:00", "CPT", ""), "2025-09-29", "2025-09-29"),
			explicit(seg("SA2", "CPT", "07:00", "JNB", "09:10"), "2025-09-29", "2025-09-29"),
		}
		assert.Empty(t, Validate(segs))
	})
}

func TestInferReportsChronology(t *testing.T) {
	segs := []ticket.Segment{
		explicit(seg("SA1", "ACC", "20:30", "JNB", "04:25"), "2025-09-28", "2025-09-29"),
		explicit(seg("SA2", "JNB", "03:00", "CPT", "05:10"), "2025-09-29", ""),
	}
	_, warnings, diags := Infer(segs, Options{})
	require.Len(t, warnings, 1)
	assert.Len(t, diags.ForStage(ticket.StageDates), 1)
}
