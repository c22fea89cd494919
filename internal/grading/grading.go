// Package grading turns marks into letter grades and grade points, and grade
// points into credit-weighted averages. Nothing in here touches storage.
package grading

import (
	"math"
	"strings"

	"semaphore/credentials/internal/model"
)

const FailingGrade = "F"

// Band is one row of a grade scale. Bands without a minimum (incomplete,
// withdrawn) can be assigned explicitly but are never produced from marks.
type Band struct {
	Grade  string
	Min    *float64
	Points float64
}

type Scale []Band

func minimum(v float64) *float64 { return &v }

// DefaultScale is ordered from the highest band down and starts at 0, so every
// percentage in [0,100] lands in exactly one band.
var DefaultScale = Scale{
	{Grade: "A+", Min: minimum(90), Points: 10},
	{Grade: "A", Min: minimum(80), Points: 9},
	{Grade: "B+", Min: minimum(70), Points: 8},
	{Grade: "B", Min: minimum(60), Points: 7},
	{Grade: "C", Min: minimum(50), Points: 6},
	{Grade: "D", Min: minimum(40), Points: 5},
	{Grade: FailingGrade, Min: minimum(0), Points: 0},
	{Grade: "I", Points: 0},
	{Grade: "W", Points: 0},
}

// FromPercentage returns the first band whose minimum the percentage meets.
func (s Scale) FromPercentage(percentage float64) (string, float64) {
	for _, band := range s {
		if band.Min == nil {
			continue
		}
		if percentage >= *band.Min {
			return band.Grade, band.Points
		}
	}
	return FailingGrade, 0
}

// Points looks up a letter grade entered directly.
func (s Scale) Points(grade string) (float64, bool) {
	grade = strings.ToUpper(strings.TrimSpace(grade))
	for _, band := range s {
		if band.Grade == grade {
			return band.Points, true
		}
	}
	return 0, false
}

func GradeFromMarks(percentage float64) (string, float64) {
	return DefaultScale.FromPercentage(percentage)
}

func IsFailing(grade string) bool {
	return grade == FailingGrade
}

// EarnedCredits counts a course only when it was not failed. Grade points are
// deliberately not consulted.
func EarnedCredits(grade string, credits int) int {
	if IsFailing(grade) {
		return 0
	}
	return credits
}

type Entry struct {
	Credits     int
	GradePoints float64
}

// SGPA is the credit-weighted mean of grade points rounded to two decimals.
// CGPA is the same computation over every issued course.
func SGPA(entries []Entry) float64 {
	var weighted float64
	var credits int
	for _, e := range entries {
		weighted += float64(e.Credits) * e.GradePoints
		credits += e.Credits
	}
	if credits == 0 {
		return 0
	}
	return Round2(weighted / float64(credits))
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func Entries(courses []model.CourseResult) []Entry {
	entries := make([]Entry, 0, len(courses))
	for _, c := range courses {
		entries = append(entries, Entry{Credits: c.Credits, GradePoints: c.GradePoints})
	}
	return entries
}

type Totals struct {
	SGPA          float64
	TotalCredits  int
	EarnedCredits int
}

// Summarize recomputes every aggregate a semester result stores.
func Summarize(courses []model.CourseResult) Totals {
	totals := Totals{SGPA: SGPA(Entries(courses))}
	for _, c := range courses {
		totals.TotalCredits += c.Credits
		totals.EarnedCredits += EarnedCredits(c.Grade, c.Credits)
	}
	return totals
}
