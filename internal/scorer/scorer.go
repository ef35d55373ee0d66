// Package scorer fuses site-age, probe and scraping signals into an
// opportunity grade for a prospect.
package scorer

import (
	"fmt"
	"math"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Signal caps. A signal only counts toward the maximum when it is present,
// so a company with a single signal can still reach 100.
const (
	AgeCap         = 25.0
	SecurityCap    = 20.0
	PerformanceCap = 15.0
	PentestCap     = 20.0
	OSINTCap       = 10.0
	ScrapingCap    = 10.0
)

// Breakdown keys.
const (
	KeyAge         = "age"
	KeySecurity    = "security"
	KeyPerformance = "performance"
	KeyPentest     = "pentest"
	KeyOSINT       = "osint"
	KeyScraping    = "scraping"
)

// Signals holds every input the scorer considers. Nil fields are absent
// signals and contribute neither to the score nor to the maximum.
type Signals struct {
	// SiteAge is the obsolescence score from the site-age extractor.
	SiteAge *int

	SecurityScore    *int
	PerformanceScore *int

	// Pentest fields are read together; RiskScore gates them.
	RiskScore     *int
	CriticalCount int
	HighCount     int

	OSINT    *Yield
	Scraping *Yield
}

// Yield counts the contact data a stage produced.
type Yield struct {
	Emails int
	People int
	Phones int
}

// Score computes the opportunity for a set of signals. It is a pure
// function: identical signals always produce identical output.
func Score(s Signals) model.Opportunity {
	opp := model.Opportunity{
		Breakdown:  make(map[string]float64),
		Indicators: []string{},
	}
	add := func(key string, value, limit float64) {
		opp.Breakdown[key] = value
		opp.ActualScore += value
		opp.MaxPossibleScore += limit
	}

	if s.SiteAge != nil {
		age := *s.SiteAge
		add(KeyAge, math.Min(float64(age)*2.5, AgeCap), AgeCap)
		if age >= 2 {
			opp.Indicators = append(opp.Indicators, "Obsolete site")
		}
		if age >= 4 {
			opp.Indicators = append(opp.Indicators, "Very obsolete site")
		}
	}

	if s.SecurityScore != nil {
		sec := *s.SecurityScore
		add(KeySecurity, math.Max(0, float64(100-sec)/5), SecurityCap)
		switch {
		case sec < 40:
			opp.Indicators = append(opp.Indicators, "Weak security detected")
		case sec < 60:
			opp.Indicators = append(opp.Indicators, "Average security")
		}
	}

	if s.PerformanceScore != nil {
		perf := *s.PerformanceScore
		add(KeyPerformance, math.Max(0, float64(100-perf)/6.67), PerformanceCap)
		if perf < 50 {
			opp.Indicators = append(opp.Indicators, "Poor performance")
		}
	}

	if s.RiskScore != nil {
		risk := *s.RiskScore
		add(KeyPentest, float64(risk)/5, PentestCap)
		switch {
		case s.CriticalCount > 0:
			opp.Indicators = append(opp.Indicators, plural(s.CriticalCount, "critical vulnerability", "critical vulnerabilities"))
		case s.HighCount > 0:
			opp.Indicators = append(opp.Indicators, plural(s.HighCount, "high vulnerability", "high vulnerabilities"))
		case risk >= 70:
			opp.Indicators = append(opp.Indicators, "High security risk")
		}
	}

	if y := s.OSINT; y != nil {
		v := 0.0
		if y.People > 0 {
			v += math.Min(float64(y.People)*0.5, 5)
			opp.Indicators = append(opp.Indicators, plural(y.People, "person identified", "people identified"))
		}
		if y.Emails > 0 {
			v += math.Min(float64(y.Emails)*0.5, 5)
		}
		add(KeyOSINT, v, OSINTCap)
	}

	if y := s.Scraping; y != nil {
		v := math.Min(float64(y.Emails)*0.4, 4) +
			math.Min(float64(y.People)*0.3, 3) +
			math.Min(float64(y.Phones)*0.3, 3)
		add(KeyScraping, v, ScrapingCap)
	}

	// With the age signal alone this reduces to min(age*10, 100). No
	// signal at all scores 0.
	if opp.MaxPossibleScore > 0 {
		opp.Score = int(math.Round(opp.ActualScore / opp.MaxPossibleScore * 100))
	}
	opp.Score = max(0, min(opp.Score, 100))
	opp.Grade = model.GradeForScore(opp.Score)
	return opp
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
