package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospect-intel/internal/model"
)

func TestAnalyzeSiteAge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		html   string
		score  int
		status AgeStatus
		grade  model.Grade
	}{
		{
			name:   "modern",
			html:   `<html><body><p>© 2024 Acme</p><script src="/js/app.js"></script></body></html>`,
			status: AgeModern,
			grade:  model.GradeVeryLow,
		},
		{
			name:   "legacy markup only",
			html:   `<table cellpadding="0"><tr><td>Accueil</td></tr></table>`,
			score:  1,
			status: AgeToModernize,
			grade:  model.GradeLow,
		},
		{
			name:   "old copyright",
			html:   `<footer>Copyright 2012 Acme SARL</footer>`,
			score:  2,
			status: AgeObsolete,
			grade:  model.GradeMedium,
		},
		{
			name: "very obsolete",
			html: `<body><font>Bienvenue</font><p>Copyright 2009 Acme. Tous droits réservés.</p>
				<script src="/js/jquery-1.4.2.min.js"></script>
				<embed src="intro.swf" type="application/x-shockwave-flash"></body>`,
			// copyright 2, jquery-1. / shockwave / flash 3, embed 1, font 1
			score:  7,
			status: AgeVeryObsolete,
			grade:  model.GradeHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := AnalyzeSiteAge(page(t, tt.html))
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.grade, got.Opportunity)
			assert.NotNil(t, got.Indicators)
		})
	}
}

func TestAnalyzeSiteAge_DistantYearIgnored(t *testing.T) {
	t.Parallel()

	// The year belongs to another sentence than the copyright notice.
	p := page(t, `<p>Copyright Acme. Nos clients depuis 2010 nous font confiance.</p>`)
	got := AnalyzeSiteAge(p)
	assert.Zero(t, got.Score)
	assert.Empty(t, got.IndicatorText())
}
