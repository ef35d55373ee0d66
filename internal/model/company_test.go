package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Status
	}{
		{"", StatusNew},
		{"New", StatusNew},
		{"prospect", StatusProspect},
		{"Prospect", StatusProspect},
		{"concurrent", StatusCompetitor},
		{"competition", StatusCompetitor},
		{"  Competitor ", StatusCompetitor},
		{"ToQualify", StatusToQualify},
		{"relance", StatusRelance},
		{"gagné", StatusWon},
		{"perdu", StatusLost},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStatus_Unknown(t *testing.T) {
	t.Parallel()

	_, err := ParseStatus("archived")
	assert.Error(t, err)
}

func TestAllStatusesRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range AllStatuses() {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestGradeForScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  Grade
	}{
		{100, GradeVeryHigh},
		{80, GradeVeryHigh},
		{79, GradeHigh},
		{60, GradeHigh},
		{59, GradeMedium},
		{40, GradeMedium},
		{39, GradeLow},
		{20, GradeLow},
		{19, GradeVeryLow},
		{0, GradeVeryLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeForScore(tt.score), "score %d", tt.score)
	}
}

func TestResolvedSector(t *testing.T) {
	t.Parallel()

	in := CompanyInput{Category: "Plombier", CategoryTranslate: " Plumber "}
	assert.Equal(t, "Plumber", in.ResolvedSector())

	in.Sector = "BTP"
	assert.Equal(t, "BTP", in.ResolvedSector())

	assert.Empty(t, (&CompanyInput{}).ResolvedSector())
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://acme.example", NormalizeKey("  HTTPS://ACME.EXAMPLE "))
	assert.Equal(t, NormalizeKey("Acme"), NormalizeKey("acme"))
}

func TestInferHierarchy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title string
		level int
		role  string
	}{
		{"CEO & Founder", LevelExecutive, RoleDirection},
		{"Directeur Général", LevelExecutive, RoleDirection},
		{"Directeur commercial", LevelDirector, RoleDirection},
		{"Head of Sales", LevelDirector, RoleDirection},
		{"Responsable marketing", LevelManager, RoleManagement},
		{"Chef de projet", LevelManager, RoleManagement},
		{"Senior developer", LevelExpert, RoleExpert},
		{"Comptable", LevelContributor, RoleCollaborateur},
		{"", LevelContributor, RoleCollaborateur},
	}

	for _, tt := range tests {
		level, role := InferHierarchy(tt.title)
		assert.Equal(t, tt.level, level, tt.title)
		assert.Equal(t, tt.role, role, tt.title)
	}
}

func TestClassifyPage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PageTypeHomepage, ClassifyPage("https://a.example/"))
	assert.Equal(t, PageTypeContact, ClassifyPage("https://a.example/nous-contacter"))
	assert.Equal(t, PageTypeTeam, ClassifyPage("https://a.example/notre-equipe/"))
	assert.Equal(t, PageTypeAbout, ClassifyPage("https://a.example/a-propos"))
	assert.Equal(t, PageTypeOther, ClassifyPage("https://a.example/produits/x"))
	assert.True(t, PageTypeTeam.RichInPeople())
	assert.False(t, PageTypeOther.RichInPeople())
}

func TestSiteMetadataFields(t *testing.T) {
	t.Parallel()

	year := 1998
	m := SiteMetadata{Title: "Acme", Logo: "https://a.example/logo.png", FoundedYear: &year}
	assert.Equal(t, 3, m.Fields())
}
