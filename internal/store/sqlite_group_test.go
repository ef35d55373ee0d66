package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/model"
)

func TestSQLite_Groups(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	a := mustCompany(t, st, model.CompanyInput{Name: "A"})
	b := mustCompany(t, st, model.CompanyInput{Name: "B"})

	gid, err := st.CreateGroup(ctx, "Hot leads", "", "")
	require.NoError(t, err)
	_, err = st.CreateGroup(ctx, "Hot leads", "", "")
	require.Error(t, err, "group names are unique")

	require.NoError(t, st.AddToGroup(ctx, gid, a))
	require.NoError(t, st.AddToGroup(ctx, gid, a))
	require.NoError(t, st.AddToGroup(ctx, gid, b))

	groups, err := st.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].CompanyCount)
	assert.Equal(t, defaultGroupColor, groups[0].Color)

	members, total, err := st.ListCompanies(ctx, CompanyFilter{GroupID: &gid})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, members, 2)

	require.NoError(t, st.RemoveFromGroup(ctx, gid, b))
	require.NoError(t, st.DeleteCompany(ctx, a))
	groups, err = st.ListGroups(ctx)
	require.NoError(t, err)
	assert.Zero(t, groups[0].CompanyCount)

	require.NoError(t, st.DeleteGroup(ctx, gid))
	require.ErrorIs(t, st.DeleteGroup(ctx, gid), ErrNotFound)
}

func TestSQLite_Tokens(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tok, err := st.CreateToken(ctx, "crm", "https://crm.example", nil, model.TokenCaps{ReadCompanies: true, ReadStats: true})
	require.NoError(t, err)
	assert.Len(t, tok.Token, 64)
	assert.True(t, tok.Active)

	got, err := st.ValidateToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
	assert.True(t, got.Caps.ReadStats)
	assert.False(t, got.Caps.ReadEmails)
	assert.NotNil(t, got.LastUsed)

	_, err = st.ValidateToken(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.RevokeToken(ctx, tok.ID))
	_, err = st.ValidateToken(ctx, tok.Token)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := st.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)
	assert.NotNil(t, list[0].LastUsed)
}

func TestSQLite_Statistics(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	aid, err := st.CreateAnalysis(ctx, "f.xlsx", 2, nil)
	require.NoError(t, err)
	a, _, err := st.SaveCompany(ctx, &aid, model.CompanyInput{Name: "A", Website: "https://a.example", Sector: "Bakery"}, true)
	require.NoError(t, err)
	_, _, err = st.SaveCompany(ctx, &aid, model.CompanyInput{Name: "B"}, true)
	require.NoError(t, err)
	mustCompany(t, st, model.CompanyInput{Name: "Outside", Sector: "Bakery"})

	require.NoError(t, st.UpdateEnrichment(ctx, a, model.Enrichment{Email: "x@a.example", SecurityScore: ptr(40)}))
	_, err = st.ToggleFavorite(ctx, a)
	require.NoError(t, err)
	_, err = st.SaveScraper(ctx, ScraperSave{CompanyID: a, URL: "https://a.example", Kind: model.ScraperUnified})
	require.NoError(t, err)

	all, err := st.Statistics(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 2, all.BySector["Bakery"])
	assert.Equal(t, 1, all.BySector["Unspecified"])
	assert.Equal(t, 3, all.ByStatus["New"])

	scoped, err := st.Statistics(ctx, &aid)
	require.NoError(t, err)
	assert.Equal(t, 2, scoped.Total)
	assert.Equal(t, 1, scoped.Favorites)
	assert.Equal(t, 1, scoped.WithEmail)
	assert.Equal(t, 1, scoped.WithWebsite)
	assert.Equal(t, 1, scoped.ScrapedCompanies)
	require.NotNil(t, scoped.AvgSecurityScore)
	assert.InDelta(t, 40.0, *scoped.AvgSecurityScore, 1e-9)
	assert.Nil(t, scoped.AvgPentestScore)
}

func TestSQLite_ClearAll(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.ClearAll(ctx), "clearing an empty database succeeds")

	aid, err := st.CreateAnalysis(ctx, "f.xlsx", 1, nil)
	require.NoError(t, err)
	cid, _, err := st.SaveCompany(ctx, &aid, model.CompanyInput{Name: "A"}, true)
	require.NoError(t, err)
	orphan := mustCompany(t, st, model.CompanyInput{Name: "B"})
	_, err = st.SaveScraper(ctx, ScraperSave{CompanyID: orphan, URL: "https://b.example", Kind: model.ScraperUnified})
	require.NoError(t, err)
	_, err = st.CreateGroup(ctx, "Keep", "", "")
	require.NoError(t, err)
	require.NotZero(t, cid)

	require.NoError(t, st.ClearAll(ctx))
	for _, table := range []string{"analyses", "companies", "scrapers"} {
		assert.Zero(t, countRows(t, st, table), table)
	}
	assert.Equal(t, 1, countRows(t, st, "groups"))

	// Sequences restart after a purge.
	id := mustCompany(t, st, model.CompanyInput{Name: "Fresh"})
	assert.Equal(t, int64(1), id)
}
