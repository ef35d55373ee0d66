package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_HeaderAliases(t *testing.T) {
	t.Parallel()
	b, err := Parse([][]string{
		{"Nom", "Site Web", "Catégorie", "Téléphone", "Latitude", "Longitude", "Note", "Nombre d'avis"},
		{"Boulangerie Martin", "boulangerie-martin.fr", "Boulangerie", "03 87 00 00 00", "49,1193", "6,1757", "4,6", "128"},
	})
	require.NoError(t, err)
	require.Len(t, b.Rows, 1)
	assert.Empty(t, b.Warnings)

	in := b.Rows[0].Input
	assert.Equal(t, 2, b.Rows[0].Line)
	assert.Equal(t, "Boulangerie Martin", in.Name)
	assert.Equal(t, "https://boulangerie-martin.fr", in.Website)
	assert.Equal(t, "Boulangerie", in.Category)
	assert.Equal(t, "03 87 00 00 00", in.Phone)
	require.NotNil(t, in.Latitude)
	assert.InDelta(t, 49.1193, *in.Latitude, 1e-9)
	assert.InDelta(t, 6.1757, *in.Longitude, 1e-9)
	assert.InDelta(t, 4.6, *in.Rating, 1e-9)
	assert.Equal(t, 128, *in.ReviewsCount)
}

func TestParse_MissingNameColumn(t *testing.T) {
	t.Parallel()
	_, err := Parse([][]string{{"website"}, {"a.example"}})
	require.ErrorIs(t, err, ErrNoNameColumn)

	_, err = Parse(nil)
	require.Error(t, err)
}

func TestParse_RowRules(t *testing.T) {
	t.Parallel()
	header := []string{"name", "website", "category", "latitude", "longitude", "rating", "reviews_count"}

	tests := []struct {
		name         string
		row          []string
		wantAccepted bool
		wantWarnings int
		check        func(t *testing.T, b *Batch)
	}{
		{
			name:         "missing name skipped",
			row:          []string{"", "a.example", "", "", "", "", ""},
			wantWarnings: 1,
		},
		{
			name:         "excel error in name skipped",
			row:          []string{"#REF!", "", "", "", "", "", ""},
			wantWarnings: 2,
		},
		{
			name:         "excel error in website warns",
			row:          []string{"Acme", "#VALUE!", "#N/A", "", "", "", ""},
			wantAccepted: true,
			wantWarnings: 2,
			check: func(t *testing.T, b *Batch) {
				assert.Empty(t, b.Rows[0].Input.Website)
				assert.Empty(t, b.Rows[0].Input.Category)
			},
		},
		{
			name:         "excel error in numeric field is missing",
			row:          []string{"Acme", "", "", "#DIV/0!", "#NUM!", "#NAME?", ""},
			wantAccepted: true,
			check: func(t *testing.T, b *Batch) {
				assert.Nil(t, b.Rows[0].Input.Latitude)
				assert.Nil(t, b.Rows[0].Input.Rating)
			},
		},
		{
			name:         "latitude out of range skipped",
			row:          []string{"Acme", "", "", "91", "6", "", ""},
			wantWarnings: 1,
		},
		{
			name:         "longitude out of range skipped",
			row:          []string{"Acme", "", "", "49", "-180,5", "", ""},
			wantWarnings: 1,
		},
		{
			name:         "non numeric coordinate skipped",
			row:          []string{"Acme", "", "", "north", "6", "", ""},
			wantWarnings: 1,
		},
		{
			// NaN is a null token; only Inf is reported.
			name:         "NaN never reaches the payload",
			row:          []string{"Acme", "", "", "", "", "NaN", "Inf"},
			wantAccepted: true,
			wantWarnings: 1,
			check: func(t *testing.T, b *Batch) {
				assert.Nil(t, b.Rows[0].Input.Rating)
				assert.Nil(t, b.Rows[0].Input.ReviewsCount)
			},
		},
		{
			name:         "null tokens are missing",
			row:          []string{"Acme", "null", "None", "", "", "", ""},
			wantAccepted: true,
			check: func(t *testing.T, b *Batch) {
				assert.Empty(t, b.Rows[0].Input.Website)
				assert.Empty(t, b.Rows[0].Input.Category)
			},
		},
		{
			name:         "half a coordinate pair is dropped",
			row:          []string{"Acme", "", "", "49", "", "", ""},
			wantAccepted: true,
			wantWarnings: 1,
			check: func(t *testing.T, b *Batch) {
				assert.Nil(t, b.Rows[0].Input.Latitude)
			},
		},
		{
			name:         "uppercase scheme kept",
			row:          []string{"acme", "HTTPS://ACME.EXAMPLE", "", "", "", "", ""},
			wantAccepted: true,
			check: func(t *testing.T, b *Batch) {
				assert.Equal(t, "HTTPS://ACME.EXAMPLE", b.Rows[0].Input.Website)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := Parse([][]string{header, tt.row})
			require.NoError(t, err)
			assert.Equal(t, 1, b.Total)
			if tt.wantAccepted {
				require.Len(t, b.Rows, 1)
				assert.Zero(t, b.Skipped())
			} else {
				assert.Empty(t, b.Rows)
				assert.Equal(t, 1, b.Skipped())
			}
			assert.Len(t, b.Warnings, tt.wantWarnings, "%v", b.Warnings)
			if tt.check != nil {
				tt.check(t, b)
			}
		})
	}
}

func TestParse_BlankRowsIgnored(t *testing.T) {
	t.Parallel()
	b, err := Parse([][]string{{"name"}, {""}, {"A"}, {"  "}, {"B"}})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Total)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, 3, b.Rows[0].Line)
	assert.Equal(t, 5, b.Rows[1].Line)
}

func TestParseNumber(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4,5", 4.5, true},
		{"4.5", 4.5, true},
		{"1 234", 1234, true},
		{"1 234,5", 1234.5, true},
		{"-0,25", -0.25, true},
		{"NaN", 0, false},
		{"-Infinity", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, tt.in)
		}
	}
}

func TestNormalizeWebsite(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"acme.example", "https://acme.example", true},
		{"www.acme.example/contact", "https://www.acme.example/contact", true},
		{"http://acme.example", "http://acme.example", true},
		{"#REF!", "", false},
		{"localhost", "", false},
		{"not a site", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeWebsite(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestReadFile_CSV(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "companies.csv")
	require.NoError(t, os.WriteFile(path, []byte("nom;site;latitude;longitude\nAcme;acme.example;49,1;6,2\n;missing.example;;\n"), 0o600))

	b, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Total)
	require.Len(t, b.Rows, 1)
	assert.Equal(t, "https://acme.example", b.Rows[0].Input.Website)
	require.Len(t, b.Warnings, 1)
	assert.True(t, b.Warnings[0].Skipped)
	assert.Equal(t, 3, b.Warnings[0].Line)
}
