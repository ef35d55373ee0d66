package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Entreprises")
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "companies.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadSheet_XLSX(t *testing.T) {
	t.Parallel()
	path := writeXLSX(t, [][]string{
		{"name", "website", "rating"},
		{" Boulangerie Martin ", "boulangerie-martin.fr", "4,5"},
		{"Garage Dupont", "#REF!", ""},
	})

	rows, err := ReadSheet(context.Background(), path, SheetOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"name", "website", "rating"}, rows[0])
	assert.Equal(t, "Boulangerie Martin", rows[1][0])
	assert.Equal(t, "4,5", rows[1][2])
	assert.Equal(t, "#REF!", rows[2][1])
}

func TestReadSheet_XLSXSheetSelection(t *testing.T) {
	t.Parallel()
	path := writeXLSX(t, [][]string{{"name"}})

	_, err := ReadSheet(context.Background(), path, SheetOptions{SheetName: "Missing"})
	require.Error(t, err)
	_, err = ReadSheet(context.Background(), path, SheetOptions{SheetIndex: 3})
	require.Error(t, err)
	rows, err := ReadSheet(context.Background(), path, SheetOptions{SheetName: "Entreprises"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestReadSheet_CSV(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		want    [][]string
	}{
		{
			name:    "comma",
			content: "name,website\nAcme, acme.example \n",
			want:    [][]string{{"name", "website"}, {"Acme", "acme.example"}},
		},
		{
			name:    "semicolon with decimal comma",
			content: "name;rating\nAcme;4,5\n",
			want:    [][]string{{"name", "rating"}, {"Acme", "4,5"}},
		},
		{
			name:    "utf8 bom",
			content: "\xef\xbb\xbfname\nCafé\n",
			want:    [][]string{{"name"}, {"Café"}},
		},
		{
			name:    "windows-1252",
			content: "name\nCaf\xe9 de la Gare\n",
			want:    [][]string{{"name"}, {"Café de la Gare"}},
		},
		{
			name:    "ragged rows",
			content: "name,website,phone\nAcme\n",
			want:    [][]string{{"name", "website", "phone"}, {"Acme"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows, err := ReadSheet(context.Background(), writeFile(t, "in.csv", tt.content), SheetOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestReadSheet_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := ReadSheet(ctx, writeFile(t, "in.pdf", "%PDF"), SheetOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")

	_, err = ReadSheet(ctx, filepath.Join(t.TempDir(), "missing.csv"), SheetOptions{})
	require.Error(t, err)

	_, err = ReadSheet(ctx, writeFile(t, "broken.xlsx", "not a zip"), SheetOptions{})
	require.Error(t, err)
}

func TestStreamSheet_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamSheet(ctx, writeFile(t, "in.csv", "name\nA\nB\n"), SheetOptions{})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
