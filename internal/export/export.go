// Package export writes company lists as CSV or XLSX spreadsheets whose
// columns round-trip through the ingest header aliases.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Columns is the header row of every export.
var Columns = []string{
	"id", "name", "website", "sector", "status", "opportunity", "opportunity_score",
	"email", "responsible", "size", "hosting", "framework", "security_score", "pentest_score",
	"phone_number", "country", "address_1", "address_2", "latitude", "longitude",
	"rating", "reviews_count", "tags", "favorite", "resume",
}

// Options controls which sensitive fields are written.
type Options struct {
	// OmitEmails blanks the email and responsible columns.
	OmitEmails bool
}

// Row renders one company in Columns order.
func Row(c model.Company, opts Options) []string {
	email, responsible := c.Email, c.Responsible
	if opts.OmitEmails {
		email, responsible = "", ""
	}
	return []string{
		strconv.FormatInt(c.ID, 10),
		c.Name,
		c.Website,
		c.Sector,
		string(c.Status),
		string(c.Opportunity),
		intString(c.OpportunityScore),
		email,
		responsible,
		c.Size,
		c.Hosting,
		c.Framework,
		intString(c.SecurityScore),
		intString(c.PentestScore),
		c.Phone,
		c.Country,
		c.Address1,
		c.Address2,
		floatString(c.Latitude),
		floatString(c.Longitude),
		floatString(c.Rating),
		intString(c.ReviewsCount),
		strings.Join(c.Tags, ", "),
		strconv.FormatBool(c.Favorite),
		c.Summary,
	}
}

// WriteCSV writes the header and one row per company.
func WriteCSV(w io.Writer, companies []model.Company, opts Options) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, c := range companies {
		if err := cw.Write(Row(c, opts)); err != nil {
			return eris.Wrapf(err, "export: write company %d", c.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX saves the companies to a single-sheet workbook at path.
// Numeric columns are written as numbers.
func WriteXLSX(path string, companies []model.Company, opts Options) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Companies")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}
	for _, c := range companies {
		row := sheet.AddRow()
		for i, v := range Row(c, opts) {
			cell := row.AddCell()
			if n, err := strconv.ParseFloat(v, 64); err == nil && numeric[Columns[i]] {
				cell.SetFloat(n)
				continue
			}
			cell.SetString(v)
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

var numeric = map[string]bool{
	"id":                true,
	"opportunity_score": true,
	"security_score":    true,
	"pentest_score":     true,
	"latitude":          true,
	"longitude":         true,
	"rating":            true,
	"reviews_count":     true,
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatString(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
