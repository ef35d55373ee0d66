// Package ingest turns spreadsheet rows into validated company payloads.
package ingest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/model"
)

// ErrNoNameColumn is returned when the header row has no name column.
var ErrNoNameColumn = eris.New("ingest: missing required column \"name\"")

// Row is one accepted spreadsheet row.
type Row struct {
	// Line is the 1-based spreadsheet line, header included.
	Line  int
	Input model.CompanyInput
}

// Warning describes a problem found on one row.
type Warning struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	// Skipped is set when the warning caused the row to be dropped.
	Skipped bool `json:"skipped"`
}

func (w Warning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("line %d: %s", w.Line, w.Message)
	}
	return fmt.Sprintf("line %d: %s %q: %s", w.Line, w.Field, w.Value, w.Message)
}

// Batch is the outcome of parsing one spreadsheet.
type Batch struct {
	Rows     []Row
	Warnings []Warning
	// Total counts data rows, blank lines excluded.
	Total int
}

// Skipped returns the number of rejected rows.
func (b *Batch) Skipped() int {
	return b.Total - len(b.Rows)
}

// excelErrors are the error tokens Excel writes in English and French
// locales.
var excelErrors = map[string]bool{
	"#NAME?":   true,
	"#NOM?":    true,
	"#REF!":    true,
	"#VALUE!":  true,
	"#VALEUR!": true,
	"#DIV/0!":  true,
	"#N/A":     true,
	"#NULL!":   true,
	"#NUL!":    true,
	"#NUM!":    true,
	"#NOMBRE!": true,
}

var nullTokens = map[string]bool{
	"nan": true, "none": true, "null": true, "n/a": true, "na": true,
}

// importantFields raise a warning when they hold an Excel error token.
var importantFields = map[string]bool{"name": true, "website": true, "category": true}

// headerAliases maps folded header spellings onto canonical column names.
var headerAliases = map[string]string{
	"name": "name", "nom": "name", "raison sociale": "name", "entreprise": "name", "company": "name",
	"website": "website", "site": "website", "site web": "website", "site internet": "website", "url": "website",
	"category": "category", "categorie": "category",
	"category_translate": "category_translate", "categorie traduite": "category_translate",
	"sector": "sector", "secteur": "sector",
	"phone_number": "phone_number", "phone": "phone_number", "telephone": "phone_number", "tel": "phone_number",
	"country": "country", "pays": "country",
	"address_1": "address_1", "adresse": "address_1", "adresse 1": "address_1", "address": "address_1",
	"address_2": "address_2", "adresse 2": "address_2", "ville": "address_2", "city": "address_2",
	"address_full": "address_full", "adresse complete": "address_full", "full address": "address_full",
	"longitude": "longitude", "lng": "longitude", "lon": "longitude",
	"latitude": "latitude", "lat": "latitude",
	"rating": "rating", "note": "rating",
	"reviews_count": "reviews_count", "reviews": "reviews_count", "nombre d'avis": "reviews_count", "avis": "reviews_count",
	"resume": "resume", "description": "resume",
}

var folder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldHeader lowercases a header and strips accents and padding.
func foldHeader(h string) string {
	out, _, err := transform.String(folder, h)
	if err != nil {
		out = h
	}
	out = strings.ToLower(strings.Join(strings.Fields(out), " "))
	return strings.ReplaceAll(out, "-", "_")
}

// ReadFile reads an .xlsx or .csv file and parses its rows.
func ReadFile(ctx context.Context, path string) (*Batch, error) {
	rows, err := fetcher.ReadSheet(ctx, path, fetcher.SheetOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return Parse(rows)
}

// Parse validates rows whose first element is the header. Rows missing a
// name or carrying invalid coordinates are skipped with a warning; other
// problems produce warnings on rows that are still accepted.
func Parse(rows [][]string) (*Batch, error) {
	if len(rows) == 0 {
		return nil, eris.New("ingest: empty sheet")
	}
	columns := make(map[string]int)
	for i, h := range rows[0] {
		canon, ok := headerAliases[foldHeader(h)]
		if !ok {
			continue
		}
		if _, dup := columns[canon]; !dup {
			columns[canon] = i
		}
	}
	if _, ok := columns["name"]; !ok {
		return nil, ErrNoNameColumn
	}

	b := &Batch{}
	for idx, cells := range rows[1:] {
		if blank(cells) {
			continue
		}
		b.Total++
		line := idx + 2
		in, warnings, ok := parseRow(line, cells, columns)
		b.Warnings = append(b.Warnings, warnings...)
		if ok {
			b.Rows = append(b.Rows, Row{Line: line, Input: in})
		}
	}
	zap.L().Debug("ingest: parsed sheet",
		zap.Int("rows", b.Total),
		zap.Int("accepted", len(b.Rows)),
		zap.Int("warnings", len(b.Warnings)),
	)
	return b, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseRow(line int, cells []string, columns map[string]int) (model.CompanyInput, []Warning, bool) {
	var warnings []Warning
	warn := func(field, value, msg string, skipped bool) {
		warnings = append(warnings, Warning{Line: line, Field: field, Value: value, Message: msg, Skipped: skipped})
	}

	get := func(field string) string {
		i, ok := columns[field]
		if !ok || i >= len(cells) {
			return ""
		}
		v := strings.TrimSpace(cells[i])
		if excelErrors[strings.ToUpper(v)] {
			if importantFields[field] {
				warn(field, v, "excel error value", false)
			}
			return ""
		}
		if nullTokens[strings.ToLower(v)] {
			return ""
		}
		return v
	}

	in := model.CompanyInput{
		Name:              get("name"),
		Category:          get("category"),
		CategoryTranslate: get("category_translate"),
		Sector:            get("sector"),
		Phone:             get("phone_number"),
		Country:           get("country"),
		Address1:          get("address_1"),
		Address2:          get("address_2"),
		AddressFull:       get("address_full"),
		Resume:            get("resume"),
	}
	if in.Name == "" {
		warn("name", "", "missing required name", true)
		return in, warnings, false
	}

	if raw := get("website"); raw != "" {
		if site, ok := NormalizeWebsite(raw); ok {
			in.Website = site
		} else {
			warn("website", raw, "not a website, ignored", false)
		}
	}

	valid := true
	coord := func(field string, limit float64) *float64 {
		raw := get(field)
		if raw == "" {
			return nil
		}
		v, ok := ParseNumber(raw)
		switch {
		case !ok:
			warn(field, raw, "not a number", true)
			valid = false
		case v < -limit || v > limit:
			warn(field, raw, fmt.Sprintf("out of range [-%g, %g]", limit, limit), true)
			valid = false
		default:
			return &v
		}
		return nil
	}
	in.Longitude = coord("longitude", 180)
	in.Latitude = coord("latitude", 90)
	if !valid {
		return in, warnings, false
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		warn("latitude", "", "coordinate pair incomplete, ignored", false)
		in.Latitude, in.Longitude = nil, nil
	}

	if raw := get("rating"); raw != "" {
		if v, ok := ParseNumber(raw); ok && v >= 0 && v <= 5 {
			in.Rating = &v
		} else {
			warn("rating", raw, "invalid rating, ignored", false)
		}
	}
	if raw := get("reviews_count"); raw != "" {
		if v, ok := ParseNumber(raw); ok && v >= 0 && v == math.Trunc(v) {
			n := int(v)
			in.ReviewsCount = &n
		} else {
			warn("reviews_count", raw, "invalid count, ignored", false)
		}
	}
	return in, warnings, true
}

// ParseNumber parses a spreadsheet number, accepting a French decimal
// comma and space thousand separators. NaN and infinities are rejected.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\u202f' {
			return -1
		}
		return r
	}, s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// NormalizeWebsite prepends https:// when the value has no scheme. Values
// without a dot or starting with '#' are not websites.
func NormalizeWebsite(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") || strings.ContainsAny(s, " \t") {
		return "", false
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}
	host := s[strings.Index(s, "://")+3:]
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if !strings.Contains(host, ".") {
		return "", false
	}
	return s, true
}
