package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// SheetOptions configures spreadsheet row streaming.
type SheetOptions struct {
	SheetIndex int    // xlsx only, default 0
	SheetName  string // xlsx only, overrides SheetIndex
	// Delimiter forces the CSV separator. Zero sniffs ',' or ';' from the
	// first line.
	Delimiter rune
}

// StreamSheet streams the rows of an .xlsx or .csv file, header included,
// with every cell trimmed. Both channels are closed when reading completes.
func StreamSheet(ctx context.Context, path string, opts SheetOptions) (<-chan []string, <-chan error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return StreamXLSX(ctx, path, opts)
	case ".csv", ".txt":
		f, err := os.Open(path) //nolint:gosec // operator-supplied import file
		if err != nil {
			return failed(eris.Wrapf(err, "sheet: open %s", path))
		}
		rows, errs := StreamCSV(ctx, f, opts)
		return rows, closeAfter(errs, f)
	default:
		return failed(eris.Errorf("sheet: unsupported file type %q", filepath.Ext(path)))
	}
}

// ReadSheet collects all rows of StreamSheet.
func ReadSheet(ctx context.Context, path string, opts SheetOptions) ([][]string, error) {
	rowCh, errCh := StreamSheet(ctx, path, opts)
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

// StreamXLSX reads one worksheet and sends its rows to a channel.
func StreamXLSX(ctx context.Context, path string, opts SheetOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open file")
			return
		}
		sheet, err := getSheet(f, opts)
		if err != nil {
			errCh <- err
			return
		}

		for _, row := range sheet.Rows {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
			if row == nil {
				continue
			}
			select {
			case rowCh <- rowToStrings(row):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func getSheet(f *xlsx.File, opts SheetOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

// rowToStrings keeps the cell text as displayed. Error cells such as
// #REF! come through verbatim and are filtered during ingestion.
func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		v, err := cell.FormattedValue()
		if err != nil {
			v = cell.Value
		}
		cells[j] = strings.TrimSpace(v)
	}
	return cells
}

// StreamCSV reads CSV rows from r. A UTF-8 BOM is skipped and input that is
// not valid UTF-8 is decoded as Windows-1252, the usual encoding of
// spreadsheets exported on French desktops.
func StreamCSV(ctx context.Context, r io.Reader, opts SheetOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReaderSize(r, 64*1024)
		head, _ := br.Peek(64 * 1024)
		var src io.Reader = br
		switch {
		case bytes.HasPrefix(head, []byte("\xef\xbb\xbf")):
			_, _ = br.Discard(3)
			head = head[3:]
		case !utf8.Valid(trimPartialRune(head)):
			src = transform.NewReader(br, charmap.Windows1252.NewDecoder())
		}

		reader := csv.NewReader(src)
		reader.Comma = opts.Delimiter
		if reader.Comma == 0 {
			reader.Comma = sniffDelimiter(head)
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// sniffDelimiter picks ';' when the first line has more semicolons than
// commas, which is what French Excel exports use.
func sniffDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	if bytes.Count(line, []byte("\t")) > bytes.Count(line, []byte(",")) {
		return '\t'
	}
	return ','
}

// trimPartialRune drops a rune cut off by the peek window.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func failed(err error) (<-chan []string, <-chan error) {
	rowCh := make(chan []string)
	errCh := make(chan error, 1)
	errCh <- err
	close(rowCh)
	close(errCh)
	return rowCh, errCh
}

// closeAfter closes c once errs is drained and forwards its value.
func closeAfter(errs <-chan error, c io.Closer) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		err := <-errs
		_ = c.Close()
		if err != nil {
			out <- err
		}
	}()
	return out
}
