package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func readXLSX(path string) (*Table, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]
	cells, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	raw, err := file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	reader := &cellReader{file: file, sheet: sheet, dateStyles: map[int]bool{}}
	if props, err := file.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		reader.date1904 = *props.Date1904
	}
	if len(cells) == 0 {
		return &Table{}, nil
	}

	header := cells[0]
	width := len(header)
	for _, row := range cells[1:] {
		if len(row) > width {
			width = len(row)
		}
	}

	columns := make([]Column, width)
	for i := range columns {
		source := ""
		if i < len(header) {
			source = strings.TrimSpace(header[i])
		}
		if source == "" {
			source = "Unnamed: " + strconv.Itoa(i)
		}
		columns[i] = Column{Source: source}
	}

	rows := make([][]Value, 0, len(cells)-1)
	for r, record := range cells[1:] {
		var rawRecord []string
		if r+1 < len(raw) {
			rawRecord = raw[r+1]
		}
		row := make([]Value, width)
		for i := range row {
			if i >= len(record) {
				continue
			}
			rawText := record[i]
			if i < len(rawRecord) {
				rawText = rawRecord[i]
			}
			text, err := reader.text(i+1, r+2, record[i], rawText)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(text) != "" {
				row[i] = StringValue(text)
			}
		}
		rows = append(rows, row)
	}

	for i := range columns {
		kind := inferKind(rows, i)
		columns[i].Kind = kind
		columns[i].Type = StorageType(kind)
		for _, row := range rows {
			row[i] = row[i].Coerce(kind)
		}
	}
	return &Table{Columns: columns, Rows: rows}, nil
}

// cellReader recovers typed text from a sheet. Display text loses precision and
// turns dates into locale strings, so numeric cells are read raw and date
// serials are converted through the cell's number format.
type cellReader struct {
	file       *excelize.File
	sheet      string
	date1904   bool
	dateStyles map[int]bool
}

func (c *cellReader) text(col, row int, formatted, raw string) (string, error) {
	if raw == "1" && strings.EqualFold(formatted, "TRUE") || raw == "0" && strings.EqualFold(formatted, "FALSE") {
		return formatted, nil
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || formatted == raw {
		return raw, nil
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", err
	}
	isDate, err := c.isDateCell(name)
	if err != nil {
		return "", fmt.Errorf("style of %s: %w", name, err)
	}
	if !isDate {
		return raw, nil
	}
	when, err := excelize.ExcelDateToTime(serial, c.date1904)
	if err != nil {
		return raw, nil
	}
	return when.Format("2006-01-02 15:04:05"), nil
}

func (c *cellReader) isDateCell(name string) (bool, error) {
	styleID, err := c.file.GetCellStyle(c.sheet, name)
	if err != nil {
		return false, err
	}
	if isDate, ok := c.dateStyles[styleID]; ok {
		return isDate, nil
	}
	style, err := c.file.GetStyle(styleID)
	if err != nil {
		return false, err
	}
	isDate := isDateNumFmt(style.NumFmt)
	if style.CustomNumFmt != nil {
		isDate = isDateFormatCode(*style.CustomNumFmt)
	}
	c.dateStyles[styleID] = isDate
	return isDate, nil
}

// isDateNumFmt covers the built-in date and time formats, CJK variants included.
func isDateNumFmt(id int) bool {
	return id >= 14 && id <= 22 || id >= 27 && id <= 36 || id >= 45 && id <= 47 || id >= 50 && id <= 58
}

// isDateFormatCode reports whether a custom format renders date or time parts.
// Quoted literals, escaped characters and [..] sections such as colors or
// currency tags are ignored.
func isDateFormatCode(code string) bool {
	section, _, _ := strings.Cut(code, ";")
	if strings.EqualFold(section, "General") {
		return false
	}
	var quoted, bracket, escaped bool
	for _, r := range strings.ToLower(section) {
		switch {
		case escaped:
			escaped = false
		case quoted:
			quoted = r != '"'
		case bracket:
			bracket = r != ']'
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = true
		case r == '[':
			bracket = true
		case strings.ContainsRune("ymdhs", r):
			return true
		}
	}
	return false
}

// inferKind picks the narrowest kind that parses every non-null cell of a column.
func inferKind(rows [][]Value, index int) Kind {
	candidates := map[Kind]bool{KindBool: true, KindInt: true, KindFloat: true, KindTime: true}
	seen := false
	for _, row := range rows {
		cell := row[index]
		if cell.IsNull() {
			continue
		}
		seen = true
		text := strings.TrimSpace(cell.String())
		if _, err := strconv.ParseBool(text); err != nil || isNumericBool(text) {
			candidates[KindBool] = false
		}
		if _, err := strconv.ParseInt(text, 10, 64); err != nil {
			candidates[KindInt] = false
		}
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			candidates[KindFloat] = false
		}
		if _, ok := parseTimestamp(text); !ok {
			candidates[KindTime] = false
		}
	}
	if !seen {
		return KindString
	}
	for _, kind := range []Kind{KindBool, KindInt, KindFloat, KindTime} {
		if candidates[kind] {
			return kind
		}
	}
	return KindString
}

func isNumericBool(text string) bool {
	return text == "0" || text == "1"
}

func parseTimestamp(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
