// Package csvjob parses job CSV bodies into per-row lookups.
//
// Job files are uploaded by services as UTF-8 text with CRLF row separators.
// The first row is a header; one header cell contains "phone number".
package csvjob

import (
	"encoding/csv"
	"io"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Unavailable is recorded for rows too short to contain a phone number.
const Unavailable = "Unavailable"

const (
	phoneColumnMarker = "phone number"
	byteOrderMark     = "\ufeff"
)

// stripPhoneNoise drops the formatting characters services put in phone cells.
func stripPhoneNoise(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '+', r == '(', r == ')', r == '-', r == '.':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, s)
}

// Extractor parses job bodies. The zero value is usable and logs nothing.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an Extractor that reports corrupt rows to logger.
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractPhones maps each data row number (0-indexed after the header) to its
// phone number with formatting noise removed. A row shorter than the phone
// column yields Unavailable; an empty phone cell yields "".
func (e *Extractor) ExtractPhones(body string) map[int]string {
	header, rows := splitRows(body)
	phones := make(map[int]string, len(rows))

	phoneIndex := phoneColumn(header)
	if phoneIndex < 0 {
		e.log().Error("job csv has no phone number column",
			zap.Strings("header", header),
		)
		for i := range rows {
			phones[i] = Unavailable
		}
		return phones
	}

	for i, row := range rows {
		if len(row) <= phoneIndex {
			e.log().Error("corrupt row in job csv, phone number missing",
				zap.Int("row", i),
				zap.Int("columns", len(row)),
				zap.Int("phone_column", phoneIndex),
			)
			phones[i] = Unavailable
			continue
		}
		phones[i] = stripPhoneNoise(row[phoneIndex])
	}

	return phones
}

// ExtractPersonalisation zips the header against each data row. Short rows
// get fewer keys.
func (e *Extractor) ExtractPersonalisation(body string) map[int]map[string]string {
	header, rows := splitRows(body)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], byteOrderMark)
	}

	out := make(map[int]map[string]string, len(rows))
	for i, row := range rows {
		values := make(map[string]string, len(row))
		for col, name := range header {
			if col >= len(row) {
				break
			}
			values[name] = row[col]
		}
		out[i] = values
	}
	return out
}

// ExtractPhones is a convenience wrapper around a silent Extractor.
func ExtractPhones(body string) map[int]string {
	return (&Extractor{}).ExtractPhones(body)
}

// ExtractPersonalisation is a convenience wrapper around a silent Extractor.
func ExtractPersonalisation(body string) map[int]map[string]string {
	return (&Extractor{}).ExtractPersonalisation(body)
}

func (e *Extractor) log() *zap.Logger {
	if e == nil || e.logger == nil {
		return zap.NewNop()
	}
	return e.logger
}

func phoneColumn(header []string) int {
	for i, cell := range header {
		name := strings.ToLower(strings.TrimPrefix(cell, byteOrderMark))
		if strings.Contains(name, phoneColumnMarker) {
			return i
		}
	}
	return -1
}

// splitRows returns the header and the data rows. Quoted cells are honoured;
// a malformed line falls back to a plain comma split so one bad row cannot
// hide the rows after it.
func splitRows(body string) ([]string, [][]string) {
	lines := strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, nil
	}

	header := parseLine(lines[0])
	rows := make([][]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rows = append(rows, parseLine(line))
	}
	return header, rows
}

func parseLine(line string) []string {
	if line == "" {
		return []string{""}
	}
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	record, err := r.Read()
	if err != nil && err != io.EOF {
		return strings.Split(line, ",")
	}
	return record
}
