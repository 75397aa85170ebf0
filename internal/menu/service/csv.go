package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	nameKeys        = []string{"name", "название"}
	priceKeys       = []string{"price", "цена"}
	caloriesKeys    = []string{"calories", "ккал", "калории"}
	descriptionKeys = []string{"description", "описание"}
	weightKeys      = []string{"weight", "вес"}
	proteinsKeys    = []string{"proteins", "protein", "белки", "белок"}
	fatsKeys        = []string{"fats", "fat", "жиры", "жир"}
	carbsKeys       = []string{"carbs", "углеводы", "углев", "carbohydrates"}
	statusKeys      = []string{"status", "статус"}
	nutritionKeys   = []string{"бжу"}
)

var (
	hiddenStatuses  = map[string]struct{}{"hidden": {}, "невидимое": {}, "0": {}, "false": {}, "нет": {}}
	visibleStatuses = map[string]struct{}{"visible": {}, "видимое": {}, "1": {}, "true": {}, "да": {}}
)

type importRow struct {
	Line        int
	Name        string
	Price       decimal.Decimal
	Description *string
	Calories    *int
	Proteins    *float64
	Fats        *float64
	Carbs       *float64
	Weight      *float64
	View        bool
}

// decodeCSV tries UTF-8 (with an optional BOM) and falls back to Windows-1251.
func decodeCSV(raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", menudomain.ErrEmptyFile
	}
	if trimmed, ok := bytes.CutPrefix(raw, utf8BOM); ok {
		raw = trimmed
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode csv: %w", err)
	}
	return string(decoded), nil
}

// parseImport returns the valid rows and a line-numbered problem for every
// skipped row. The header is line 1.
func parseImport(raw []byte) ([]importRow, []string, error) {
	text, err := decodeCSV(raw)
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, menudomain.ErrMissingHeader
		}
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if !hasAnyColumn(columns) {
		return nil, nil, menudomain.ErrMissingHeader
	}

	var (
		rows     []importRow
		problems []string
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		values := make(map[string]string, len(columns))
		for i, value := range record {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			if _, seen := values[columns[i]]; seen {
				continue
			}
			values[columns[i]] = strings.TrimSpace(value)
		}

		row, problem := parseRow(line, values)
		if problem != "" {
			problems = append(problems, problem)
			continue
		}
		rows = append(rows, row)
	}
	return rows, problems, nil
}

func parseRow(line int, values map[string]string) (importRow, string) {
	name := lookup(values, nameKeys)
	if name == "" {
		return importRow{}, fmt.Sprintf("line %d: missing item name", line)
	}
	price, ok := parsePrice(lookup(values, priceKeys))
	if !ok {
		return importRow{}, fmt.Sprintf("line %d: invalid price", line)
	}

	row := importRow{
		Line:     line,
		Name:     name,
		Price:    price,
		Calories: parseInt(lookup(values, caloriesKeys)),
		Weight:   parseFloat(lookup(values, weightKeys)),
		Proteins: parseFloat(lookup(values, proteinsKeys)),
		Fats:     parseFloat(lookup(values, fatsKeys)),
		Carbs:    parseFloat(lookup(values, carbsKeys)),
		View:     true,
	}
	if description := lookup(values, descriptionKeys); description != "" {
		row.Description = &description
	}

	if nutrition := lookup(values, nutritionKeys); nutrition != "" && (row.Proteins == nil || row.Fats == nil || row.Carbs == nil) {
		parts := splitNutrition(nutrition)
		if len(parts) == 3 {
			if row.Proteins == nil {
				row.Proteins = parseFloat(parts[0])
			}
			if row.Fats == nil {
				row.Fats = parseFloat(parts[1])
			}
			if row.Carbs == nil {
				row.Carbs = parseFloat(parts[2])
			}
		}
	}

	if status := strings.ToLower(lookup(values, statusKeys)); status != "" {
		if _, hidden := hiddenStatuses[status]; hidden {
			row.View = false
		} else if _, visible := visibleStatuses[status]; visible {
			row.View = true
		}
	}
	return row, ""
}

func hasAnyColumn(columns []string) bool {
	for _, c := range columns {
		if c != "" {
			return true
		}
	}
	return false
}

// lookup returns the first non-empty value among the header aliases.
func lookup(values map[string]string, keys []string) string {
	for _, key := range keys {
		if v := values[key]; v != "" {
			return v
		}
	}
	return ""
}

func splitNutrition(value string) []string {
	fields := strings.Split(strings.ReplaceAll(value, "/", ","), ",")
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return parts
}

func normalizeNumber(value string) string {
	value = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, value)
	return strings.ReplaceAll(value, ",", ".")
}

func parseFloat(value string) *float64 {
	value = normalizeNumber(value)
	if value == "" {
		return nil
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || n < 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return nil
	}
	return &n
}

func parseInt(value string) *int {
	f := parseFloat(value)
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

func parsePrice(value string) (decimal.Decimal, bool) {
	value = normalizeNumber(value)
	if value == "" {
		return decimal.Decimal{}, false
	}
	price, err := decimal.NewFromString(value)
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, false
	}
	return price.Round(2), true
}
