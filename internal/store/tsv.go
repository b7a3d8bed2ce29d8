package store

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Column names of the coefficient table.
const (
	ColRailType    = "rail_type"
	ColKPI         = "kpi"
	ColModelType   = "model_type"
	ColParam1Name  = "param1_name"
	ColParam1Value = "param1_value"
	ColParam2Name  = "param2_name"
	ColParam2Value = "param2_value"
	ColRSquared    = "R_squared"
)

var requiredColumns = []string{ColRailType, ColKPI, ColParam1Name, ColParam1Value}

// ReadCoefficients parses a coefficient table with a header row. The
// delimiter is a tab unless the header contains none, in which case commas
// are assumed. A missing model_type column means every row is model "A";
// blank and "nan" cells are treated as not provided.
func ReadCoefficients(r io.Reader) ([]Coefficient, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	firstLine, _ := br.Peek(4096)
	if len(firstLine) == 0 {
		return nil, errors.New("empty coefficient table")
	}
	if i := bytes.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}

	cr := csv.NewReader(br)
	cr.Comma = '\t'
	if !bytes.ContainsRune(firstLine, '\t') {
		cr.Comma = ','
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	cell := func(rec []string, col string) string {
		i, ok := idx[strings.ToLower(col)]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Coefficient
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		c := Coefficient{
			RailType:   kpi.Category(cell(rec, ColRailType)),
			KPI:        kpi.Indicator(cell(rec, ColKPI)),
			ModelType:  cell(rec, ColModelType),
			Param1Name: blankName(cell(rec, ColParam1Name)),
			Param2Name: blankName(cell(rec, ColParam2Name)),
		}
		if c.Param1Value, err = parseOptional(cell(rec, ColParam1Value)); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ColParam1Value, err)
		}
		if c.Param2Value, err = parseOptional(cell(rec, ColParam2Value)); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ColParam2Value, err)
		}
		if c.RSquared, err = parseOptional(cell(rec, ColRSquared)); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ColRSquared, err)
		}
		c = c.Normalize()
		if c.RailType == "" || c.KPI == "" {
			return nil, fmt.Errorf("line %d: %w", line, ErrInvalidRow)
		}
		rows = append(rows, c)
	}
	return rows, nil
}

// WriteCoefficientsTSV writes rows as a tab-separated table that
// ReadCoefficients accepts.
func WriteCoefficientsTSV(w io.Writer, rows []Coefficient) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{
		ColRailType, ColKPI, ColModelType, ColParam1Name, ColParam1Value, ColParam2Name, ColParam2Value, ColRSquared,
	}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			string(r.RailType), string(r.KPI), r.ModelType,
			r.Param1Name, formatOptional(r.Param1Value),
			r.Param2Name, formatOptional(r.Param2Value),
			formatOptional(r.RSquared),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func blankName(s string) string {
	if isMissing(s) {
		return ""
	}
	return s
}

func isMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

func parseOptional(s string) (*float64, error) {
	if isMissing(s) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
