package workbook

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// openCSV reads a delimited file as a single sheet named after the file.
// Every non-empty field is a text cell; a UTF-8 BOM on the first field is
// dropped.
func openCSV(ctx context.Context, path string, opt Options) (*Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	grid, err := readCSVGrid(ctx, f, opt)
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", base, err)
	}
	return New(path, NewSheet(name, grid)), nil
}

func readCSVGrid(ctx context.Context, r io.Reader, opt Options) ([][]Cell, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	var grid [][]Cell
	line := 0
	for {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return grid, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		if line == 0 && len(rec) > 0 {
			rec[0] = strings.TrimPrefix(rec[0], "\uFEFF")
		}
		line++

		cells := make([]Cell, len(rec))
		for i, v := range rec {
			if v != "" {
				cells[i] = Text(v)
			}
		}
		grid = append(grid, cells)
	}
}
