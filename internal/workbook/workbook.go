// Package workbook loads the pipeline inputs: the multi-sheet source workbook
// and the JSON schema documents that accompany it.
package workbook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"

	"schema-mapper/internal/domain"
)

// ErrInvalidInput marks errors caused by the uploaded content rather than by
// the environment reading it.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("workbook: %w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ReadSheets parses an xlsx workbook and returns its sheets in workbook order.
func ReadSheets(r io.Reader) ([]domain.Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, invalid("open workbook: %v", err)
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, invalid("workbook has no sheets")
	}
	sheets := make([]domain.Sheet, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("workbook: read sheet %q: %w", name, err)
		}
		sheets = append(sheets, domain.Sheet{Name: name, Rows: rows})
	}
	return sheets, nil
}

// RenderSheet renders a sheet as an aligned plain-text table under its name
// label. The first row is treated as the header like any other row.
func RenderSheet(s domain.Sheet) string {
	width := 0
	for _, row := range s.Rows {
		width = max(width, len(row))
	}

	var table bytes.Buffer
	tw := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)
	for _, row := range s.Rows {
		cells := make([]string, width)
		for i := range cells {
			if i < len(row) {
				cells[i] = strings.Join(strings.Fields(row[i]), " ")
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	// Padding is applied to every column, the last one included.
	lines := strings.Split(strings.TrimRight(table.String(), "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return "Sheet name: " + s.Name + "\n" + strings.Join(lines, "\n") + "\n\n"
}

// DecodeTarget parses a target schema document. The document must be an
// object with a non-empty "name"; a missing "fields" key yields an empty
// field list.
func DecodeTarget(r io.Reader) (domain.TargetDocument, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return domain.TargetDocument{}, fmt.Errorf("workbook: read target: %w", err)
	}
	var doc struct {
		Name   *string           `json:"name"`
		Fields []json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.TargetDocument{}, invalid("decode target: %v", err)
	}
	if doc.Name == nil || strings.TrimSpace(*doc.Name) == "" {
		return domain.TargetDocument{}, invalid("target document has no name")
	}
	if doc.Fields == nil {
		doc.Fields = []json.RawMessage{}
	}
	return domain.TargetDocument{
		Table: domain.TableSchema{Name: *doc.Name, Fields: doc.Fields},
		Raw:   json.RawMessage(bytes.TrimSpace(raw)),
	}, nil
}

// DecodeSourceTables parses the JSON array of source table schemas. Entries
// are kept verbatim.
func DecodeSourceTables(r io.Reader) ([]json.RawMessage, error) {
	var tables []json.RawMessage
	if err := decodeArray(r, &tables); err != nil {
		return nil, fmt.Errorf("workbook: decode source tables: %w", err)
	}
	for i, t := range tables {
		if !bytes.HasPrefix(bytes.TrimSpace(t), []byte("{")) {
			return nil, invalid("source table %d is not an object", i)
		}
	}
	return tables, nil
}

// DecodeApprovedMappings parses the reviewed mapping list used for SQL
// synthesis.
func DecodeApprovedMappings(r io.Reader) ([]domain.ApprovedMapping, error) {
	var mappings []domain.ApprovedMapping
	if err := decodeArray(r, &mappings); err != nil {
		return nil, fmt.Errorf("workbook: decode approved mappings: %w", err)
	}
	return mappings, nil
}

func decodeArray(r io.Reader, out any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after array", ErrInvalidInput)
	}
	return nil
}

// LoadSheets reads a workbook from disk.
func LoadSheets(path string) ([]domain.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("workbook: %w", err)
	}
	defer f.Close()
	return ReadSheets(f)
}

// LoadTarget reads a target schema document from disk.
func LoadTarget(path string) (domain.TargetDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.TargetDocument{}, fmt.Errorf("workbook: %w", err)
	}
	defer f.Close()
	return DecodeTarget(f)
}

// LoadSourceTables reads the source table schema array from disk.
func LoadSourceTables(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("workbook: %w", err)
	}
	defer f.Close()
	return DecodeSourceTables(f)
}

// LoadApprovedMappings reads approved mappings from disk.
func LoadApprovedMappings(path string) ([]domain.ApprovedMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("workbook: %w", err)
	}
	defer f.Close()
	return DecodeApprovedMappings(f)
}
