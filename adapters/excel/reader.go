package excel

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx", "csv" or "tsv"
	sheet    string
}

// NewDataReader creates a reader for an Excel, CSV or TSV file.
// For workbooks an empty sheet means the first sheet.
func NewDataReader(filePath, sheet string) *DataReader {
	fileType := "xlsx"
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".csv":
		fileType = "csv"
	case ".tsv", ".txt":
		fileType = "tsv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, sheet: sheet}
}

// ReadData reads the file into headers and rows
func (r *DataReader) ReadData() (*ExcelData, error) {
	log.Printf("[DataReader] Starting to read %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readDelimitedData(',')
	case "tsv":
		return r.readDelimitedData('\t')
	case "xlsx":
		return r.readExcelData()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

func (r *DataReader) readExcelData() (*ExcelData, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	log.Printf("[DataReader] Sheet %s read in %.2fms (%d rows)",
		sheet, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("Excel file must have at least a header row and one data row")
	}
	return r.processRows(rows)
}

func (r *DataReader) readDelimitedData(comma rune) (*ExcelData, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", strings.ToUpper(r.fileType), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	readStart := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s file: %w", strings.ToUpper(r.fileType), err)
	}
	log.Printf("[DataReader] %s file read in %.2fms (%d rows)",
		strings.ToUpper(r.fileType), float64(time.Since(readStart).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have at least a header row and one data row", strings.ToUpper(r.fileType))
	}
	return r.processRows(rows)
}

// processRows converts raw string rows into ExcelData format
func (r *DataReader) processRows(rows [][]string) (*ExcelData, error) {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	seen := make(map[string]bool, len(headerRow))
	for i, header := range headerRow {
		h := strings.TrimSpace(header)
		if i == 0 && h == "" {
			// Index column written without a name
			h = "sample"
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
		headers[i] = h
	}

	dataRows := make([]RawRowData, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlank(row) {
			continue
		}
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}

	log.Printf("[DataReader] %s file processed (%d columns, %d rows)",
		strings.ToUpper(r.fileType), len(headers), len(dataRows))

	return &ExcelData{
		Headers: headers,
		Rows:    dataRows,
	}, nil
}

// DetectSampleColumn finds the sample identifier column
func (r *DataReader) DetectSampleColumn(data *ExcelData) (string, error) {
	if len(data.Rows) == 0 {
		return "", fmt.Errorf("no data rows found")
	}

	commonSampleColumns := []string{
		"sample",
		"sample_id",
		"samples",
		"patient",
		"patient_id",
		"barcode",
		"id",
	}

	for _, colName := range commonSampleColumns {
		for _, header := range data.Headers {
			if strings.ToLower(header) == colName && r.isValidSampleColumn(data, header) {
				return header, nil
			}
		}
	}

	// Fall back to first column if no common names found
	if len(data.Headers) > 0 {
		firstCol := data.Headers[0]
		if r.isValidSampleColumn(data, firstCol) {
			return firstCol, nil
		}
	}

	return "", fmt.Errorf("could not detect a valid sample column")
}

// isValidSampleColumn checks the column has unique, non-empty values
func (r *DataReader) isValidSampleColumn(data *ExcelData, columnName string) bool {
	values := make(map[string]bool, len(data.Rows))
	for _, row := range data.Rows {
		value := row[columnName]
		if value == "" || values[value] {
			return false
		}
		values[value] = true
	}
	return true
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
