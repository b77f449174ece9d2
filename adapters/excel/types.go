package excel

// RawRowData represents a row of raw tabular data as header-value pairs
type RawRowData map[string]string

// ExcelData represents a complete table read from XLSX or CSV
type ExcelData struct {
	Headers []string     // Column headers in file order
	Rows    []RawRowData // Data rows
}

// ClinicalColumns selects the survival fields of a clinical table
type ClinicalColumns struct {
	Sample   string // empty means detect
	Duration string
	Event    string
}
