package sheet

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/raaihank/pii-redactor/internal/redact"
)

// Format represents supported spreadsheet formats
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSONL   Format = "jsonl"
	FormatUnknown Format = ""
)

// ResultSheetName names the sheet written to xlsx outputs.
const ResultSheetName = "PII 제거 결과"

// ErrUnsupportedFormat is returned for extensions no reader handles.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// DetectFormat detects the format from the file extension
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".json":
		return FormatJSONL
	default:
		return FormatUnknown
	}
}

// OutputName returns the download name for a redacted copy of original,
// e.g. 민원_PII_제거완료_LLM.xlsx.
func OutputName(original string, mode redact.Mode) string {
	name := filepath.Base(original)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	suffix := "_LLM"
	if mode == redact.ModeRegex {
		suffix = "_정규식"
	}
	return base + "_PII_제거완료" + suffix + ext
}
