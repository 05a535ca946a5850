package sh

import (
	"encoding/json"
	"fmt"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// DiffGolden compares the JSON form of records against a golden file's
// contents. It returns "" when they match, otherwise an ASCII diff.
func DiffGolden(golden []byte, records []Record, coloring bool) (string, error) {
	actual, err := MarshalRecords(records)
	if err != nil {
		return "", err
	}
	differ := gojsondiff.New()
	delta, err := differ.Compare(golden, actual)
	if err != nil {
		return "", fmt.Errorf("diff golden: %w", err)
	}
	if !delta.Modified() {
		return "", nil
	}
	var left interface{}
	if err := json.Unmarshal(golden, &left); err != nil {
		return "", fmt.Errorf("diff golden: %w", err)
	}
	cfg := formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       coloring,
	}
	return formatter.NewAsciiFormatter(left, cfg).Format(delta)
}
