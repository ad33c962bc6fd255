package gstrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
)

// fallbackTable seeds codes that must resolve even with no cache file
// and no remote source. Merged under the on-disk table on load.
var fallbackTable = map[string]Entry{
	"94035000": {Rate: decimal.NewFromInt(18), Description: "Wooden furniture"},
	"94036000": {Rate: decimal.NewFromInt(12), Description: "Metal furniture"},
}

// LoadTable reads the local HSN -> rate table and merges it over the
// built-in fallback entries. A missing file is not an error; the
// fallback table alone is returned.
func LoadTable(path string) (map[string]Entry, error) {
	table := make(map[string]Entry, len(fallbackTable))
	for code, e := range fallbackTable {
		table[code] = e
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, fmt.Errorf("read rate table %s: %w", path, err)
	}

	var loaded map[string]Entry
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parse rate table %s: %w", path, err)
	}
	for code, e := range loaded {
		table[code] = e
	}
	return table, nil
}

// SaveTable writes the table using write-to-temp plus rename, so a
// cancelled or crashed run never leaves a partially written file.
func SaveTable(path string, table map[string]Entry) error {
	body, err := json.MarshalIndent(table, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal rate table: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".hsn_gst_map-*.json")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace rate table %s: %w", path, err)
	}
	return nil
}
