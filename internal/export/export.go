// Package export 在运行结束时把收集到的记录写成 JSON 或 CSV 文件。
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crawlpool/internal/crawl"
)

// Write 按扩展名选择格式：.csv 写 CSV，其余写 JSON。
func Write(path string, records []crawl.Record) error {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return WriteCSV(path, records)
	}
	return WriteJSON(path, records)
}

func WriteJSON(path string, records []crawl.Record) error {
	if records == nil {
		records = []crawl.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal records: %w", err)
	}
	return writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// WriteCSV 的列为 name, tag, source_url，之后是所有记录中出现过的字段名（按字母序）。
func WriteCSV(path string, records []crawl.Record) error {
	fieldSet := make(map[string]struct{})
	for _, r := range records {
		for k := range r.Fields {
			fieldSet[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	return writeAtomic(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		header := append([]string{"name", "tag", "source_url"}, fields...)
		if err := w.Write(header); err != nil {
			return err
		}
		for _, r := range records {
			row := make([]string, 0, len(header))
			row = append(row, r.Name, r.Tag, r.SourceURL)
			for _, k := range fields {
				row = append(row, r.Fields[k])
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("export: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return fmt.Errorf("export: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("export: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("export: rename: %w", err)
	}
	return nil
}
