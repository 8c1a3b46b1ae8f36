package scraper

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"
)

// FileScraper 从本地分隔文件读取代理。支持两种格式：
//   - 带表头的 CSV，表头至少包含 ip 和 port，可选 protocol、country、anonymity；
//   - 无表头，每行一个 host:port。
type FileScraper struct {
	path string
}

// NewFileScraper 创建一个新的 FileScraper 实例。
func NewFileScraper(path string) Scraper {
	return &FileScraper{path: path}
}

func (s *FileScraper) Name() string {
	return "file:" + filepath.Base(s.path)
}

func (s *FileScraper) Scrape(ctx context.Context) ([]*model.Candidate, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	if err := ctx.Err(); err != nil {
		return nil, unavailable(s.Name(), err)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, unavailable(s.Name(), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'
	r.TrimLeadingSpace = true

	var (
		proxies []*model.Candidate
		columns map[string]int
		lineNum int
	)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		lineNum++
		if err != nil {
			return nil, parseFailure(s.Name(), fmt.Errorf("line %d: %w", lineNum, err))
		}

		if lineNum == 1 && columns == nil {
			if cols, ok := headerColumns(record); ok {
				columns = cols
				continue
			}
		}

		c, ok := s.candidateFromRecord(record, columns)
		if !ok {
			l.Warn().Int("line", lineNum).Str("source", s.Name()).Msg("Skipping malformed line in proxy file.")
			continue
		}
		proxies = append(proxies, c)
	}

	l.Info().Int("count", len(proxies)).Str("source", s.Name()).Msg("Loaded proxies from file.")
	return proxies, nil
}

func (s *FileScraper) candidateFromRecord(record []string, columns map[string]int) (*model.Candidate, bool) {
	if columns == nil {
		if len(record) == 0 {
			return nil, false
		}
		ip, port, ok := splitHostPort(record[0])
		if !ok {
			return nil, false
		}
		c := &model.Candidate{IP: ip, Port: port, Protocol: model.ProtocolSOCKS5, Country: "unknown", Source: s.Name()}
		if len(record) > 1 {
			c.Protocol = model.ParseProtocol(record[1])
		}
		return c, true
	}

	get := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	ip := get("ip")
	port, err := strconv.Atoi(get("port"))
	if ip == "" || err != nil || port <= 0 || port > 65535 {
		return nil, false
	}
	country := get("country")
	if country == "" {
		country = "unknown"
	}
	return &model.Candidate{
		IP:        ip,
		Port:      port,
		Protocol:  model.ParseProtocol(get("protocol")),
		Anonymity: strings.ToLower(get("anonymity")),
		Country:   country,
		Source:    s.Name(),
	}, true
}

func headerColumns(record []string) (map[string]int, bool) {
	cols := make(map[string]int, len(record))
	for i, name := range record {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	_, hasIP := cols["ip"]
	_, hasPort := cols["port"]
	return cols, hasIP && hasPort
}
