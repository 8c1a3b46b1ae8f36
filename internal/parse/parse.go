// Package parse 提供基于 CSS 选择器的记录提取。换目标站点只需要换选择器。
package parse

import (
	"fmt"
	"strings"

	"crawlpool/internal/crawl"
	"crawlpool/internal/fetch"
	"crawlpool/internal/shared/types"

	"github.com/PuerkitoBio/goquery"
)

// ExtractionError 是单条记录的提取失败，带上来源页面便于排查选择器漂移。
type ExtractionError struct {
	SourceURL string
	Index     int
	Reason    string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract item %d from %s: %s", e.Index, e.SourceURL, e.Reason)
}

// fieldSelector 是 "field=selector" 或 "field=selector@attr"。
type fieldSelector struct {
	name     string
	selector string
	attr     string
}

// SelectorParser 在每个 item 元素内按选择器取 name、tag 和额外字段。
type SelectorParser struct {
	itemSelector string
	name         fieldSelector
	tag          fieldSelector
	fields       []fieldSelector
}

func NewSelectorParser(cfg types.ParserConf) (*SelectorParser, error) {
	if strings.TrimSpace(cfg.ItemSelector) == "" {
		return nil, fmt.Errorf("parser: item_selector is required")
	}
	p := &SelectorParser{
		itemSelector: cfg.ItemSelector,
		name:         splitAttr("name", cfg.NameSelector),
		tag:          splitAttr("tag", cfg.TagSelector),
	}
	for _, spec := range cfg.FieldSelectors {
		name, sel, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(sel) == "" {
			return nil, fmt.Errorf("parser: invalid field selector %q, want field=selector", spec)
		}
		p.fields = append(p.fields, splitAttr(name, sel))
	}
	return p, nil
}

func splitAttr(name, sel string) fieldSelector {
	sel = strings.TrimSpace(sel)
	fs := fieldSelector{name: name, selector: sel}
	if i := strings.LastIndex(sel, "@"); i >= 0 {
		fs.selector = strings.TrimSpace(sel[:i])
		fs.attr = strings.TrimSpace(sel[i+1:])
	}
	return fs
}

// Parse 提取页面上的所有 item。缺少 name 的 item 产生 ExtractionError 并被跳过。
func (p *SelectorParser) Parse(page *fetch.Page) ([]crawl.Record, []error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return nil, []error{&ExtractionError{SourceURL: page.FinalURL, Index: -1, Reason: err.Error()}}
	}

	var (
		records []crawl.Record
		errs    []error
	)
	doc.Find(p.itemSelector).Each(func(i int, item *goquery.Selection) {
		name := p.name.extract(item)
		if name == "" {
			errs = append(errs, &ExtractionError{SourceURL: page.FinalURL, Index: i, Reason: "missing name"})
			return
		}
		r := crawl.Record{
			Name:      name,
			Tag:       p.tag.extract(item),
			SourceURL: page.FinalURL,
		}
		if len(p.fields) > 0 {
			r.Fields = make(map[string]string, len(p.fields))
			for _, f := range p.fields {
				if v := f.extract(item); v != "" {
					r.Fields[f.name] = v
				}
			}
		}
		records = append(records, r)
	})
	return records, errs
}

// extract 返回选择器匹配的第一个元素的文本或属性，空白被折叠。
// 选择器为空时作用于 item 本身；tag 选择器为空时返回 ""。
func (f fieldSelector) extract(item *goquery.Selection) string {
	sel := item
	if f.selector != "" {
		sel = item.Find(f.selector).First()
	} else if f.name == "tag" && f.attr == "" {
		return ""
	}
	if sel.Length() == 0 {
		return ""
	}
	var raw string
	if f.attr != "" {
		raw, _ = sel.Attr(f.attr)
	} else {
		raw = sel.Text()
	}
	return strings.Join(strings.Fields(raw), " ")
}
