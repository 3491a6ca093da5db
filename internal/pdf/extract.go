package pdf

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractResult は1ファイル分のページテキスト抽出結果です。
type ExtractResult struct {
	NumPages int      `json:"numPages"`
	Pages    []string `json:"pages"`
}

// Extractor はPDFバイト列の検証とページ単位のテキスト抽出を行います。
type Extractor struct {
	maxFileSize int64
	maxPages    int
}

// NewExtractor は Extractor を作成します。0 は制限なしを意味します。
func NewExtractor(maxFileSize int64, maxPages int) *Extractor {
	return &Extractor{
		maxFileSize: maxFileSize,
		maxPages:    maxPages,
	}
}

// Validate はサイズとマジックバイトでPDFかどうかを検証します。
func (e *Extractor) Validate(data []byte) error {
	if len(data) == 0 {
		return newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	if e.maxFileSize > 0 && int64(len(data)) > e.maxFileSize {
		return newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ファイルサイズが上限(%dMB)を超えています。", e.maxFileSize/(1024*1024)), nil)
	}
	if !mimetype.Detect(data).Is("application/pdf") {
		return newError("INVALID_INPUT", "PDF形式のファイルのみアップロードできます。", nil)
	}
	return nil
}

// Extract は検証済みのPDFからページごとのテキストを抽出します。
func (e *Extractor) Extract(data []byte) (*ExtractResult, error) {
	if err := e.Validate(data); err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを読み込めませんでした。", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, newError("INVALID_INPUT", "破損したPDFファイルです。", err)
	}

	numPages := ctx.PageCount
	if e.maxPages > 0 && numPages > e.maxPages {
		return nil, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ページ数が上限(%dページ)を超えています。", e.maxPages), nil)
	}

	pages := make([]string, 0, numPages)
	for pageNr := 1; pageNr <= numPages; pageNr++ {
		reader, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			return nil, fmt.Errorf("extract page %d content: %w", pageNr, err)
		}
		if reader == nil {
			pages = append(pages, "")
			continue
		}
		content, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("read page %d content: %w", pageNr, err)
		}
		pages = append(pages, scrapeText(content))
	}

	return &ExtractResult{NumPages: numPages, Pages: pages}, nil
}

// scrapeText はコンテンツストリーム中のリテラル文字列を拾い集めます。
// テキスト描画演算子のオペランドを対象とする簡易的な抽出です。
func scrapeText(content []byte) string {
	var sb strings.Builder
	depth := 0
	escaped := false
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(text)
		}
		current.Reset()
	}

	for i := 0; i < len(content); i++ {
		b := content[i]
		if depth == 0 {
			if b == '(' {
				depth = 1
			}
			continue
		}
		if escaped {
			switch b {
			case 'n':
				current.WriteByte('\n')
			case 't':
				current.WriteByte('\t')
			case 'r', 'b', 'f':
				// 制御文字は空白扱い
				current.WriteByte(' ')
			case '(', ')', '\\':
				current.WriteByte(b)
			default:
				// 8進表記などはそのまま捨てる
			}
			escaped = false
			continue
		}
		switch b {
		case '\\':
			escaped = true
		case '(':
			depth++
			current.WriteByte(b)
		case ')':
			depth--
			if depth == 0 {
				flush()
			} else {
				current.WriteByte(b)
			}
		default:
			current.WriteByte(b)
		}
	}
	return sb.String()
}
