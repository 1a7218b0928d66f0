package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/jinford/curriculum-rag/internal/module/document/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		filename string
		want     Format
		ok       bool
	}{
		{"mime wins", "application/pdf", "a.txt", FormatPDF, true},
		{"mime with params", "text/plain; charset=utf-8", "", FormatText, true},
		{"extension fallback", "application/octet-stream", "方案.DOCX", FormatDOCX, true},
		{"markdown ext", "", "notes.md", FormatMarkdown, true},
		{"unknown", "image/png", "logo.png", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFormat(tt.mimeType, tt.filename)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_Extract_Markdown(t *testing.T) {
	src := "# 课程目标\n\n培养**核心素养**，落实立德树人。\n\n- 五育并举\n- 课程整合\n\n```\ncode line\n```\n"
	doc := &domain.Document{OriginalName: "plan.md", MimeType: "text/markdown"}

	text, err := NewRegistry().Extract(context.Background(), doc, []byte(src))

	require.NoError(t, err)
	assert.Contains(t, text, "课程目标")
	assert.Contains(t, text, "培养核心素养，落实立德树人。")
	assert.Contains(t, text, "五育并举")
	assert.Contains(t, text, "code line")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "#")
}

func TestRegistry_Extract_HTML(t *testing.T) {
	src := `<html><head><style>p{color:red}</style><script>var x=1;</script></head>
<body><h1>学校简介</h1><p>办学理念 &amp; 特色</p></body></html>`
	doc := &domain.Document{Filename: "intro.html"}

	text, err := NewRegistry().Extract(context.Background(), doc, []byte(src))

	require.NoError(t, err)
	assert.Contains(t, text, "学校简介")
	assert.Contains(t, text, "办学理念 & 特色")
	assert.NotContains(t, text, "color")
	assert.NotContains(t, text, "var x")
}

func TestRegistry_Extract_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "课程名称"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "课时"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "科学探究"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 32))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	doc := &domain.Document{OriginalName: "courses.xlsx"}
	text, err := NewRegistry().Extract(context.Background(), doc, buf.Bytes())

	require.NoError(t, err)
	assert.Contains(t, text, "## Sheet1")
	assert.Contains(t, text, "课程名称\t课时")
	assert.Contains(t, text, "科学探究\t32")
}

func TestRegistry_Extract_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document><w:body><w:p><w:r><w:t>第一段</w:t></w:r></w:p><w:p><w:r><w:t>第二段 &lt;重点&gt;</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	w, err = zw.Create("word/_rels/document.xml.rels")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<Relationships/>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc := &domain.Document{OriginalName: "plan.docx"}
	text, err := NewRegistry().Extract(context.Background(), doc, buf.Bytes())

	require.NoError(t, err)
	assert.Contains(t, text, "第一段\n")
	assert.Contains(t, text, "第二段 <重点>")
	assert.NotContains(t, text, "<w:")
}

func TestRegistry_Extract_UnsupportedIsTerminal(t *testing.T) {
	doc := &domain.Document{OriginalName: "logo.png", MimeType: "image/png"}

	_, err := NewRegistry().Extract(context.Background(), doc, []byte{0x89, 'P', 'N', 'G'})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedContent)
}

func TestRegistry_Extract_CorruptFileIsUnsupported(t *testing.T) {
	doc := &domain.Document{OriginalName: "broken.pdf", MimeType: "application/pdf"}

	_, err := NewRegistry().Extract(context.Background(), doc, []byte("not a pdf"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedContent)
}

func TestRegistry_Extract_EmptyText(t *testing.T) {
	doc := &domain.Document{OriginalName: "empty.txt"}

	_, err := NewRegistry().Extract(context.Background(), doc, []byte("  \n "))

	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}
