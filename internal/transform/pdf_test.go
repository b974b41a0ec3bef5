package transform

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"classvault/internal/access"
	"classvault/internal/overlay"
)

func watermarkSet() overlay.ElementSet {
	return overlay.ElementSet{Elements: map[string][]overlay.Element{
		"watermark-text": {{
			ID:       "w1",
			Content:  "preview copy",
			Position: overlay.Position{X: 50, Y: 50},
		}},
	}}
}

func TestProcessPDFPassthroughWhenNoGates(t *testing.T) {
	original := []byte("not even a pdf")

	result, err := ProcessPDF(original, PDFRequest{
		Access: access.Decision{Level: access.Full},
	}, nil)
	if err != nil {
		t.Fatalf("passthrough must not touch the bytes: %v", err)
	}
	if !bytes.Equal(result.Data, original) {
		t.Error("passthrough changed the buffer")
	}
	if result.FellBack || result.Restricted || result.Overlaid {
		t.Errorf("unexpected flags: %+v", result)
	}
}

func TestProcessPDFMissingMagicIsCorrupt(t *testing.T) {
	_, err := ProcessPDF([]byte("<html>not a pdf</html>"), PDFRequest{
		Access:    access.Decision{Level: access.Preview},
		Watermark: watermarkSet(),
	}, nil)
	if !IsCorrupt(err) {
		t.Fatalf("expected CorruptDocumentError, got %v", err)
	}
}

func TestProcessPDFCorruptNeverServedEvenToFullAccess(t *testing.T) {
	// 文件头缺失时连完整访问者也拿不到回退原件。
	_, err := ProcessPDF([]byte("garbage"), PDFRequest{
		Access:      access.Decision{Level: access.Full},
		AddBranding: true,
		Branding:    watermarkSet(),
	}, nil)
	if !IsCorrupt(err) {
		t.Fatalf("expected CorruptDocumentError, got %v", err)
	}
}

func TestProcessPDFBrokenBodyFallsBackForFullAccess(t *testing.T) {
	// 头部完好但内容无法解析：完整访问者收到原始字节并标记回退。
	original := []byte("%PDF-1.7\nthis is not a real pdf body")

	result, err := ProcessPDF(original, PDFRequest{
		Access:      access.Decision{Level: access.Full},
		AddBranding: true,
		Branding:    watermarkSet(),
	}, nil)
	if err != nil {
		if IsCorrupt(err) {
			// pdfcpu 将其归类为损坏也符合阶梯：损坏绝不回退。
			return
		}
		t.Fatalf("unexpected error class: %v", err)
	}
	if !result.FellBack {
		t.Error("expected fallback flag for full-access caller")
	}
	if !bytes.Equal(result.Data, original) {
		t.Error("fallback must serve the original bytes")
	}
}

func TestProcessPDFBrokenBodyRefusedForPreview(t *testing.T) {
	original := []byte("%PDF-1.7\nthis is not a real pdf body")

	_, err := ProcessPDF(original, PDFRequest{
		Access:    access.Decision{Level: access.Preview},
		Watermark: watermarkSet(),
	}, nil)
	if err == nil {
		t.Fatal("preview transform failure must never serve bytes")
	}
	if !IsCorrupt(err) && !errors.Is(err, ErrUnsafeToServe) {
		t.Fatalf("expected corrupt or unsafe-to-serve, got %v", err)
	}
}

func TestCorruptDocumentError(t *testing.T) {
	inner := errors.New("xref broken")
	err := &CorruptDocumentError{Reason: "validation failed", Err: inner}

	if !IsCorrupt(err) {
		t.Error("IsCorrupt should match CorruptDocumentError")
	}
	if !errors.Is(err, inner) {
		t.Error("wrapped cause should unwrap")
	}
	if IsCorrupt(errors.New("unrelated")) {
		t.Error("IsCorrupt matched an unrelated error")
	}
}

func TestSelectPages(t *testing.T) {
	cases := []struct {
		name  string
		pages []int
		total int
		want  []string
	}{
		{"zero based to one based", []int{0, 1, 4}, 5, []string{"1", "2", "5"}},
		{"out of range dropped", []int{-1, 0, 7}, 3, []string{"1"}},
		{"order preserved", []int{3, 0, 2}, 5, []string{"4", "1", "3"}},
		{"all out of range", []int{9, 10}, 3, []string{}},
	}
	for _, tc := range cases {
		got := selectPages(tc.pages, tc.total)
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
				break
			}
		}
	}
}

// minimalPDF 构造一个无内容流的合法多页 PDF，交叉引用表偏移在运行时计算。
func minimalPDF(pageCount int) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, pageCount+2)

	addObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	addObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+i))
	}
	addObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), pageCount))

	for i := 0; i < pageCount; i++ {
		addObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] >>\nendobj\n", 3+i))
	}

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xrefPos)
	return buf.Bytes()
}

func pageCountOf(t *testing.T, data []byte) int {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		t.Fatalf("page count: %v", err)
	}
	return count
}

func TestProcessPDFPreviewTrimsAndWatermarks(t *testing.T) {
	original := minimalPDF(3)

	result, err := ProcessPDF(original, PDFRequest{
		Access:    access.Decision{Level: access.Preview, AccessiblePages: []int{0, 2}},
		Watermark: watermarkSet(),
		Subs:      overlay.Context{User: "student@example.com"},
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if !result.Restricted || !result.Overlaid || result.FellBack {
		t.Errorf("flags = %+v", result)
	}
	if got := pageCountOf(t, result.Data); got != 2 {
		t.Errorf("restricted document has %d pages, want 2", got)
	}
}

func TestProcessPDFPreviewRestrictionWithoutWatermark(t *testing.T) {
	original := minimalPDF(3)

	result, err := ProcessPDF(original, PDFRequest{
		Access:         access.Decision{Level: access.Preview, AccessiblePages: []int{1}},
		SkipWatermarks: true,
		Watermark:      watermarkSet(),
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if !result.Restricted || result.Overlaid {
		t.Errorf("flags = %+v", result)
	}
	if got := pageCountOf(t, result.Data); got != 1 {
		t.Errorf("restricted document has %d pages, want 1", got)
	}
}

func TestProcessPDFBrandingOnFullAccess(t *testing.T) {
	original := minimalPDF(2)

	branding := overlay.ElementSet{Elements: map[string][]overlay.Element{
		"copyright-text": {{
			ID:       "b1",
			Content:  "{{FRONTEND_URL}}",
			Position: overlay.Position{X: 50, Y: 96},
		}},
	}}

	result, err := ProcessPDF(original, PDFRequest{
		Access:      access.Decision{Level: access.Full},
		AddBranding: true,
		Branding:    branding,
		Subs:        overlay.Context{FrontendURL: "https://shop.test"},
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.Restricted || !result.Overlaid || result.FellBack {
		t.Errorf("flags = %+v", result)
	}
	if got := pageCountOf(t, result.Data); got != 2 {
		t.Errorf("full access must keep all pages, got %d", got)
	}
}

func TestProcessPDFAllPagesOutOfRangeRefusedForPreview(t *testing.T) {
	original := minimalPDF(2)

	_, err := ProcessPDF(original, PDFRequest{
		Access: access.Decision{Level: access.Preview, AccessiblePages: []int{5, 9}},
	}, nil)
	if !errors.Is(err, ErrUnsafeToServe) {
		t.Errorf("expected ErrUnsafeToServe, got %v", err)
	}
}
