package transform

import (
	"bytes"
	"strings"
	"testing"

	"classvault/internal/overlay"
)

const slideSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 960 540"><rect width="960" height="540" fill="#fff"/></svg>`

func TestProcessSVGInjectsOverlayBeforeClosingTag(t *testing.T) {
	req := SVGRequest{
		Watermark: watermarkSet(),
		Subs:      overlay.Context{User: "teacher@example.com"},
	}

	out, err := ProcessSVG([]byte(slideSVG), req, nil)
	if err != nil {
		t.Fatalf("process svg: %v", err)
	}

	s := string(out)
	layer := strings.Index(s, `<g data-layer="overlay">`)
	closing := strings.LastIndex(s, "</svg>")
	if layer < 0 {
		t.Fatal("overlay layer missing")
	}
	if layer > closing {
		t.Error("overlay must be injected before </svg>")
	}
	if !strings.Contains(s, "preview copy") {
		t.Error("watermark text missing")
	}
	if !strings.HasPrefix(s, "<svg") {
		t.Error("original document head lost")
	}
}

func TestProcessSVGSubstitutesAndEscapes(t *testing.T) {
	req := SVGRequest{
		Watermark: overlay.ElementSet{Elements: map[string][]overlay.Element{
			"watermark-text": {{
				ID:       "w1",
				Content:  `<b>{{user}} & "friends"</b>`,
				Position: overlay.Position{X: 50, Y: 50},
			}},
		}},
		Subs: overlay.Context{User: "a@b.c"},
	}

	out, err := ProcessSVG([]byte(slideSVG), req, nil)
	if err != nil {
		t.Fatalf("process svg: %v", err)
	}

	s := string(out)
	if !strings.Contains(s, "&lt;b&gt;a@b.c &amp; &quot;friends&quot;&lt;/b&gt;") {
		t.Errorf("content not escaped: %s", s)
	}
	if strings.Contains(s, "<b>") {
		t.Error("raw markup leaked into the slide")
	}
}

func TestProcessSVGEmptySetPassthrough(t *testing.T) {
	out, err := ProcessSVG([]byte(slideSVG), SVGRequest{}, nil)
	if err != nil {
		t.Fatalf("process svg: %v", err)
	}
	if !bytes.Equal(out, []byte(slideSVG)) {
		t.Error("empty element set should pass the slide through unchanged")
	}
}

func TestProcessSVGCorruptInput(t *testing.T) {
	cases := map[string][]byte{
		"not svg at all":  []byte("PK\x03\x04 zip bytes"),
		"missing closing": []byte("<svg><rect/>"),
	}
	for name, data := range cases {
		if _, err := ProcessSVG(data, SVGRequest{Watermark: watermarkSet()}, nil); !IsCorrupt(err) {
			t.Errorf("%s: expected CorruptDocumentError, got %v", name, err)
		}
	}
}

func TestProcessSVGLinkElements(t *testing.T) {
	req := SVGRequest{
		Branding: overlay.ElementSet{Elements: map[string][]overlay.Element{
			"url": {{
				ID:       "u1",
				Content:  "visit us",
				Href:     "{{FRONTEND_URL}}/store",
				Position: overlay.Position{X: 10, Y: 90},
			}},
		}},
		Subs: overlay.Context{FrontendURL: "https://shop.test"},
	}

	out, err := ProcessSVG([]byte(slideSVG), req, nil)
	if err != nil {
		t.Fatalf("process svg: %v", err)
	}
	if !strings.Contains(string(out), `<a href="https://shop.test/store">`) {
		t.Errorf("link element missing: %s", out)
	}
}

func TestPlaceholderSlideIsStandaloneSVG(t *testing.T) {
	if !strings.Contains(PlaceholderSlideSVG, "<svg") || !strings.Contains(PlaceholderSlideSVG, "</svg>") {
		t.Error("placeholder must be a complete svg document")
	}
}
