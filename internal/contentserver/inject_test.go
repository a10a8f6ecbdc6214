package contentserver

import (
	"strings"
	"testing"

	"github.com/pseudocoder/livereload/internal/config"
)

const testScript = "<script>\nX\n</script>"

func TestInjectScript(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "before head",
			doc:  "<html><head><title>t</title></head><body></body></html>",
			want: "<html><head><title>t</title>" + testScript + "\n</head><body></body></html>",
		},
		{
			name: "uppercase head keeps original casing",
			doc:  "<HTML><HEAD></HEAD><BODY></BODY></HTML>",
			want: "<HTML><HEAD>" + testScript + "\n</HEAD><BODY></BODY></HTML>",
		},
		{
			name: "body when no head",
			doc:  "<body><p>hi</p></Body>",
			want: "<body><p>hi</p>" + testScript + "\n</Body>",
		},
		{
			name: "append when neither",
			doc:  "<p>fragment</p>",
			want: "<p>fragment</p>\n" + testScript,
		},
		{
			name: "only first head",
			doc:  "<head></head><template></head></template>",
			want: "<head>" + testScript + "\n</head><template></head></template>",
		},
		{
			name: "empty document",
			doc:  "",
			want: "\n" + testScript,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InjectScript(tt.doc, testScript); got != tt.want {
				t.Errorf("InjectScript() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestInjectScriptRoundTrip(t *testing.T) {
	doc := "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n</head>\n<body>ünïcödé</body>\n</html>\n"
	got := InjectScript(doc, testScript)

	i := strings.Index(got, testScript)
	if i < 0 {
		t.Fatal("script not found")
	}
	restored := got[:i] + got[i+len(testScript)+1:]
	if restored != doc {
		t.Errorf("document changed outside the insertion:\n%q", restored)
	}
	if !strings.HasPrefix(got[i+len(testScript):], "\n</head>") {
		t.Error("script must sit immediately before </head>")
	}
}

func TestRenderScript(t *testing.T) {
	script, err := RenderScript(4081, ScriptOptions{
		ReconnectAttempts: 0,
		Indicator:         config.BottomLeft,
		ShowIndicator:     false,
	})
	if err != nil {
		t.Fatalf("RenderScript: %v", err)
	}

	for _, want := range []string{
		"<script>\n",
		"\n</script>",
		"ws://localhost:4081",
		"var maxAttempts = 0;",
		"var showIndicator = false;",
		"bottom: 10px; left: 10px;",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("rendered script missing %q", want)
		}
	}
	if strings.Contains(script, "{{") {
		t.Error("unrendered template action left in script")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"index.html":   "text/html; charset=utf-8",
		"APP.CSS":      "text/css; charset=utf-8",
		"main.js":      "application/javascript; charset=utf-8",
		"data.json":    "application/json; charset=utf-8",
		"logo.png":     "image/png",
		"photo.jpeg":   "image/jpeg",
		"icon.svg":     "image/svg+xml",
		"font.woff2":   "font/woff2",
		"feed.xml":     "application/xml",
		"readme.txt":   "text/plain; charset=utf-8",
		"archive.zip":  "application/octet-stream",
		"no-extension": "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestPlaceholderEscapesPath(t *testing.T) {
	page := placeholderHTML("/<script>alert(1)</script>.html")
	if strings.Contains(page, "<script>alert") {
		t.Error("request path must be HTML-escaped")
	}
	if !strings.Contains(page, "&lt;script&gt;") {
		t.Error("escaped path missing from placeholder")
	}
}
