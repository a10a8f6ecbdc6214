package contentserver

import (
	_ "embed"
	"html"
	"strings"
	"text/template"

	"github.com/pseudocoder/livereload/internal/config"
)

//go:embed client.js
var clientSource string

var clientTemplate = template.Must(template.New("client.js").Parse(clientSource))

// ScriptOptions controls the rendered client script.
type ScriptOptions struct {
	// ReconnectAttempts caps browser reconnects; 0 means unlimited.
	ReconnectAttempts int
	Indicator         config.IndicatorPosition
	ShowIndicator     bool
}

// DefaultScriptOptions matches the config defaults.
func DefaultScriptOptions() ScriptOptions {
	return ScriptOptions{
		ReconnectAttempts: config.DefaultReconnectAttempts,
		Indicator:         config.TopRight,
		ShowIndicator:     true,
	}
}

// ScriptOptionsFrom extracts the client settings from a config snapshot.
func ScriptOptionsFrom(cfg config.ServerConfig) ScriptOptions {
	return ScriptOptions{
		ReconnectAttempts: cfg.ReconnectAttempts,
		Indicator:         cfg.IndicatorPosition,
		ShowIndicator:     cfg.ShowIndicator,
	}
}

// RenderScript returns the complete <script> block for a page served while
// the hub listens on wsPort.
func RenderScript(wsPort int, opts ScriptOptions) (string, error) {
	var b strings.Builder
	b.WriteString("<script>\n")
	err := clientTemplate.Execute(&b, struct {
		WebSocketPort     int
		ReconnectAttempts int
		ShowIndicator     bool
		PositionCSS       string
	}{
		WebSocketPort:     wsPort,
		ReconnectAttempts: opts.ReconnectAttempts,
		ShowIndicator:     opts.ShowIndicator,
		PositionCSS:       opts.Indicator.CSS(),
	})
	if err != nil {
		return "", err
	}
	b.WriteString("\n</script>")
	return b.String(), nil
}

// InjectScript inserts script before the first </head>, or before the first
// </body> if there is no head, or appends it on a new line. Tags match
// case-insensitively and the rest of the document is left untouched.
func InjectScript(doc, script string) string {
	for _, tag := range []string{"</head>", "</body>"} {
		if i := indexFold(doc, tag); i >= 0 {
			return doc[:i] + script + "\n" + doc[i:]
		}
	}
	return doc + "\n" + script
}

// indexFold is strings.Index with ASCII case folding. tag must be lowercase.
func indexFold(s, tag string) int {
	n := len(tag)
	for i := 0; i+n <= len(s); i++ {
		match := true
		for j := 0; j < n; j++ {
			c := s[i+j]
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != tag[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

const placeholderPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Live reload - file not found</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', system-ui, sans-serif; margin: 0; padding: 40px; background: #f5f5f5; color: #333; }
.box { max-width: 600px; margin: 0 auto; background: #fff; padding: 32px; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
h1 { margin-top: 0; color: #c0392b; font-size: 22px; }
code { display: block; background: #f8f9fa; padding: 10px; border-radius: 4px; word-break: break-all; }
</style>
</head>
<body>
<div class="box">
<h1>File not found</h1>
<code>%s</code>
<p>Live reload is watching the project. Create the file and this page reloads automatically.</p>
</div>
</body>
</html>
`

// placeholderHTML is the page served for a missing navigational request.
func placeholderHTML(requestPath string) string {
	return strings.Replace(placeholderPage, "%s", html.EscapeString(requestPath), 1)
}
