package staticfile

import (
	"bytes"
	"fmt"
	"html"
	"io/fs"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
)

// generateDirectoryListing renders the HTML index for a directory. urlPath is
// the request path without its leading slash. Entries keep the order given.
func generateDirectoryListing(urlPath string, entries []fs.DirEntry, showSizes bool) []byte {
	title := html.EscapeString("Index of /" + urlPath)
	base := strings.TrimSuffix(urlPath, "/")

	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<base href=\"/\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", title)
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "<h2>%s</h2>\n", title)
	b.WriteString("<ul>\n")
	for _, entry := range entries {
		name := entry.Name()
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a>", entryHref(base, name), html.EscapeString(name))
		if showSizes && entry.Type().IsRegular() {
			if info, err := entry.Info(); err == nil {
				fmt.Fprintf(&b, " (%s)", humanize.Bytes(uint64(info.Size())))
			}
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	return b.Bytes()
}

// entryHref is "<base>/<name>", or just "<name>" at the root, escaped for use
// inside a double-quoted attribute. A colon in the first segment gets a "./"
// prefix so the link cannot be read as a scheme.
func entryHref(base, name string) string {
	link := name
	if base != "" {
		link = base + "/" + name
	}
	escaped := (&url.URL{Path: link}).EscapedPath()
	if first, _, _ := strings.Cut(escaped, "/"); strings.Contains(first, ":") {
		escaped = "./" + escaped
	}
	return html.EscapeString(escaped)
}
