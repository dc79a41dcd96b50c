package docbuild

import (
	"fmt"
	"strings"
	"time"
)

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const stylesheet = `body {
  font-family: Georgia, "Times New Roman", serif;
  line-height: 1.5;
  margin: 1em;
}

h1 {
  font-family: "Helvetica Neue", Helvetica, Arial, sans-serif;
  font-size: 1.4em;
  border-bottom: 1px solid #ccc;
}

.span {
  color: #666;
  font-size: 0.85em;
}

.note {
  font-style: italic;
  border-left: 3px solid #ccc;
  padding-left: 1em;
}

figure {
  margin: 1em 0;
  text-align: center;
}

figure img {
  max-width: 100%;
}

figcaption {
  font-size: 0.85em;
}
`

// xhtmlBlock is one rendered element of a page: a text paragraph group, an
// image with caption, or a note with an optional link.
type xhtmlBlock struct {
	Text    string
	Image   string
	Caption string
	Note    string
	Link    string
}

func pageXHTML(title, start, end string, blocks []xhtmlBlock) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", escapeXML(title))
	fmt.Fprintf(&sb, "<p class=\"span\">%s to %s</p>\n", start, end)

	for _, b := range blocks {
		switch {
		case b.Note != "":
			if b.Link != "" {
				fmt.Fprintf(&sb, "<p class=\"note\"><a href=\"%s\">%s</a></p>\n", b.Link, escapeXML(b.Note))
			} else {
				fmt.Fprintf(&sb, "<p class=\"note\">%s</p>\n", escapeXML(b.Note))
			}
		case b.Image != "":
			fmt.Fprintf(&sb, "<figure><img src=\"%s\" alt=\"%s\"/><figcaption>%s</figcaption></figure>\n",
				b.Image, escapeXML(b.Caption), escapeXML(b.Caption))
		default:
			for _, para := range strings.Split(b.Text, "\n\n") {
				para = strings.TrimSpace(para)
				if para == "" {
					continue
				}
				lines := strings.Split(para, "\n")
				for i := range lines {
					lines[i] = escapeXML(strings.TrimSpace(lines[i]))
				}
				fmt.Fprintf(&sb, "<p>%s</p>\n", strings.Join(lines, "<br/>"))
			}
		}
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func packageOPF(cfg EPUBConfig, lang string, modified time.Time, pages []epubPage) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	fmt.Fprintf(&sb, "    <dc:identifier id=\"pub-id\">%s</dc:identifier>\n", escapeXML(cfg.ID))
	fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", escapeXML(cfg.Title))
	fmt.Fprintf(&sb, "    <dc:creator>%s</dc:creator>\n", escapeXML(cfg.Author))
	fmt.Fprintf(&sb, "    <dc:language>%s</dc:language>\n", lang)
	fmt.Fprintf(&sb, "    <meta property=\"dcterms:modified\">%s</meta>\n", modified.Format("2006-01-02T15:04:05Z"))
	sb.WriteString("  </metadata>\n\n  <manifest>\n")
	sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	sb.WriteString("    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\"/>\n")
	sb.WriteString("    <item id=\"style\" href=\"styles/style.css\" media-type=\"text/css\"/>\n")
	for _, p := range pages {
		fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"pages/%s.xhtml\" media-type=\"application/xhtml+xml\"/>\n", p.ID, p.ID)
		for i, img := range p.Images {
			fmt.Fprintf(&sb, "    <item id=\"%s_img%d\" href=\"%s\" media-type=\"image/png\"/>\n", p.ID, i, img)
		}
	}
	sb.WriteString("  </manifest>\n\n  <spine toc=\"ncx\">\n")
	for _, p := range pages {
		fmt.Fprintf(&sb, "    <itemref idref=\"%s\"/>\n", p.ID)
	}
	sb.WriteString("  </spine>\n</package>\n")
	return sb.String()
}

func navXHTML(pages []epubPage) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>Pages</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>Pages</h1>
    <ol>
`)
	for _, p := range pages {
		fmt.Fprintf(&sb, "      <li><a href=\"pages/%s.xhtml\">%s</a></li>\n", p.ID, escapeXML(p.Title))
	}
	sb.WriteString("    </ol>\n  </nav>\n</body>\n</html>\n")
	return sb.String()
}

// tocNCX is the ePub 2 navigation map.
func tocNCX(cfg EPUBConfig, pages []epubPage) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
`)
	fmt.Fprintf(&sb, "    <meta name=\"dtb:uid\" content=\"%s\"/>\n", escapeXML(cfg.ID))
	sb.WriteString("    <meta name=\"dtb:depth\" content=\"1\"/>\n")
	fmt.Fprintf(&sb, "    <meta name=\"dtb:totalPageCount\" content=\"%d\"/>\n", len(pages))
	fmt.Fprintf(&sb, "  </head>\n  <docTitle>\n    <text>%s</text>\n  </docTitle>\n  <navMap>\n", escapeXML(cfg.Title))
	for i, p := range pages {
		fmt.Fprintf(&sb, "    <navPoint id=\"navpoint-%d\" playOrder=\"%d\">\n", i+1, i+1)
		fmt.Fprintf(&sb, "      <navLabel><text>%s</text></navLabel>\n", escapeXML(p.Title))
		fmt.Fprintf(&sb, "      <content src=\"pages/%s.xhtml\"/>\n", p.ID)
		sb.WriteString("    </navPoint>\n")
	}
	sb.WriteString("  </navMap>\n</ncx>\n")
	return sb.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;", "'", "&apos;")
	return r.Replace(s)
}
