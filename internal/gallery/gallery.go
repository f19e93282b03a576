// Package gallery renders the shareable HTML document listing a
// session's derivatives — a local variant using relative hrefs into
// the session's own share/ directory, and a cloud variant using
// presigned URLs for remote viewers.
package gallery

import (
	"html/template"
	"io"
	"sort"
	"time"
)

// Item is one photo to list in the gallery: a thumbnail, its full-size
// share derivative, and optional capture metadata.
type Item struct {
	RelPath       string // e.g. "100CANON/IMG_0001.JPG", used for local hrefs and as a stable sort key
	ThumbHref     string
	ShareHref     string
	EnhancedHref  string // optional cloud-side enhanced sibling; empty if none exists
	CapturedAt    time.Time
	HasCapturedAt bool
	Camera        string
}

// sentinel is used to sort items lacking EXIF capture time after all
// items that have one, per the ordering rule in the concurrency model.
var sentinel = time.Unix(1<<62, 0)

func (it Item) sortKey() time.Time {
	if it.HasCapturedAt {
		return it.CapturedAt
	}
	return sentinel
}

// Sort orders items by (captured_at or sentinel, relative path),
// matching the pipeline's deterministic iteration order.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := items[i].sortKey(), items[j].sortKey()
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return items[i].RelPath < items[j].RelPath
	})
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en" data-theme="auto">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
  :root { color-scheme: light dark; }
  body { margin: 0; font-family: system-ui, sans-serif; background: Canvas; color: CanvasText; }
  a.skip-link { position: absolute; left: -999px; }
  a.skip-link:focus { left: 1rem; top: 1rem; background: Field; padding: .5rem; z-index: 10; }
  header { padding: 1rem; }
  .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(160px, 1fr)); gap: 8px; padding: 1rem; }
  .grid a { display: block; }
  .grid img { width: 100%; height: 160px; object-fit: cover; border-radius: 6px; background: #8884; }
  figcaption { font-size: .75rem; opacity: .7; margin-top: 2px; }
</style>
</head>
<body>
<a class="skip-link" href="#gallery">Skip to photos</a>
<header><h1>{{.Title}}</h1><p>{{len .Items}} photos</p></header>
<main id="gallery" class="grid">
{{range .Items}}<figure><a href="{{.ShareHref}}"><img loading="lazy" src="{{.ThumbHref}}" alt=""></a>
{{if .EnhancedHref}}<figcaption><a href="{{.EnhancedHref}}">enhanced</a></figcaption>{{end}}
</figure>
{{end}}
</main>
</body>
</html>
`

var tmpl = template.Must(template.New("gallery").Parse(pageTemplate))

type pageData struct {
	Title string
	Items []Item
}

// WriteHTML renders items (already sorted via Sort) as a gallery
// document to w.
func WriteHTML(w io.Writer, title string, items []Item) error {
	return tmpl.Execute(w, pageData{Title: title, Items: items})
}
