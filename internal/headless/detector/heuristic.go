// Package detector decides when a listing page fetched over plain HTTP needs a browser.
package detector

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/comic-tracker/internal/fetcher"
)

const (
	defaultShellBytes = 2048
	// scriptSharePercent is the share of a small body that must be <script> for it to count as a shell.
	scriptSharePercent = 25
)

// mountPoints are the root elements client-side frameworks render listings into.
var mountPoints = cascadia.MustCompile(`#__next, #__nuxt, #root, #app, [data-reactroot], [ng-version]`)

// Heuristic recognizes listing pages whose items are rendered client side.
type Heuristic struct {
	// ShellBytes is the body size under which a script-dominated page counts as a shell.
	ShellBytes int
}

// NewHeuristic creates a new detector. A zero size uses 2048 bytes.
func NewHeuristic(shellBytes int) *Heuristic {
	if shellBytes <= 0 {
		shellBytes = defaultShellBytes
	}
	return &Heuristic{ShellBytes: shellBytes}
}

// ShouldPromote reports whether doc is a listing shell: a successful plain fetch where
// itemSelector matches nothing while the page carries a framework mount point or is mostly script.
// An empty or invalid itemSelector skips the item check.
func (h *Heuristic) ShouldPromote(doc fetcher.Document, itemSelector string) bool {
	if doc.Empty || doc.Headless || doc.Status < 200 || doc.Status > 299 {
		return false
	}
	if len(bytes.TrimSpace(doc.Body)) == 0 {
		return true
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return false
	}
	if itemSelector != "" {
		if items, err := cascadia.Compile(itemSelector); err == nil && page.FindMatcher(items).Length() > 0 {
			return false
		}
	}
	if page.FindMatcher(mountPoints).Length() > 0 {
		return true
	}
	return len(doc.Body) < h.ShellBytes && scriptHeavy(page, len(doc.Body))
}

func scriptHeavy(page *goquery.Document, size int) bool {
	var scripted int
	page.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			scripted += len(html)
		}
	})
	return scripted > 0 && scripted*100/size >= scriptSharePercent
}
