package comic

import (
	"fmt"
	"strings"
)

// Publisher identifies a source site. The set is closed.
type Publisher int

// Known publishers. Values match the integer codes persisted in both stores.
const (
	PublisherUnknown Publisher = iota
	PublisherAsura
	PublisherReaperScans
	PublisherManhuaPlus
	PublisherFlameScans
	PublisherLuminousScans
	PublisherResetScans
	PublisherIsekaiScan
	PublisherRealmScans
	PublisherLeviatanScans
	PublisherNightScans
	PublisherVoidScans
	PublisherDrakeScans
	PublisherNovelMic
	PublisherMangagreat
	PublisherMangageko
	PublisherMangarolls
	PublisherManganato
	PublisherFirstKiss
	PublisherDemonicScans
)

var publisherNames = [...]string{
	"Unknown",
	"Asura",
	"ReaperScans",
	"ManhuaPlus",
	"FlameScans",
	"LuminousScans",
	"ResetScans",
	"IsekaiScan",
	"RealmScans",
	"LeviatanScans",
	"NightScans",
	"VoidScans",
	"DrakeScans",
	"NovelMic",
	"Mangagreat",
	"Mangageko",
	"Mangarolls",
	"Manganato",
	"FirstKiss",
	"DemonicScans",
}

// Publishers returns every known publisher except Unknown.
func Publishers() []Publisher {
	out := make([]Publisher, 0, len(publisherNames)-1)
	for i := 1; i < len(publisherNames); i++ {
		out = append(out, Publisher(i))
	}
	return out
}

// String returns the canonical publisher name.
func (p Publisher) String() string {
	if p < 0 || int(p) >= len(publisherNames) {
		return publisherNames[0]
	}
	return publisherNames[p]
}

// ParsePublisher resolves a publisher name case-insensitively.
func ParsePublisher(name string) (Publisher, error) {
	name = strings.TrimSpace(name)
	for i, n := range publisherNames {
		if i > 0 && strings.EqualFold(n, name) {
			return Publisher(i), nil
		}
	}
	return PublisherUnknown, fmt.Errorf("unknown publisher %q", name)
}

// PublisherNames renders a publisher set as "[A, B]".
func PublisherNames(pubs []Publisher) string {
	names := make([]string, 0, len(pubs))
	for _, p := range pubs {
		names = append(names, p.String())
	}
	return "[" + strings.Join(names, ", ") + "]"
}
