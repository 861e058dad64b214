package mirrors

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/romkeep/romkeep/internal/config"
)

// Collection path prefixes on the provider.
const (
	prefixNoIntro = "No-Intro"
	prefixRedump  = "Redump"
)

// catalog maps system names, as preservation DAT headers spell them, to the
// provider path holding that system's set. Several spellings alias the same
// path on purpose.
var catalog = map[string]string{
	// Nintendo cartridge
	"Nintendo - Nintendo Entertainment System (Headered)": prefixNoIntro + "/Nintendo%20-%20Nintendo%20Entertainment%20System%20(Headered)",
	"Nintendo - Nintendo Entertainment System":            prefixNoIntro + "/Nintendo%20-%20Nintendo%20Entertainment%20System%20(Headered)",
	"Nintendo - Family Computer Disk System (FDS)":        prefixNoIntro + "/Nintendo%20-%20Family%20Computer%20Disk%20System%20(FDS)",
	"Nintendo - Family Computer Disk System":              prefixNoIntro + "/Nintendo%20-%20Family%20Computer%20Disk%20System%20(FDS)",
	"Nintendo - Super Nintendo Entertainment System":      prefixNoIntro + "/Nintendo%20-%20Super%20Nintendo%20Entertainment%20System",
	"Nintendo - Game Boy":                                 prefixNoIntro + "/Nintendo%20-%20Game%20Boy",
	"Nintendo - Game Boy Color":                           prefixNoIntro + "/Nintendo%20-%20Game%20Boy%20Color",
	"Nintendo - Game Boy Advance":                         prefixNoIntro + "/Nintendo%20-%20Game%20Boy%20Advance",
	"Nintendo - Nintendo 64 (BigEndian)":                  prefixNoIntro + "/Nintendo%20-%20Nintendo%2064%20(BigEndian)",
	"Nintendo - Nintendo 64":                              prefixNoIntro + "/Nintendo%20-%20Nintendo%2064%20(BigEndian)",
	"Nintendo - Virtual Boy":                              prefixNoIntro + "/Nintendo%20-%20Virtual%20Boy",
	"Nintendo - Pokemon Mini":                             prefixNoIntro + "/Nintendo%20-%20Pokemon%20Mini",
	"Nintendo - Nintendo DS (Decrypted)":                  prefixNoIntro + "/Nintendo%20-%20Nintendo%20DS%20(Decrypted)",
	"Nintendo - Nintendo DS":                              prefixNoIntro + "/Nintendo%20-%20Nintendo%20DS%20(Decrypted)",
	"Nintendo - Nintendo DSi (Decrypted)":                 prefixNoIntro + "/Nintendo%20-%20Nintendo%20DSi%20(Decrypted)",
	"Nintendo - Nintendo DSi":                             prefixNoIntro + "/Nintendo%20-%20Nintendo%20DSi%20(Decrypted)",
	"Nintendo - Nintendo 3DS (Decrypted)":                 prefixNoIntro + "/Nintendo%20-%20Nintendo%203DS%20(Decrypted)",
	"Nintendo - Nintendo 3DS":                             prefixNoIntro + "/Nintendo%20-%20Nintendo%203DS%20(Decrypted)",

	// Nintendo disc
	"Nintendo - GameCube - NKit RVZ [zstd-19-128k]": prefixRedump + "/Nintendo%20-%20GameCube%20-%20NKit%20RVZ%20%5Bzstd-19-128k%5D",
	"Nintendo - GameCube":                           prefixRedump + "/Nintendo%20-%20GameCube%20-%20NKit%20RVZ%20%5Bzstd-19-128k%5D",
	"Nintendo - Wii - NKit RVZ [zstd-19-128k]":      prefixRedump + "/Nintendo%20-%20Wii%20-%20NKit%20RVZ%20%5Bzstd-19-128k%5D",
	"Nintendo - Wii":                                prefixRedump + "/Nintendo%20-%20Wii%20-%20NKit%20RVZ%20%5Bzstd-19-128k%5D",
	"Nintendo - Wii U - WUX":                        prefixRedump + "/Nintendo%20-%20Wii%20U%20-%20WUX",
	"Nintendo - Wii U":                              prefixRedump + "/Nintendo%20-%20Wii%20U%20-%20WUX",

	// Sony
	"Sony - PlayStation":          prefixRedump + "/Sony%20-%20PlayStation",
	"Sony - PlayStation 2":        prefixRedump + "/Sony%20-%20PlayStation%202",
	"Sony - PlayStation 3":        prefixRedump + "/Sony%20-%20PlayStation%203",
	"Sony - PlayStation Portable": prefixRedump + "/Sony%20-%20PlayStation%20Portable",
	"Sony - PlayStation Vita":     prefixNoIntro + "/Sony%20-%20PlayStation%20Vita%20(PSN)%20(Decrypted)",

	// Sega
	"Sega - Master System - Mark III": prefixNoIntro + "/Sega%20-%20Master%20System%20-%20Mark%20III",
	"Sega - Mega Drive - Genesis":     prefixNoIntro + "/Sega%20-%20Mega%20Drive%20-%20Genesis",
	"Sega - Game Gear":                prefixNoIntro + "/Sega%20-%20Game%20Gear",
	"Sega - 32X":                      prefixNoIntro + "/Sega%20-%2032X",
	"Sega - SG-1000":                  prefixNoIntro + "/Sega%20-%20SG-1000",
	"Sega - Mega CD & Sega CD":        prefixRedump + "/Sega%20-%20Mega%20CD%20%26%20Sega%20CD",
	"Sega - Mega-CD - Sega CD":        prefixRedump + "/Sega%20-%20Mega%20CD%20%26%20Sega%20CD",
	"Sega - Saturn":                   prefixRedump + "/Sega%20-%20Saturn",
	"Sega - Dreamcast":                prefixRedump + "/Sega%20-%20Dreamcast",

	// Microsoft
	"Microsoft - Xbox":     prefixRedump + "/Microsoft%20-%20Xbox",
	"Microsoft - Xbox 360": prefixRedump + "/Microsoft%20-%20Xbox%20360",

	// Atari
	"Atari - 2600":   prefixNoIntro + "/Atari%20-%202600",
	"Atari - 5200":   prefixNoIntro + "/Atari%20-%205200",
	"Atari - 7800":   prefixNoIntro + "/Atari%20-%207800",
	"Atari - Jaguar": prefixNoIntro + "/Atari%20-%20Jaguar",
	"Atari - Lynx":   prefixNoIntro + "/Atari%20-%20Lynx",
	"Atari - ST":     prefixNoIntro + "/Atari%20-%20ST",
	"Atari - Jaguar CD Interactive Multimedia System": prefixRedump + "/Atari%20-%20Jaguar%20CD%20Interactive%20Multimedia%20System",

	// NEC
	"NEC - PC Engine - TurboGrafx-16":    prefixNoIntro + "/NEC%20-%20PC%20Engine%20-%20TurboGrafx-16",
	"NEC - PC Engine SuperGrafx":         prefixNoIntro + "/NEC%20-%20PC%20Engine%20SuperGrafx",
	"NEC - PC Engine CD & TurboGrafx CD": prefixRedump + "/NEC%20-%20PC%20Engine%20CD%20%26%20TurboGrafx%20CD",
	"NEC - PC-FX & PC-FXGA":              prefixRedump + "/NEC%20-%20PC-FX%20%26%20PC-FXGA",
	"NEC - PC-98 series":                 prefixRedump + "/NEC%20-%20PC-98%20series",
	"NEC - PC-88 series":                 prefixRedump + "/NEC%20-%20PC-88%20series",

	// SNK
	"SNK - Neo Geo Pocket":       prefixNoIntro + "/SNK%20-%20Neo%20Geo%20Pocket",
	"SNK - Neo Geo Pocket Color": prefixNoIntro + "/SNK%20-%20Neo%20Geo%20Pocket%20Color",
	"SNK - Neo Geo CD":           prefixRedump + "/SNK%20-%20Neo%20Geo%20CD",

	// Bandai
	"Bandai - WonderSwan":       prefixNoIntro + "/Bandai%20-%20WonderSwan",
	"Bandai - WonderSwan Color": prefixNoIntro + "/Bandai%20-%20WonderSwan%20Color",

	// Other
	"Coleco - ColecoVision":                     prefixNoIntro + "/Coleco%20-%20ColecoVision",
	"Mattel - Intellivision":                    prefixNoIntro + "/Mattel%20-%20Intellivision",
	"Panasonic - 3DO Interactive Multiplayer":   prefixRedump + "/Panasonic%20-%203DO%20Interactive%20Multiplayer",
	"Philips - CD-i":                            prefixRedump + "/Philips%20-%20CD-i",
	"Commodore - Amiga":                         prefixNoIntro + "/Commodore%20-%20Amiga",
	"Commodore - Commodore 64":                  prefixNoIntro + "/Commodore%20-%20Commodore%2064",
	"Commodore - Commodore 64 (Tapes)":          prefixNoIntro + "/Commodore%20-%20Commodore%2064%20(Tapes)",
	"Commodore - VIC-20":                        prefixNoIntro + "/Commodore%20-%20VIC-20",
	"Commodore - Amiga CD":                      prefixRedump + "/Commodore%20-%20Amiga%20CD",
	"Commodore - Amiga CD32":                    prefixRedump + "/Commodore%20-%20Amiga%20CD32",
	"Commodore - Amiga CDTV":                    prefixRedump + "/Commodore%20-%20Amiga%20CDTV",
	"GCE - Vectrex":                             prefixNoIntro + "/GCE%20-%20Vectrex",
	"Magnavox - Odyssey 2":                      prefixNoIntro + "/Magnavox%20-%20Odyssey2",
	"Watara - Supervision":                      prefixNoIntro + "/Watara%20-%20Supervision",
	"Fairchild - Channel F":                     prefixNoIntro + "/Fairchild%20-%20Channel%20F",
	"Sharp - X68000":                            prefixRedump + "/Sharp%20-%20X68000",
	"Fujitsu - FM-Towns":                        prefixRedump + "/Fujitsu%20-%20FM-Towns",
}

// System is one catalog entry for display.
type System struct {
	Name     string
	Category string
	Path     string
}

// Catalog resolves system names against the provider's directory layout.
type Catalog struct {
	base string
}

// NewCatalog builds a catalog rooted at the provider's files tree.
func NewCatalog(provider config.ProviderConfig) *Catalog {
	host := strings.TrimSpace(provider.CanonicalHost)
	return &Catalog{base: "https://" + host + "/files"}
}

// BaseURL is the provider's files root, without a trailing slash.
func (c *Catalog) BaseURL() string { return c.base }

// Systems lists the catalog sorted by name, first spelling per path kept.
func (c *Catalog) Systems() []System {
	seenPath := make(map[string]bool)
	var names []string
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	var systems []System
	for _, name := range names {
		p := catalog[name]
		if seenPath[p] {
			continue
		}
		seenPath[p] = true
		category := "Other"
		switch {
		case strings.HasPrefix(p, prefixNoIntro):
			category = "No-Intro"
		case strings.HasPrefix(p, prefixRedump):
			category = "Redump"
		}
		systems = append(systems, System{Name: name, Category: category, Path: p})
	}
	return systems
}

// FindSystemURL resolves a system name to its directory URL. Exact match
// first, then case-insensitive, then loose substring matching either way.
// Empty when nothing matches.
func (c *Catalog) FindSystemURL(systemName string) string {
	if p, ok := catalog[systemName]; ok {
		return c.base + "/" + p + "/"
	}
	normalized := strings.TrimSpace(systemName)
	for key, p := range catalog {
		if strings.EqualFold(key, normalized) {
			return c.base + "/" + p + "/"
		}
	}
	lower := strings.ToLower(normalized)
	if lower == "" {
		return ""
	}
	for key, p := range catalog {
		keyLower := strings.ToLower(key)
		if strings.Contains(keyLower, lower) || strings.Contains(lower, keyLower) {
			return c.base + "/" + p + "/"
		}
	}
	return ""
}

// DirectoryURL returns the parent directory for a file URL.
func DirectoryURL(fileURL string) string {
	clean := fileURL
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	clean = strings.TrimRight(clean, "/")
	i := strings.LastIndex(clean, "/")
	if i < 0 {
		return fileURL
	}
	return clean[:i+1]
}

// CandidateURL builds the likely archive URL for an entry name inside a
// system directory. Entry names without an archive suffix get .zip.
func CandidateURL(systemURL, entryName string) string {
	name := entryName
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name = strings.TrimSuffix(name, path.Ext(name)) + ".zip"
	}
	return strings.TrimRight(systemURL, "/") + "/" + url.PathEscape(name)
}
