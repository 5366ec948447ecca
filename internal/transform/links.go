package transform

import (
	"path"
	"regexp"
	"strings"
)

// Links written by ToStandardLinks carry a title starting with linkMarker.
// Only those are turned back into wiki links, so standard links the user
// wrote stay as they are.
const (
	linkMarker = "wiki"
	// the target already ended in .md, do not strip it on the way back
	flagExplicitExt = "ext"
	// an alias was present even though it equals the default text
	flagAlias = "alias"
)

var (
	wikiEmbedRe = regexp.MustCompile(`!\[\[([^\]|<>\n]+)(\|[^\]\n]*)?\]\]`)
	wikiLinkRe  = regexp.MustCompile(`\[\[([^\]|#<>\n]+)(#[^\]|<>\n]*)?(\|[^\]\n]*)?\]\]`)
	markedRe    = regexp.MustCompile(`(!?)\[([^\]\n]*)\]\(<([^<>\n]+)> "` + linkMarker + `((?: [a-z]+)*)"\)`)
)

// ToStandardLinks rewrites wiki links into portable markdown links:
// [[Note|alias]] -> [alias](<Note.md> "wiki"), ![[img.png]] -> ![](<img.png> "wiki").
func ToStandardLinks(src []byte) []byte {
	out := wikiEmbedRe.ReplaceAllFunc(src, func(m []byte) []byte {
		sub := wikiEmbedRe.FindSubmatch(m)
		target, alias := string(sub[1]), string(sub[2])
		var flags []string
		if alias == "|" {
			flags = append(flags, flagAlias)
		}
		return marked("!", strings.TrimPrefix(alias, "|"), target, flags)
	})
	// embeds are rewritten first so this pass only sees plain [[...]]
	out = wikiLinkRe.ReplaceAllFunc(out, func(m []byte) []byte {
		sub := wikiLinkRe.FindSubmatch(m)
		target, heading, alias := string(sub[1]), string(sub[2]), string(sub[3])

		var flags []string
		file := target
		switch {
		case path.Ext(file) == "":
			file += ".md"
		case strings.HasSuffix(file, ".md"):
			flags = append(flags, flagExplicitExt)
		}

		text := target + heading
		if alias != "" {
			if alias[1:] == text {
				flags = append(flags, flagAlias)
			}
			text = alias[1:]
		}
		return marked("", text, file+heading, flags)
	})
	return out
}

func marked(bang, text, dest string, flags []string) []byte {
	title := linkMarker
	for _, f := range flags {
		title += " " + f
	}
	return []byte(bang + "[" + text + "](<" + dest + "> \"" + title + "\")")
}

// ToWikiLinks is the inverse of ToStandardLinks. Unmarked links are left alone.
func ToWikiLinks(src []byte) []byte {
	return markedRe.ReplaceAllFunc(src, func(m []byte) []byte {
		sub := markedRe.FindSubmatch(m)
		embed := len(sub[1]) > 0
		text, dest := string(sub[2]), string(sub[3])
		flags := strings.Fields(string(sub[4]))
		has := func(flag string) bool {
			for _, f := range flags {
				if f == flag {
					return true
				}
			}
			return false
		}

		if embed {
			if text == "" && !has(flagAlias) {
				return []byte("![[" + dest + "]]")
			}
			return []byte("![[" + dest + "|" + text + "]]")
		}

		file, heading := dest, ""
		if i := strings.Index(dest, "#"); i >= 0 {
			file, heading = dest[:i], dest[i:]
		}
		if !has(flagExplicitExt) {
			file = strings.TrimSuffix(file, ".md")
		}
		target := file + heading
		if text == target && !has(flagAlias) {
			return []byte("[[" + target + "]]")
		}
		return []byte("[[" + target + "|" + text + "]]")
	})
}
