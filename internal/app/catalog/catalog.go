// Package catalog provides locale-keyed response templates.
package catalog

import (
	"embed"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Message keys used by the playback orchestrator.
const (
	KeyWelcome           = "welcome"
	KeyHelp              = "help"
	KeyReprompt          = "reprompt"
	KeyFallback          = "fallback"
	KeyAskToPlay         = "ask_to_play"
	KeyAskToPlayReprompt = "ask_to_play_reprompt"
	KeyNoResults         = "no_results"
	KeyCardSearchTitle   = "card_search_title"
	KeyNowPlaying        = "now_playing"
	KeyDeclined          = "declined"
	KeyNothingToRepeat   = "nothing_to_repeat"
	KeyNothingToResume   = "nothing_to_resume"
	KeyRepeatCurrent     = "repeat_current"
	KeyRepeatNext        = "repeat_next"
	KeyRepeatingNow      = "repeating_now"
	KeyLoopOnCurrent     = "loop_on_current"
	KeyLoopOnNext        = "loop_on_next"
	KeyLoopOff           = "loop_off"
	KeyDownloadTimeout   = "download_timeout"
	KeyError             = "error"
	KeyGenericFailure    = "generic_failure"
)

// fallbackLanguage is used when a locale matches no table.
var fallbackLanguage = language.English

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog holds message tables per base language.
type Catalog struct {
	tables  map[language.Tag]map[string]string
	tags    []language.Tag
	matcher language.Matcher
}

// New loads the embedded tables and, if overridePath is set, merges the
// override file on top. The override file maps locale to key to template.
func New(overridePath string) (*Catalog, error) {
	c := &Catalog{
		tables: make(map[language.Tag]map[string]string),
	}

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list embedded locales")
	}
	for _, entry := range entries {
		name := entry.Name()
		data, err := localeFS.ReadFile(path.Join("locales", name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read locale %s", name)
		}
		var table map[string]string
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, errors.Wrapf(err, "failed to parse locale %s", name)
		}
		tag, err := language.Parse(strings.TrimSuffix(name, path.Ext(name)))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid locale file name %s", name)
		}
		c.merge(tag, table)
	}

	if overridePath != "" {
		if err := c.loadOverrides(overridePath); err != nil {
			return nil, err
		}
	}

	c.buildMatcher()
	return c, nil
}

func (c *Catalog) loadOverrides(p string) error {
	data, err := os.ReadFile(p)
	if err != nil {
		return errors.Wrap(err, "failed to read catalog override file")
	}
	var overrides map[string]map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return errors.Wrap(err, "failed to parse catalog override file")
	}
	for locale, table := range overrides {
		tag, err := language.Parse(locale)
		if err != nil {
			return errors.Wrapf(err, "invalid locale %q in catalog override file", locale)
		}
		c.merge(tag, table)
		zlog.Debug().Msgf("catalog: merged %d overrides for %s", len(table), tag)
	}
	return nil
}

func (c *Catalog) merge(tag language.Tag, table map[string]string) {
	existing, ok := c.tables[tag]
	if !ok {
		existing = make(map[string]string, len(table))
		c.tables[tag] = existing
	}
	for k, v := range table {
		existing[k] = v
	}
}

func (c *Catalog) buildMatcher() {
	tags := make([]language.Tag, 0, len(c.tables))
	for tag := range c.tables {
		if tag != fallbackLanguage {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].String() < tags[j].String() })

	// The first tag is what the matcher returns when nothing matches
	c.tags = append([]language.Tag{fallbackLanguage}, tags...)
	c.matcher = language.NewMatcher(c.tags)
}

// Resolve returns the table tag used for locale.
func (c *Catalog) Resolve(locale string) language.Tag {
	if locale == "" {
		return fallbackLanguage
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return fallbackLanguage
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return fallbackLanguage
	}
	return c.tags[idx]
}

// Get returns the message for key in locale with {name} placeholders replaced
// from args. Missing keys fall back to English, then to the key itself.
func (c *Catalog) Get(locale, key string, args map[string]string) string {
	tmpl, ok := c.tables[c.Resolve(locale)][key]
	if !ok {
		tmpl, ok = c.tables[fallbackLanguage][key]
	}
	if !ok {
		zlog.Warn().Msgf("catalog: missing message: locale=%s key=%s", locale, key)
		return key
	}
	if len(args) == 0 {
		return tmpl
	}

	pairs := make([]string, 0, len(args)*2)
	for name, value := range args {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Locales returns the supported base languages.
func (c *Catalog) Locales() []string {
	result := make([]string, 0, len(c.tags))
	for _, tag := range c.tags {
		result = append(result, tag.String())
	}
	return result
}
