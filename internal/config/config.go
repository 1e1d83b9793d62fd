// Package config loads the jabs INI configuration file and materializes one
// immutable Set per backup section.
//
// The file has one mandatory [Global] section plus one [Name] section per
// backup set. A key missing from a set section falls back to [Global], then
// to its documented default; unknown keys are ignored. Multi-valued keys use
// the KEY_NN convention (PRE_01, PRE_02, ...) and are aggregated in NN
// order. Key lookups are case-insensitive, matching the historic behavior of
// the configuration format.
package config

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// GlobalSection is the section every other section falls back to.
const GlobalSection = "Global"

// Config is the parsed configuration file.
type Config struct {
	file *ini.File
}

// Load reads and parses the configuration file. It fails when the file
// cannot be read, is not valid INI, or has no [Global] section.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot load %s: %w", path, err)
	}
	c := &Config{file: file}
	if c.section(GlobalSection) == nil {
		return nil, fmt.Errorf("config: no [Global] section in %s", path)
	}
	return c, nil
}

// PidFile returns the Global PIDFILE value.
func (c *Config) PidFile() (string, error) {
	return c.view(GlobalSection).str("PIDFILE")
}

// SetNames returns the backup set section names in file order.
func (c *Config) SetNames() []string {
	var names []string
	for _, sec := range c.file.Sections() {
		name := sec.Name()
		if name == GlobalSection || name == ini.DefaultSection {
			continue
		}
		names = append(names, name)
	}
	return names
}

// section finds a section by case-insensitive name.
func (c *Config) section(name string) *ini.Section {
	for _, sec := range c.file.Sections() {
		if strings.EqualFold(sec.Name(), name) {
			return sec
		}
	}
	return nil
}

// lookup finds a key by case-insensitive name in the named section, then in
// Global. Returns the raw value and whether it was found.
func (c *Config) lookup(section, name string) (string, bool) {
	for _, secName := range []string{section, GlobalSection} {
		sec := c.section(secName)
		if sec == nil {
			continue
		}
		for _, key := range sec.Keys() {
			if strings.EqualFold(key.Name(), name) {
				return strings.TrimSpace(key.Value()), true
			}
		}
	}
	return "", false
}

// multi gathers all values for name and name_NN across Global and the named
// section, the set section shadowing Global for the same key, ordered by the
// numeric suffix (no suffix sorts as 0).
func (c *Config) multi(section, name string) []string {
	type entry struct {
		order int
		value string
	}
	found := map[string]entry{}

	for _, secName := range []string{GlobalSection, section} {
		sec := c.section(secName)
		if sec == nil {
			continue
		}
		for _, key := range sec.Keys() {
			keyName := strings.ToUpper(key.Name())
			base := strings.ToUpper(name)
			if keyName != base && !strings.HasPrefix(keyName, base+"_") {
				continue
			}
			order := 0
			if rest := strings.TrimPrefix(keyName, base+"_"); rest != keyName {
				if n, err := strconv.Atoi(rest); err == nil {
					order = n
				}
			}
			found[keyName] = entry{order: order, value: strings.TrimSpace(key.Value())}
		}
	}

	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool { return found[keys[i]].order < found[keys[j]].order })

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = found[k].value
	}
	return values
}

// view is the typed accessor for one section with Global fallback.
type view struct {
	c       *Config
	section string
}

func (c *Config) view(section string) view { return view{c: c, section: section} }

func (v view) str(name string) (string, error) {
	raw, ok := v.c.lookup(v.section, name)
	if !ok {
		return "", fmt.Errorf("config: option %s not found in [%s]", name, v.section)
	}
	return raw, nil
}

func (v view) strDefault(name, def string) string {
	if raw, ok := v.c.lookup(v.section, name); ok {
		return raw
	}
	return def
}

func (v view) intDefault(name string, def int) (int, error) {
	raw, ok := v.c.lookup(v.section, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: option %s in [%s]: %w", name, v.section, err)
	}
	return n, nil
}

func (v view) boolDefault(name string, def bool) (bool, error) {
	raw, ok := v.c.lookup(v.section, name)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "1", "yes", "true", "on":
		return true, nil
	case "0", "no", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("config: option %s in [%s]: not a boolean: %q", name, v.section, raw)
}

// list splits a comma-separated value, trimming every element.
func (v view) list(name string) ([]string, error) {
	raw, err := v.str(name)
	if err != nil {
		return nil, err
	}
	return splitList(raw), nil
}

func (v view) listDefault(name string, def []string) []string {
	raw, ok := v.c.lookup(v.section, name)
	if !ok {
		return def
	}
	return splitList(raw)
}

func (v view) dateDefault(name string, def time.Time) (time.Time, error) {
	raw, ok := v.c.lookup(v.section, name)
	if !ok {
		return def, nil
	}
	return ParseDate(raw)
}

func (v view) durationDefault(name string, def time.Duration) (time.Duration, error) {
	raw, ok := v.c.lookup(v.section, name)
	if !ok {
		return def, nil
	}
	return ParseDuration(raw)
}

func (v view) timeRangeDefault(name string, def TimeRange) (TimeRange, error) {
	raw, ok := v.c.lookup(v.section, name)
	if !ok {
		return def, nil
	}
	return ParseTimeRange(raw)
}

func (v view) multiStr(name string) []string {
	return v.c.multi(v.section, name)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// defaultMailFrom builds the fallback sender address, <user>@<hostname>,
// with the host name as os.Hostname reports it (not resolved to a fully
// qualified domain name).
func defaultMailFrom() string {
	name := "root"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return name + "@" + host
}
