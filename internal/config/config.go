// Package config loads and validates the backup configuration document.
//
// Values are kept as the literal strings found in the document and
// checked against a typed schema in one pass. Every problem is
// collected before reporting, so an operator can fix the whole document
// at once, and nothing destructive runs until the document is clean.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError carries the complete list of configuration problems.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// Config is the validated configuration: an immutable mapping from
// dotted key paths to literal values. Built once per invocation and
// passed by read-only reference afterwards.
type Config struct {
	values map[string]string
	lists  map[string][]string
}

// DriveConfig is a typed view over one backup_drive_N section.
type DriveConfig struct {
	Index       int
	Device      string
	Mapper      string
	Mount       string
	Label       string
	Compression string
	AutoMount   bool
	Mirror      bool
	Folders     []string
}

// Load parses and validates the document at path. On any validation
// failure it returns a *ValidationError listing every problem; the
// caller must abort before touching any device.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates a raw configuration document.
func Parse(data []byte) (*Config, error) {
	values, lists, err := flatten(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{values: values, lists: lists}

	var problems []string
	problems = append(problems, cfg.checkKeys()...)
	if len(problems) == 0 {
		problems = cfg.checkCrossField()
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return cfg, nil
}

// flatten walks the YAML node tree and records every section.key with
// its literal scalar text. Decoding through yaml.Node (rather than into
// interface{}) keeps "yes" and "on" as the strings the operator wrote,
// so the boolean check below can reject them.
func flatten(data []byte) (map[string]string, map[string][]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	values := make(map[string]string)
	lists := make(map[string][]string)

	if len(root.Content) == 0 {
		return values, lists, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("config document must be a mapping of sections")
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		section := doc.Content[i].Value
		body := doc.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, nil, fmt.Errorf("section %s must be a mapping", section)
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key := section + "." + body.Content[j].Value
			val := body.Content[j+1]
			switch val.Kind {
			case yaml.ScalarNode:
				values[key] = val.Value
			case yaml.SequenceNode:
				var items []string
				for _, item := range val.Content {
					if item.Kind != yaml.ScalarNode {
						return nil, nil, fmt.Errorf("%s entries must be scalars", key)
					}
					items = append(items, item.Value)
				}
				lists[key] = items
			default:
				return nil, nil, fmt.Errorf("%s has an unsupported value structure", key)
			}
		}
	}

	return values, lists, nil
}

// checkKeys validates every key against the schema: required keys
// present, types correct, no unknown keys.
func (c *Config) checkKeys() []string {
	var problems []string

	specs := make(map[string]keySpec, len(schema))
	for _, spec := range schema {
		specs[spec.name] = spec
	}

	drive2 := c.sectionPresent("backup_drive_2")

	for _, spec := range schema {
		_, hasValue := c.values[spec.name]
		_, hasList := c.lists[spec.name]

		required := spec.required
		if !required && drive2 && strings.HasPrefix(spec.name, "backup_drive_2.") {
			short := strings.TrimPrefix(spec.name, "backup_drive_2.")
			for _, k := range driveSectionKeys {
				if short == k {
					required = true
				}
			}
		}

		if !hasValue && !hasList {
			if required {
				problems = append(problems, fmt.Sprintf("%s is required", spec.name))
			}
			continue
		}

		if spec.typ == typeList {
			if !hasList {
				problems = append(problems, fmt.Sprintf("%s must be a list", spec.name))
			}
			continue
		}
		if hasList {
			problems = append(problems, fmt.Sprintf("%s must be a single value, not a list", spec.name))
			continue
		}

		if p := checkScalar(spec, c.values[spec.name]); p != "" {
			problems = append(problems, p)
		}
	}

	for key := range c.values {
		if _, ok := specs[key]; !ok {
			problems = append(problems, fmt.Sprintf("unknown key: %s", key))
		}
	}
	for key := range c.lists {
		if _, ok := specs[key]; !ok {
			problems = append(problems, fmt.Sprintf("unknown key: %s", key))
		}
	}

	return problems
}

// checkScalar validates one present scalar value against its type.
// Booleans accept only the literal strings true/false: these values
// gate irreversible disk operations, and coercing "yes" or "1" would
// hide an operator mistake.
func checkScalar(spec keySpec, value string) string {
	switch spec.typ {
	case typeBool:
		if value != "true" && value != "false" {
			return fmt.Sprintf("%s must be 'true' or 'false' (got: '%s')", spec.name, value)
		}
	case typeInt:
		if value == "" {
			return fmt.Sprintf("%s must be a non-negative integer (got: '')", spec.name)
		}
		for _, r := range value {
			if r < '0' || r > '9' {
				return fmt.Sprintf("%s must be a non-negative integer (got: '%s')", spec.name, value)
			}
		}
	case typePath:
		if !strings.HasPrefix(value, "/") {
			return fmt.Sprintf("%s must be an absolute path (got: '%s')", spec.name, value)
		}
	}
	return ""
}

// checkCrossField runs invariants spanning multiple keys. Only reached
// once every individual key validated.
func (c *Config) checkCrossField() []string {
	var problems []string

	source := c.values["source.path"]
	for _, n := range []int{1, 2} {
		mount := c.values[fmt.Sprintf("backup_drive_%d.mount", n)]
		if mount != "" && mount == source {
			problems = append(problems, fmt.Sprintf(
				"source.path and backup_drive_%d.mount paths cannot be the same", n))
		}
	}

	m1, m2 := c.values["backup_drive_1.mount"], c.values["backup_drive_2.mount"]
	if m1 != "" && m1 == m2 {
		problems = append(problems, "backup_drive_1.mount and backup_drive_2.mount paths cannot be the same")
	}

	p1, p2 := c.values["backup_drive_1.mapper"], c.values["backup_drive_2.mapper"]
	if p1 != "" && p1 == p2 {
		problems = append(problems, "backup_drive_1.mapper and backup_drive_2.mapper must differ")
	}

	if (c.Bool("snapshots.enabled") || c.Int("snapshots.keep") > 0) && c.values["snapshots.dir"] == "" {
		problems = append(problems, "snapshots.dir is required when snapshot retention is enabled")
	}

	return problems
}

func (c *Config) sectionPresent(section string) bool {
	prefix := section + "."
	for key := range c.values {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	for key := range c.lists {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Has reports whether a key is present in the document.
func (c *Config) Has(key string) bool {
	if _, ok := c.values[key]; ok {
		return true
	}
	_, ok := c.lists[key]
	return ok
}

// Str returns a string-typed value, or "" when absent.
func (c *Config) Str(key string) string {
	return c.values[key]
}

// Bool returns a boolean-typed value, false when absent.
func (c *Config) Bool(key string) bool {
	return c.values[key] == "true"
}

// Int returns an integer-typed value, 0 when absent.
func (c *Config) Int(key string) int {
	n := 0
	for _, r := range c.values[key] {
		n = n*10 + int(r-'0')
	}
	return n
}

// List returns a list-typed value, nil when absent.
func (c *Config) List(key string) []string {
	return c.lists[key]
}

// Drive returns the typed view of backup_drive_n. ok is false when the
// section is absent (only the second drive may be).
func (c *Config) Drive(n int) (DriveConfig, bool) {
	section := fmt.Sprintf("backup_drive_%d", n)
	if !c.sectionPresent(section) {
		return DriveConfig{}, false
	}

	dc := DriveConfig{
		Index:       n,
		Device:      c.Str(section + ".device"),
		Mapper:      c.Str(section + ".mapper"),
		Mount:       c.Str(section + ".mount"),
		Label:       c.Str(section + ".label"),
		Compression: c.Str(section + ".compression"),
		AutoMount:   c.Bool(section + ".auto_mount"),
		Mirror:      c.Bool(section + ".mirror"),
		Folders:     c.List(section + ".folders"),
	}
	if dc.Label == "" {
		dc.Label = section
	}
	return dc, true
}
