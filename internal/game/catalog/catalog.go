// Package catalog loads the race and unit-group definitions that supply
// morale rules and damage modifiers to battle participants.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
)

// ModifierDef is a damage modifier as written in YAML.
type ModifierDef struct {
	Target  string `yaml:"target"` // "damage_type" | "element"
	Key     string `yaml:"key"`
	Percent int    `yaml:"percent"` // negative resists, positive is a vulnerability, -100 immune
}

// RaceDef is the static definition of a race.
type RaceDef struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description"`
	IgnoresMorale   bool          `yaml:"ignores_morale"`
	FixedMorale     *int          `yaml:"fixed_morale"`
	DamageModifiers []ModifierDef `yaml:"damage_modifiers"`
}

// UnitGroupDef is the static definition of a unit group (a warband, a swarm,
// a company) whose members share damage modifiers.
type UnitGroupDef struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description"`
	DamageModifiers []ModifierDef `yaml:"damage_modifiers"`
}

// Catalog holds races and unit groups keyed by ID. A Catalog is read-only
// after loading and safe for concurrent reads.
type Catalog struct {
	races  map[string]*RaceDef
	groups map[string]*UnitGroupDef
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{races: make(map[string]*RaceDef), groups: make(map[string]*UnitGroupDef)}
}

// AddRace registers def, replacing any race with the same ID.
//
// Precondition: def must pass validation.
func (c *Catalog) AddRace(def *RaceDef) error {
	if err := validate(def.ID, def.DamageModifiers); err != nil {
		return fmt.Errorf("race %q: %w", def.ID, err)
	}
	c.races[strings.ToLower(def.ID)] = def
	return nil
}

// AddUnitGroup registers def, replacing any group with the same ID.
func (c *Catalog) AddUnitGroup(def *UnitGroupDef) error {
	if err := validate(def.ID, def.DamageModifiers); err != nil {
		return fmt.Errorf("unit group %q: %w", def.ID, err)
	}
	c.groups[strings.ToLower(def.ID)] = def
	return nil
}

// Race returns the race with id (case-insensitive).
func (c *Catalog) Race(id string) (*RaceDef, bool) {
	d, ok := c.races[strings.ToLower(id)]
	return d, ok
}

// UnitGroup returns the unit group with id (case-insensitive).
func (c *Catalog) UnitGroup(id string) (*UnitGroupDef, bool) {
	d, ok := c.groups[strings.ToLower(id)]
	return d, ok
}

// RaceIDs returns the sorted IDs of all races.
func (c *Catalog) RaceIDs() []string {
	out := make([]string, 0, len(c.races))
	for _, d := range c.races {
		out = append(out, d.ID)
	}
	sort.Strings(out)
	return out
}

// Modifiers converts defs into participant damage modifiers from source.
func Modifiers(source combatant.ModifierSource, defs []ModifierDef) []combatant.DamageModifier {
	out := make([]combatant.DamageModifier, 0, len(defs))
	for _, d := range defs {
		out = append(out, combatant.DamageModifier{
			Source:  source,
			Target:  combatant.ModifierTarget(d.Target),
			Key:     strings.ToLower(d.Key),
			Percent: d.Percent,
		})
	}
	return out
}

func validate(id string, mods []ModifierDef) error {
	if id == "" {
		return fmt.Errorf("missing id")
	}
	for i, m := range mods {
		switch combatant.ModifierTarget(m.Target) {
		case combatant.TargetDamageType, combatant.TargetElement:
		default:
			return fmt.Errorf("damage_modifiers[%d]: unknown target %q", i, m.Target)
		}
		if m.Key == "" {
			return fmt.Errorf("damage_modifiers[%d]: missing key", i)
		}
	}
	return nil
}

// Load reads races from racesDir and unit groups from groupsDir. An empty
// directory path is skipped.
//
// Postcondition: Returns a populated Catalog, or an error naming the first
// file that failed to read, parse or validate.
func Load(racesDir, groupsDir string) (*Catalog, error) {
	c := New()
	if racesDir != "" {
		err := eachYAML(racesDir, func(path string, dec *yaml.Decoder) error {
			var def RaceDef
			if err := dec.Decode(&def); err != nil {
				return fmt.Errorf("parsing %q: %w", path, err)
			}
			return c.AddRace(&def)
		})
		if err != nil {
			return nil, err
		}
	}
	if groupsDir != "" {
		err := eachYAML(groupsDir, func(path string, dec *yaml.Decoder) error {
			var def UnitGroupDef
			if err := dec.Decode(&def); err != nil {
				return fmt.Errorf("parsing %q: %w", path, err)
			}
			return c.AddUnitGroup(&def)
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func eachYAML(dir string, fn func(path string, dec *yaml.Decoder) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading catalog dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %q: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := fn(path, dec); err != nil {
			return err
		}
	}
	return nil
}
