// Package recipe provides the default YAML-backed implementation of the
// external "recipe enumerator" collaborator described in spec.md §1: given
// a name or group tag, resolve it to a concrete command line (§6 `start`,
// `up`). This is explicitly out of scope for the supervisor core; it is
// consumed through the Enumerator interface so the supervisor never depends
// on file formats directly.
package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Recipe is one named, group-tagged command line (§1 "recipe names and
// group tags").
type Recipe struct {
	Name        string   `yaml:"name"`
	Group       string   `yaml:"group"`
	CommandLine []string `yaml:"command"`
}

// Enumerator resolves recipe names and groups to command lines. The
// supervisor calls it when handling `start` and `up`.
type Enumerator interface {
	ByName(name string) (Recipe, bool)
	ByGroup(group string) []Recipe
}

// File is a YAML-backed Enumerator.
type File struct {
	recipes []Recipe
}

// recipeFile is the on-disk schema: a flat list of recipes.
type recipeFile struct {
	Recipes []Recipe `yaml:"recipes"`
}

// Load reads a recipe file from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe: read %s: %w", path, err)
	}
	var rf recipeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("recipe: parse %s: %w", path, err)
	}
	return &File{recipes: rf.Recipes}, nil
}

// ByName returns the recipe whose Name matches, if any.
func (f *File) ByName(name string) (Recipe, bool) {
	for _, r := range f.recipes {
		if r.Name == name {
			return r, true
		}
	}
	return Recipe{}, false
}

// ByGroup returns every recipe tagged group, in file order.
func (f *File) ByGroup(group string) []Recipe {
	var out []Recipe
	for _, r := range f.recipes {
		if r.Group == group {
			out = append(out, r)
		}
	}
	return out
}

// Empty is a zero-recipe Enumerator, used when no recipe file is
// configured: every `start NAME` then falls through to "treat as command"
// (§6 `start`).
type Empty struct{}

func (Empty) ByName(string) (Recipe, bool) { return Recipe{}, false }
func (Empty) ByGroup(string) []Recipe      { return nil }
