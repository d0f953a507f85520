// Package content loads the static training material: the restaurant menu,
// the service guidelines, the scenario and personality pools, and the
// instructions text.
//
// The reference files are JSON, which is decoded through gopkg.in/yaml.v3 so
// that mapping order survives (guidelines are shown in file order and the
// menu is embedded verbatim in the customer prompt). Plain YAML files are
// accepted too.
package content

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// File names inside a content directory.
const (
	MenuFile         = "menu.json"
	RulesFile        = "rules.json"
	ScenariosFile    = "scenarios.json"
	InstructionsFile = "instructions.md"
)

//go:embed data/*
var embedded embed.FS

// MenuItem is a single menu entry.
type MenuItem struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Menu is the typed view of menu.json.
type Menu struct {
	ALaCarte []MenuItem `json:"a_la_carte"`
	KidsFood []MenuItem `json:"kids_food"`
	Meals    []MenuItem `json:"meals"`
}

// Guideline is one titled rule.
type Guideline struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Guidelines groups the two rule sections of rules.json, in file order.
type Guidelines struct {
	CustomerService []Guideline `json:"customer_service_rules"`
	Escalation      []Guideline `json:"managerial_escalation_guidelines"`
}

// Store holds the loaded content. It is immutable after loading and safe for
// concurrent use.
type Store struct {
	menu          Menu
	menuJSON      string
	guidelines    Guidelines
	scenarios     []string
	personalities []string
	instructions  string
}

// Load reads content from dir. An empty dir selects the built-in defaults.
// Files missing from dir fall back to the built-in copy.
func Load(dir string) (*Store, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, fmt.Errorf("content: embedded data: %w", err)
	}
	if dir == "" {
		return LoadFS(sub)
	}
	return LoadFS(overlayFS{primary: os.DirFS(dir), fallback: sub})
}

// LoadFS reads content from fsys.
func LoadFS(fsys fs.FS) (*Store, error) {
	s := &Store{}

	menuRaw, err := fs.ReadFile(fsys, MenuFile)
	if err != nil {
		return nil, fmt.Errorf("content: read %s: %w", MenuFile, err)
	}
	if err := s.loadMenu(menuRaw); err != nil {
		return nil, fmt.Errorf("content: parse %s: %w", MenuFile, err)
	}

	rulesRaw, err := fs.ReadFile(fsys, RulesFile)
	if err != nil {
		return nil, fmt.Errorf("content: read %s: %w", RulesFile, err)
	}
	if err := s.loadRules(rulesRaw); err != nil {
		return nil, fmt.Errorf("content: parse %s: %w", RulesFile, err)
	}

	scenRaw, err := fs.ReadFile(fsys, ScenariosFile)
	if err != nil {
		return nil, fmt.Errorf("content: read %s: %w", ScenariosFile, err)
	}
	if err := s.loadScenarios(scenRaw); err != nil {
		return nil, fmt.Errorf("content: parse %s: %w", ScenariosFile, err)
	}

	instr, err := fs.ReadFile(fsys, InstructionsFile)
	switch {
	case err == nil:
		s.instructions = strings.TrimSpace(string(instr))
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("content: read %s: %w", InstructionsFile, err)
	}

	return s, nil
}

func (s *Store) loadMenu(raw []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return errors.New("empty document")
	}

	var file struct {
		Menu struct {
			ALaCarte []MenuItem `yaml:"a_la_carte"`
			KidsMenu struct {
				FoodOptions []MenuItem `yaml:"food_options"`
			} `yaml:"kids_menu"`
			Meals struct {
				Options []MenuItem `yaml:"options"`
			} `yaml:"meals"`
		} `yaml:"menu"`
	}
	if err := root.Decode(&file); err != nil {
		return err
	}
	s.menu = Menu{
		ALaCarte: file.Menu.ALaCarte,
		KidsFood: file.Menu.KidsMenu.FoodOptions,
		Meals:    file.Menu.Meals.Options,
	}

	js, err := nodeJSON(root.Content[0])
	if err != nil {
		return err
	}
	s.menuJSON = js
	return nil
}

func (s *Store) loadRules(raw []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return errors.New("empty document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return errors.New("top level must be a mapping")
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i].Value, doc.Content[i+1]
		switch key {
		case "customer_service_rules":
			g, err := orderedGuidelines(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			s.guidelines.CustomerService = g
		case "managerial_escalation_guidelines":
			g, err := orderedGuidelines(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			s.guidelines.Escalation = g
		}
	}
	return nil
}

func orderedGuidelines(n *yaml.Node) ([]Guideline, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	out := make([]Guideline, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %q must be a string", v.Line, k.Value)
		}
		out = append(out, Guideline{Key: k.Value, Title: Titleize(k.Value), Text: v.Value})
	}
	return out, nil
}

func (s *Store) loadScenarios(raw []byte) error {
	var file struct {
		Scenarios     []string `yaml:"scenarios"`
		Personalities []string `yaml:"personalities"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	var errs []error
	if len(file.Scenarios) == 0 {
		errs = append(errs, errors.New("scenarios must not be empty"))
	}
	if len(file.Personalities) == 0 {
		errs = append(errs, errors.New("personalities must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.scenarios = file.Scenarios
	s.personalities = file.Personalities
	return nil
}

// Menu returns the typed menu.
func (s *Store) Menu() Menu { return s.menu }

// MenuJSON returns the whole menu file as JSON with keys in file order and
// two-space indentation, ready to embed in a prompt.
func (s *Store) MenuJSON() string { return s.menuJSON }

// ItemNames returns every distinct menu item name across all sections.
func (s *Store) ItemNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, section := range [][]MenuItem{s.menu.ALaCarte, s.menu.KidsFood, s.menu.Meals} {
		for _, it := range section {
			if it.Name == "" {
				continue
			}
			if _, ok := seen[it.Name]; ok {
				continue
			}
			seen[it.Name] = struct{}{}
			names = append(names, it.Name)
		}
	}
	return names
}

// Guidelines returns the service rules and escalation guidelines in file order.
func (s *Store) Guidelines() Guidelines { return s.guidelines }

// Scenarios returns the scenario pool. The slice must not be modified.
func (s *Store) Scenarios() []string { return s.scenarios }

// Personalities returns the personality pool. The slice must not be modified.
func (s *Store) Personalities() []string { return s.personalities }

// Instructions returns the how-to text shown on the instructions page.
func (s *Store) Instructions() string { return s.instructions }

// Titleize turns a snake_case key into a display title: underscores become
// spaces and every word is capitalised with the rest lower-cased, so
// "greet_customer" becomes "Greet Customer".
func Titleize(key string) string {
	var sb strings.Builder
	prevLetter := false
	for _, r := range strings.ReplaceAll(key, "_", " ") {
		isLetter := unicode.IsLetter(r)
		switch {
		case isLetter && !prevLetter:
			sb.WriteRune(unicode.ToUpper(r))
		case isLetter:
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return sb.String()
}

// overlayFS serves files from primary, falling back to fallback when a file
// does not exist there.
type overlayFS struct {
	primary, fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.primary.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return o.fallback.Open(name)
	}
	return f, err
}
