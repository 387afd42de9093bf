// SPDX-License-Identifier: AGPL-3.0-or-later

// Package configstore implements the grbl.ConfigStore collaborator: a
// YAML-backed file of named macros plus one reserved "startup" entry,
// generalizing the teacher's init_file.go (a flat file of startup lines)
// into the macro store spec.md §6 treats as abstract.
package configstore

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"grblhost/grbl"
)

// StartupMacroID is the reserved macro id fed through the Feeder once the
// port is ready, replacing the teacher's bespoke init-file code path.
const StartupMacroID = "startup"

type macroFile struct {
	Macros []macroEntry `yaml:"macros"`
}

type macroEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// Store is a file-backed macro store. It creates the file with an empty
// "startup" macro if missing, mirroring init_file.go's create-if-missing
// behavior, and rewrites it whole on every Save (spec.md §6 persisted
// configuration store).
type Store struct {
	path string
	k    *koanf.Koanf

	mu     sync.RWMutex
	macros map[string]grbl.Macro
	order  []string
}

// Open loads path, creating it with a single empty "startup" macro if it
// does not exist yet.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		empty := macroFile{Macros: []macroEntry{{ID: StartupMacroID, Name: "Startup", Content: ""}}}
		if err := writeYAML(path, empty); err != nil {
			return nil, fmt.Errorf("configstore: create %s: %w", path, err)
		}
		slog.Info("created macro store", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("configstore: stat %s: %w", path, err)
	}

	s := &Store{path: path, k: koanf.New(".")}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(macroFile{}, "yaml"), nil); err != nil {
		return fmt.Errorf("configstore: defaults: %w", err)
	}
	if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
		return fmt.Errorf("configstore: load %s: %w", s.path, err)
	}

	var mf macroFile
	if err := k.Unmarshal("", &mf); err != nil {
		return fmt.Errorf("configstore: unmarshal %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.k = k
	s.macros = make(map[string]grbl.Macro, len(mf.Macros))
	s.order = s.order[:0]
	for _, e := range mf.Macros {
		s.macros[e.ID] = grbl.Macro{ID: e.ID, Name: e.Name, Content: e.Content}
		s.order = append(s.order, e.ID)
	}
	return nil
}

// Macros implements grbl.ConfigStore.
func (s *Store) Macros() ([]grbl.Macro, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]grbl.Macro, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.macros[id])
	}
	return out, nil
}

// Macro implements grbl.ConfigStore.
func (s *Store) Macro(id string) (grbl.Macro, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.macros[id]
	return m, ok, nil
}

// Save upserts a macro and rewrites the backing file.
func (s *Store) Save(m grbl.Macro) error {
	s.mu.Lock()
	if _, exists := s.macros[m.ID]; !exists {
		s.order = append(s.order, m.ID)
	}
	s.macros[m.ID] = m
	mf := macroFile{Macros: make([]macroEntry, 0, len(s.order))}
	for _, id := range s.order {
		mm := s.macros[id]
		mf.Macros = append(mf.Macros, macroEntry{ID: mm.ID, Name: mm.Name, Content: mm.Content})
	}
	s.mu.Unlock()

	return writeYAML(s.path, mf)
}

func writeYAML(path string, mf macroFile) error {
	data, err := yamlMarshal(mf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
