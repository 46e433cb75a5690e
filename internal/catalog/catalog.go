// Package catalog holds the list of known models and the schedule defaults
// the control API uses to fill fields a caller leaves out.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"go.yaml.in/yaml/v3"
)

// Entry describes one model. Empty fields fall back to the catalog defaults.
type Entry struct {
	ID              string `yaml:"id"               json:"id"`
	Description     string `yaml:"description"      json:"description,omitempty"`
	TargetURL       string `yaml:"target_url"       json:"target_url,omitempty"`
	From            string `yaml:"from"             json:"from,omitempty"`
	To              string `yaml:"to"               json:"to,omitempty"`
	WrapsMidnight   bool   `yaml:"wraps_midnight"   json:"wraps_midnight,omitempty"`
	IntervalMinutes int    `yaml:"interval_minutes" json:"interval_minutes,omitempty"`
	Timezone        string `yaml:"timezone"         json:"timezone,omitempty"`
}

type Catalog struct {
	Defaults Entry   `yaml:"defaults" json:"defaults"`
	Models   []Entry `yaml:"models"   json:"models"`
}

// Resolve returns the entry for id merged over the defaults. Unknown ids get
// the defaults alone.
func (c *Catalog) Resolve(id string) Entry {
	out := c.Defaults
	out.ID = id
	for _, m := range c.Models {
		if m.ID != id {
			continue
		}
		if m.Description != "" {
			out.Description = m.Description
		}
		if m.TargetURL != "" {
			out.TargetURL = m.TargetURL
		}
		if m.From != "" {
			out.From = m.From
		}
		if m.To != "" {
			out.To = m.To
		}
		if m.WrapsMidnight {
			out.WrapsMidnight = true
		}
		if m.IntervalMinutes != 0 {
			out.IntervalMinutes = m.IntervalMinutes
		}
		if m.Timezone != "" {
			out.Timezone = m.Timezone
		}
		break
	}
	return out
}

func (c *Catalog) Has(id string) bool {
	for _, m := range c.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Parse decodes and checks a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range append([]Entry{c.Defaults}, c.Models...) {
		name := "defaults"
		if i > 0 {
			if m.ID == "" {
				return nil, fmt.Errorf("catalog model #%d has no id", i)
			}
			if seen[m.ID] {
				return nil, fmt.Errorf("catalog model %q listed twice", m.ID)
			}
			seen[m.ID] = true
			name = m.ID
		}
		if err := checkEntry(m); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", name, err)
		}
	}
	return &c, nil
}

func checkEntry(e Entry) error {
	for _, s := range []string{e.From, e.To} {
		if s == "" {
			continue
		}
		if _, err := domain.ParseTimeOfDay(s); err != nil {
			return err
		}
	}
	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", e.Timezone, err)
		}
	}
	if e.IntervalMinutes < 0 {
		return fmt.Errorf("interval_minutes must be positive")
	}
	return nil
}

// Load reads path. A missing file is an empty catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}
