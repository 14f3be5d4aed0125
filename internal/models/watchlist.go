package models

import (
	"fmt"
	"sort"
	"strings"
)

// Sector groups watched companies with the keywords that make an
// announcement in that sector interesting.
type Sector struct {
	Name            string   `yaml:"name" json:"name"`
	Keywords        []string `yaml:"keywords" json:"keywords"`
	NSEIndustryCode string   `yaml:"nse_industry_code,omitempty" json:"nse_industry_code,omitempty"`
	BSEIndustryCode string   `yaml:"bse_industry_code,omitempty" json:"bse_industry_code,omitempty"`
}

// Company is one watched listed company.
type Company struct {
	Symbol           string   `yaml:"symbol" json:"symbol"`
	Name             string   `yaml:"name" json:"name"`
	Sector           string   `yaml:"sector,omitempty" json:"sector,omitempty"`
	BSECode          string   `yaml:"bse_code,omitempty" json:"bse_code,omitempty"`
	Priority         string   `yaml:"priority,omitempty" json:"priority,omitempty"`
	MonitoringActive *bool    `yaml:"monitoring_active,omitempty" json:"monitoring_active,omitempty"`
	Aliases          []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Active reports whether the company is monitored. Unset means active.
func (c Company) Active() bool {
	return c.MonitoringActive == nil || *c.MonitoringActive
}

// Watchlist is the set of tracked companies and sector keywords.
type Watchlist struct {
	Sectors        []Sector  `yaml:"sectors" json:"sectors"`
	Companies      []Company `yaml:"companies" json:"companies"`
	GlobalKeywords []string  `yaml:"global_keywords" json:"global_keywords"`
}

// Normalize upper-cases symbols and trims whitespace in place.
func (w *Watchlist) Normalize() {
	for i := range w.Companies {
		c := &w.Companies[i]
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		c.Name = strings.TrimSpace(c.Name)
		c.BSECode = strings.TrimSpace(c.BSECode)
	}
	for i := range w.Sectors {
		w.Sectors[i].Name = strings.TrimSpace(w.Sectors[i].Name)
	}
}

// Validate checks the structural rules for a watchlist.
func (w Watchlist) Validate() error {
	if len(w.Sectors) == 0 {
		return fmt.Errorf("watchlist must define at least one sector")
	}
	for _, s := range w.Sectors {
		if len(s.Keywords) == 0 {
			return fmt.Errorf("sector %q must define at least one keyword", s.Name)
		}
	}
	if len(w.Companies) == 0 {
		return fmt.Errorf("watchlist must define at least one company")
	}

	counts := make(map[string]int)
	for _, c := range w.Companies {
		if c.Symbol == "" {
			return fmt.Errorf("company %q has no symbol", c.Name)
		}
		counts[c.Symbol]++
	}
	var dups []string
	for symbol, n := range counts {
		if n > 1 {
			dups = append(dups, symbol)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return fmt.Errorf("duplicate company symbols in watchlist: %s", strings.Join(dups, ", "))
	}
	return nil
}

// SymbolForBSECode resolves a numeric scrip code to a watched symbol.
func (w Watchlist) SymbolForBSECode(code string) (string, bool) {
	for _, c := range w.Companies {
		if c.BSECode != "" && c.BSECode == code {
			return c.Symbol, true
		}
	}
	return "", false
}
