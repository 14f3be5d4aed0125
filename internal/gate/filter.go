package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tujanalyst/tujanalyst/internal/models"
)

type nameEntry struct {
	needle string
	symbol string
}

// WatchlistFilter is the cheap local gate. It never calls out of process.
type WatchlistFilter struct {
	symbols  map[string]struct{}
	ordered  []string
	names    []nameEntry
	sectors  map[string]struct{}
	keywords []string
}

// NewWatchlistFilter indexes the active companies and sector keywords of wl.
func NewWatchlistFilter(wl models.Watchlist) *WatchlistFilter {
	f := &WatchlistFilter{
		symbols: make(map[string]struct{}),
		sectors: make(map[string]struct{}),
	}

	seenNames := make(map[string]struct{})
	for _, c := range wl.Companies {
		if !c.Active() {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if symbol != "" {
			if _, ok := f.symbols[symbol]; !ok {
				f.ordered = append(f.ordered, symbol)
			}
			f.symbols[symbol] = struct{}{}
		}
		for _, candidate := range append([]string{c.Name}, c.Aliases...) {
			needle := strings.ToLower(strings.TrimSpace(candidate))
			if needle == "" {
				continue
			}
			if _, ok := seenNames[needle]; ok {
				continue
			}
			seenNames[needle] = struct{}{}
			f.names = append(f.names, nameEntry{needle: needle, symbol: symbol})
		}
	}
	sort.Strings(f.ordered)

	keywords := make(map[string]struct{})
	for _, s := range wl.Sectors {
		if name := strings.ToLower(strings.TrimSpace(s.Name)); name != "" {
			f.sectors[name] = struct{}{}
		}
		for _, k := range s.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords[k] = struct{}{}
			}
		}
	}
	for _, k := range wl.GlobalKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords[k] = struct{}{}
		}
	}
	for k := range keywords {
		f.keywords = append(f.keywords, k)
	}
	sort.Strings(f.keywords)

	return f
}

// Check runs the cascade: explicit symbol, company name or alias, sector
// keyword, then a scan of the content for any watched name or symbol.
func (f *WatchlistFilter) Check(t *models.TriggerEvent) models.GateResult {
	symbol := strings.ToUpper(strings.TrimSpace(t.CompanySymbol))
	companyName := strings.ToLower(strings.TrimSpace(t.CompanyName))
	sector := strings.ToLower(strings.TrimSpace(t.Sector))
	content := strings.TrimSpace(strings.ToLower(t.RawContent) + " " + strings.ToLower(t.SourceFeedTitle))

	if _, ok := f.symbols[symbol]; ok && symbol != "" {
		return pass(fmt.Sprintf("Watched symbol matched: %s", symbol), models.GateMethodSymbolMatch)
	}

	if companyName != "" {
		for _, n := range f.names {
			if strings.Contains(companyName, n.needle) {
				return pass(fmt.Sprintf("Watched company/alias matched: %s (%s)", n.needle, n.symbol), models.GateMethodNameMatch)
			}
		}
	}

	if _, ok := f.sectors[sector]; ok && sector != "" {
		if k := f.findKeyword(content); k != "" {
			return pass(fmt.Sprintf("Watched sector + keyword matched: %s", k), models.GateMethodKeywordMatch)
		}
		return reject("Watched sector matched but no relevant keywords found", models.GateMethodSectorNoKeyword)
	}

	for _, n := range f.names {
		if strings.Contains(content, n.needle) {
			return pass(fmt.Sprintf("Company mention in content: %s (%s)", n.needle, n.symbol), models.GateMethodContentScan)
		}
	}
	for _, s := range f.ordered {
		if strings.Contains(content, strings.ToLower(s)) {
			return pass(fmt.Sprintf("Company symbol mention in content: %s", s), models.GateMethodContentScan)
		}
	}

	return reject("No watchlist symbol/name/sector-keyword match", models.GateMethodNoMatch)
}

func (f *WatchlistFilter) findKeyword(content string) string {
	for _, k := range f.keywords {
		if strings.Contains(content, k) {
			return k
		}
	}
	return ""
}

func pass(reason, method string) models.GateResult {
	return models.GateResult{Passed: true, Reason: reason, Method: method}
}

func reject(reason, method string) models.GateResult {
	return models.GateResult{Passed: false, Reason: reason, Method: method}
}
