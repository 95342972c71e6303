package datadragon

import (
	"maps"
	"slices"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/Sternrassler/grid-series-fetcher/pkg/export"
)

// Table names.
const (
	TableIconMapping = "champion_icon_mapping"
	TableGridNames   = "grid_to_riot_key"
)

// CatalogFile is the raw catalog file name, without extension.
const CatalogFile = "champions_datadragon"

// nameOverrides are GRID names whose Riot key cannot be derived from the display name.
var nameOverrides = map[string]string{
	"Nunu & Willump": "Nunu",
	"Renata Glasc":   "Renata",
	"Wukong":         "MonkeyKing",
}

// nameVariants returns the spellings GRID is known to use for a display name.
func nameVariants(name string) []string {
	return []string{
		strings.ReplaceAll(name, "'", ""),
		strings.ReplaceAll(name, "'", "’"),
		strings.ReplaceAll(name, " ", ""),
		strings.ReplaceAll(name, "&", "and"),
	}
}

// GridNames maps every known GRID spelling of a champion to its Riot key.
func (cat *Catalog) GridNames() map[string]string {
	out := make(map[string]string, len(cat.Champions)*2)
	for _, c := range cat.Champions {
		out[c.DisplayName] = c.RiotKey
	}
	for _, c := range cat.Champions {
		for _, v := range nameVariants(c.DisplayName) {
			if _, taken := out[v]; !taken {
				out[v] = c.RiotKey
			}
		}
	}
	maps.Copy(out, nameOverrides)
	return out
}

// RiotKey resolves a GRID champion name.
func (cat *Catalog) RiotKey(gridName string) (string, bool) {
	key, ok := cat.GridNames()[gridName]
	return key, ok
}

// JSON encodes the catalog for the raw catalog file.
func (cat *Catalog) JSON() ([]byte, error) {
	return sonic.MarshalIndent(cat, "", "  ")
}

var (
	iconColumns = []export.Column{
		{Name: "display_name"}, {Name: "riot_key"}, {Name: "riot_id"}, {Name: "title"},
		{Name: "icon_url"}, {Name: "tags"}, {Name: "partype"},
	}
	gridNameColumns = []export.Column{{Name: "grid_name"}, {Name: "riot_key"}}
)

// Tables returns the icon mapping and the GRID name mapping, rows in deterministic order.
func (cat *Catalog) Tables() []export.Table {
	icons := export.Table{Name: TableIconMapping, Columns: iconColumns}
	for _, c := range cat.Champions {
		icons.Rows = append(icons.Rows, []export.Value{
			export.Str(c.DisplayName),
			export.Str(c.RiotKey),
			export.Str(c.RiotID),
			export.Str(c.Title),
			export.Str(c.IconURL),
			export.Str(strings.Join(c.Tags, "|")),
			export.Str(c.Partype),
		})
	}

	names := cat.GridNames()
	grid := export.Table{Name: TableGridNames, Columns: gridNameColumns}
	for _, name := range slices.Sorted(maps.Keys(names)) {
		grid.Rows = append(grid.Rows, []export.Value{export.Str(name), export.Str(names[name])})
	}
	return []export.Table{icons, grid}
}
