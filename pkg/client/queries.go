package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// DefaultSchemaVersion is assumed when the version check returns no version.
const DefaultSchemaVersion = "3.0"

const versionQuery = `
query VersionCheck($seriesId: ID!) {
  seriesState(id: $seriesId) { id version }
}
`

// Field sets that differ between schema tiers.
const (
	teamFieldsBase   = "id name side won score kills deaths structuresDestroyed"
	playerFieldsBase = "id name participationStatus\n          character { id name }\n          kills deaths killAssistsGiven"
)

// queryTier is one full series-state document and the lowest schema version it applies to.
type queryTier struct {
	name     string
	major    int
	minor    int
	document string
}

// Tiers ordered from newest to oldest. Selection picks the first whose
// threshold is <= the series' schema version.
var queryTiers = []queryTier{
	{name: "v3.43", major: 3, minor: 43, document: buildSeriesQuery(true, true, []string{"damageDealt", "experiencePoints", "visionScore", "kdaRatio", "killParticipation"})},
	{name: "v3.35", major: 3, minor: 35, document: buildSeriesQuery(true, true, []string{"damageDealt", "experiencePoints", "visionScore", "kdaRatio", "killParticipation"})},
	{name: "v3.30", major: 3, minor: 30, document: buildSeriesQuery(true, true, []string{"damageDealt", "experiencePoints", "visionScore", "kdaRatio"})},
	{name: "v3.23", major: 3, minor: 23, document: buildSeriesQuery(true, true, []string{"damageDealt", "experiencePoints"})},
	{name: "v3.10", major: 3, minor: 10, document: buildSeriesQuery(true, false, nil)},
	{name: "base", major: 0, minor: 0, document: buildSeriesQuery(false, false, nil)},
}

func buildSeriesQuery(firstKill, titleVersion bool, lolFields []string) string {
	teamFields := teamFieldsBase
	playerFields := playerFieldsBase
	if firstKill {
		teamFields += " firstKill"
		playerFields += " firstKill"
	}
	if len(lolFields) > 0 {
		playerFields += "\n          ... on GamePlayerStateLol {\n            " +
			strings.Join(lolFields, "\n            ") + "\n          }"
	}
	title := ""
	if titleVersion {
		title = "\n      titleVersion { name }"
	}

	return `
query SeriesState($seriesId: ID!) {
  seriesState(id: $seriesId) {
    id version
    title { nameShortened }
    format started finished startedAt
    teams { id name won score }
    games {
      id sequenceNumber started finished paused
      clock { currentSeconds ticking }` + title + `
      map { name }
      draftActions {
        id sequenceNumber type
        drafter { id type }
        draftable { id type name }
      }
      teams {
        ` + teamFields + `
        objectives { id type }
        players {
          ` + playerFields + `
        }
      }
    }
  }
}
`
}

// SelectQuery returns the tier name and full series-state document for a
// schema version string such as "3.43". Unparseable versions use the base tier.
func SelectQuery(version string) (string, string) {
	major, minor, ok := parseVersion(version)
	if !ok {
		base := queryTiers[len(queryTiers)-1]
		return base.name, base.document
	}
	for _, tier := range queryTiers {
		if major > tier.major || (major == tier.major && minor >= tier.minor) {
			return tier.name, tier.document
		}
	}
	base := queryTiers[len(queryTiers)-1]
	return base.name, base.document
}

func parseVersion(version string) (int, int, bool) {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor := 0
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return 0, 0, false
		}
	}
	return major, minor, true
}

// validateDocuments parses every query document and returns the operation name
// of each, keyed by document text.
func validateDocuments() (map[string]string, error) {
	docs := []struct{ name, text string }{{name: "version", text: versionQuery}}
	for _, tier := range queryTiers {
		docs = append(docs, struct{ name, text string }{name: tier.name, text: tier.document})
	}

	ops := make(map[string]string, len(docs))
	for _, d := range docs {
		doc, err := parser.ParseQuery(&ast.Source{Name: d.name, Input: d.text})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, d.name, err)
		}
		if len(doc.Operations) != 1 || doc.Operations[0].Name == "" {
			return nil, fmt.Errorf("%w: %s: expected one named operation", ErrInvalidQuery, d.name)
		}
		ops[d.text] = doc.Operations[0].Name
	}
	return ops, nil
}
