package projector

import (
	"sort"
	"strconv"
	"strings"
)

// maxDraftSequence is the last sequence number of a standard draft.
const maxDraftSequence = 20

// DraftPhase maps a sequence number to its phase label. ok is false outside 1-20.
func DraftPhase(sequence int64) (phase string, ok bool) {
	switch {
	case sequence >= 1 && sequence <= 6:
		return PhaseBan1, true
	case sequence >= 7 && sequence <= 12:
		return PhasePick1, true
	case sequence >= 13 && sequence <= 16:
		return PhaseBan2, true
	case sequence >= 17 && sequence <= maxDraftSequence:
		return PhasePick2, true
	default:
		return "", false
	}
}

// draft validates and emits the draft actions of one game. Out-of-range
// actions are dropped individually; a gap or duplicate drops the whole draft.
func (p *projection) draft(seriesID string, g *game) {
	if len(g.DraftActions) == 0 {
		return
	}

	records := make([]DraftActionRecord, 0, len(g.DraftActions))
	for _, a := range g.DraftActions {
		if a.SequenceNumber == nil {
			p.issue(seriesID, g.ID, IssueDraftOutOfRange, "draft action %s has no sequence number", a.ID)
			continue
		}
		seq := int64(*a.SequenceNumber)
		phase, ok := DraftPhase(seq)
		if !ok {
			p.issue(seriesID, g.ID, IssueDraftOutOfRange, "draft action %s has sequence number %d", a.ID, seq)
			continue
		}

		rec := DraftActionRecord{
			GameID:         g.ID,
			SeriesID:       seriesID,
			SequenceNumber: seq,
			Phase:          phase,
			ActionType:     a.Type,
		}
		if a.Drafter != nil && a.Drafter.ID != "" {
			rec.TeamID = ptr(a.Drafter.ID)
		}
		if a.Draftable != nil && a.Draftable.ID != "" {
			rec.ChampionID = ptr(a.Draftable.ID)
			rec.ChampionName = ptr(a.Draftable.Name)
			p.champion(a.Draftable.ID, a.Draftable.Name)
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SequenceNumber < records[j].SequenceNumber
	})

	var duplicates, missing []int64
	next := int64(1)
	for i, r := range records {
		if i > 0 && r.SequenceNumber == records[i-1].SequenceNumber {
			duplicates = append(duplicates, r.SequenceNumber)
			continue
		}
		for ; next < r.SequenceNumber; next++ {
			missing = append(missing, next)
		}
		next = r.SequenceNumber + 1
	}

	if len(duplicates) > 0 {
		p.issue(seriesID, g.ID, IssueDraftDuplicate,
			"duplicate sequence numbers %s; %d draft actions excluded", joinInts(duplicates), len(records))
	}
	if len(missing) > 0 {
		p.issue(seriesID, g.ID, IssueDraftGap,
			"missing sequence numbers %s; %d draft actions excluded", joinInts(missing), len(records))
	}
	if len(duplicates) > 0 || len(missing) > 0 {
		return
	}

	p.result.DraftActions = append(p.result.DraftActions, records...)
}

func joinInts(ns []int64) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ",")
}
