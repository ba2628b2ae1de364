package dedupe

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/qso"
	"gorm.io/datatypes"
)

// Store is the slice of the repository the engine needs. *qso.Repository
// satisfies it.
type Store interface {
	ListAllByTime(ctx context.Context) ([]qso.Record, error)
	ApplyMerge(ctx context.Context, winner *qso.Record, presence []qso.PresenceRow, loserIDs []string) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// DefaultWindow is how far apart two reports of the same contact may be.
const DefaultWindow = 5 * time.Minute

type Engine struct {
	store    Store
	producer Publisher
	window   time.Duration
}

func NewEngine(store Store, producer Publisher, window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{store: store, producer: producer, window: window}
}

type Result struct {
	Groups  int `json:"groups"`
	Removed int `json:"removed"`
}

// Run sweeps the whole store once, merging every duplicate group it finds.
// The sweep is deterministic and idempotent: a second run over the merged
// store finds nothing.
//
// Matching treats a blank band as a wildcard because one service omits band
// on some records. Two genuinely distinct contacts sharing callsign, mode
// and time bucket with one blank band would be merged; that risk is accepted
// rather than surfacing duplicate groups as user-facing conflicts.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	records, err := e.store.ListAllByTime(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	processed := make([]bool, len(records))

	for i := range records {
		if processed[i] {
			continue
		}
		processed[i] = true

		group := []int{i}
		for j := i + 1; j < len(records); j++ {
			// Input is time-ordered, so the first candidate past the
			// window ends the scan for this anchor.
			if records[j].Time.Sub(records[i].Time) > e.window {
				break
			}
			if processed[j] {
				continue
			}
			if isDuplicate(&records[i], &records[j]) {
				group = append(group, j)
				processed[j] = true
			}
		}

		if len(group) < 2 {
			continue
		}

		winner, presence, loserIDs := mergeGroup(records, group)
		if err := e.store.ApplyMerge(ctx, winner, presence, loserIDs); err != nil {
			return result, err
		}
		result.Groups++
		result.Removed += len(loserIDs)

		logger.Log.WithFields(map[string]interface{}{
			"winner":   winner.ID,
			"callsign": winner.Callsign,
			"removed":  len(loserIDs),
		}).Info("merged duplicate group")

		if e.producer != nil {
			_ = e.producer.PublishEvent(ctx, "merge", "dedupe-engine", map[string]interface{}{
				"winner_id": winner.ID,
				"loser_ids": loserIDs,
			})
		}
	}

	return result, nil
}

func isDuplicate(a, b *qso.Record) bool {
	if norm(a.Callsign) == "" || norm(a.Callsign) != norm(b.Callsign) {
		return false
	}
	if norm(a.Mode) != norm(b.Mode) {
		return false
	}
	aBand, bBand := norm(a.Band), norm(b.Band)
	if aBand != "" && bBand != "" && aBand != bBand {
		return false
	}
	return true
}

func norm(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// mergeGroup resolves one duplicate group: picks the winner, fills its empty
// fields from the losers (first non-empty wins, in group order) and folds
// every loser's presence rows into the winner's.
func mergeGroup(records []qso.Record, group []int) (*qso.Record, []qso.PresenceRow, []string) {
	winnerIdx := selectWinner(records, group)
	winner := records[winnerIdx]

	presence := map[string]qso.PresenceRow{}
	for _, row := range winner.Presence {
		presence[row.Service] = row
	}

	var loserIDs []string
	for _, idx := range group {
		if idx == winnerIdx {
			continue
		}
		loser := &records[idx]
		loserIDs = append(loserIDs, loser.ID)
		fillFrom(&winner, loser)
		foldPresence(presence, loser.Presence)
	}

	rows := make([]qso.PresenceRow, 0, len(presence))
	for _, service := range sortedServices(presence) {
		rows = append(rows, presence[service])
	}
	winner.Presence = nil
	return &winner, rows, loserIDs
}

// selectWinner prefers the record most services already know about, then the
// one carrying the most detail, then group order for a stable result.
func selectWinner(records []qso.Record, group []int) int {
	best := group[0]
	bestPresent := presentCount(&records[best])
	bestFields := records[best].OptionalFieldCount()

	for _, idx := range group[1:] {
		present := presentCount(&records[idx])
		fields := records[idx].OptionalFieldCount()
		if present > bestPresent || (present == bestPresent && fields > bestFields) {
			best, bestPresent, bestFields = idx, present, fields
		}
	}
	return best
}

func presentCount(rec *qso.Record) int {
	count := 0
	for _, row := range rec.Presence {
		if row.IsPresent {
			count++
		}
	}
	return count
}

func fillFrom(winner *qso.Record, loser *qso.Record) {
	fillString(&winner.Band, loser.Band)
	fillString(&winner.RSTSent, loser.RSTSent)
	fillString(&winner.RSTRcvd, loser.RSTRcvd)
	fillString(&winner.StationCallsign, loser.StationCallsign)
	fillString(&winner.MyGridsquare, loser.MyGridsquare)
	fillString(&winner.Gridsquare, loser.Gridsquare)
	fillString(&winner.MyParkRef, loser.MyParkRef)
	fillString(&winner.ParkRef, loser.ParkRef)
	fillString(&winner.Name, loser.Name)
	fillString(&winner.QTH, loser.QTH)
	fillString(&winner.TxPower, loser.TxPower)
	fillString(&winner.Notes, loser.Notes)
	fillString(&winner.RawADIF, loser.RawADIF)
	if winner.FreqKHz == 0 {
		winner.FreqKHz = loser.FreqKHz
	}

	if len(loser.ExternalIDs) > 0 {
		if winner.ExternalIDs == nil {
			winner.ExternalIDs = datatypes.JSONMap{}
		}
		for k, v := range loser.ExternalIDs {
			if _, ok := winner.ExternalIDs[k]; !ok {
				winner.ExternalIDs[k] = v
			}
		}
	}
	if len(loser.Confirmations) > 0 {
		if winner.Confirmations == nil {
			winner.Confirmations = datatypes.JSONMap{}
		}
		for k, v := range loser.Confirmations {
			if flagged, ok := v.(bool); ok && flagged {
				winner.Confirmations[k] = true
			} else if _, ok := winner.Confirmations[k]; !ok {
				winner.Confirmations[k] = v
			}
		}
	}
}

func fillString(dst *string, src string) {
	if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
		*dst = src
	}
}

// foldPresence transfers a loser's rows onto the winner: outright when the
// winner has no row for the service, otherwise upgrading to present when the
// loser was present there. UploadRejected stays sticky either way.
func foldPresence(presence map[string]qso.PresenceRow, loserRows []qso.PresenceRow) {
	for _, row := range loserRows {
		existing, ok := presence[row.Service]
		if !ok {
			row.ID = "" // re-created under the winner
			presence[row.Service] = row
			continue
		}
		if row.IsPresent && !existing.IsPresent {
			existing.IsPresent = true
			existing.NeedsUpload = false
			if row.LastConfirmedAt != nil {
				existing.LastConfirmedAt = row.LastConfirmedAt
			}
		}
		if row.Duplicate {
			existing.Duplicate = true
			if !existing.IsPresent {
				existing.NeedsUpload = false
			}
		}
		if row.UploadRejected {
			existing.UploadRejected = true
			if !existing.IsPresent {
				existing.NeedsUpload = false
			}
		}
		presence[row.Service] = existing
	}
}

func sortedServices(presence map[string]qso.PresenceRow) []string {
	services := make([]string, 0, len(presence))
	for s := range presence {
		services = append(services, s)
	}
	sort.Strings(services)
	return services
}
