package engine

import (
	"sort"

	"github.com/stormalert/stormalertapi/internal/models"
)

// subscriber is one (user, symbol) pair watching an instrument token.
type subscriber struct {
	UserID string
	Symbol string
}

// subscriptionTable maps an instrument token to the users watching it.
// Tables are immutable once built; the refresher publishes a new one
// via atomic pointer swap and readers hold whichever snapshot they
// loaded for the duration of one batch.
type subscriptionTable struct {
	byToken map[uint32][]subscriber
	tokens  []uint32 // sorted union of subscribed tokens
}

// buildSubscriptionTable builds a table from active watchlist rows.
// Subscriber lists are sorted (user, symbol) so that alert emission
// order is deterministic for identical inputs.
func buildSubscriptionTable(stocks []models.WatchedStock) *subscriptionTable {
	byToken := make(map[uint32][]subscriber)
	for _, s := range stocks {
		if !s.Active || s.InstrumentToken == 0 {
			continue
		}
		byToken[s.InstrumentToken] = append(byToken[s.InstrumentToken], subscriber{
			UserID: s.UserID,
			Symbol: s.Symbol,
		})
	}

	tokens := make([]uint32, 0, len(byToken))
	for token, subs := range byToken {
		sort.Slice(subs, func(i, j int) bool {
			if subs[i].UserID != subs[j].UserID {
				return subs[i].UserID < subs[j].UserID
			}
			return subs[i].Symbol < subs[j].Symbol
		})
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	return &subscriptionTable{byToken: byToken, tokens: tokens}
}

// settingsSnapshot is the read-only settings map published by the refresher.
type settingsSnapshot struct {
	byUser map[string]models.UserSettings
}

func buildSettingsSnapshot(settings []models.UserSettings) *settingsSnapshot {
	byUser := make(map[string]models.UserSettings, len(settings))
	for _, s := range settings {
		byUser[s.UserID] = s
	}
	return &settingsSnapshot{byUser: byUser}
}
