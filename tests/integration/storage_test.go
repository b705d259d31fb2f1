package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaip/budget-chat/internal/storage"
)

func TestStorage_AgainstPostgres(t *testing.T) {
	containers := SetupTestContainers(t)
	db := containers.OpenMigrated(t)
	seedBudget(t, db)

	ctx := context.Background()
	store := storage.NewStore(db)

	t.Run("directory", func(t *testing.T) {
		barangays, err := store.Directory.ListBarangays(ctx)
		require.NoError(t, err)
		require.Len(t, barangays, 2)
		assert.Equal(t, "Mamatid", barangays[0].Name)
		require.NotNil(t, barangays[1].CityID)
		assert.Equal(t, cityCabuyao, *barangays[1].CityID)

		cities, err := store.Directory.ListCities(ctx)
		require.NoError(t, err)
		require.Len(t, cities, 1)
		assert.Equal(t, storage.ScopeCity, cities[0].Type)
	})

	t.Run("published AIP lookup skips drafts", func(t *testing.T) {
		aip, err := store.AIPs.FindPublished(ctx, storage.ScopeBarangay, barangayPulo, nil)
		require.NoError(t, err)
		assert.Equal(t, aipPulo2026, aip.ID)
		assert.Equal(t, 2026, aip.FiscalYear)

		aip, err = store.AIPs.FindPublished(ctx, storage.ScopeBarangay, barangayPulo, intPtr(2025))
		require.NoError(t, err)
		assert.Equal(t, aipPulo2025, aip.ID)

		_, err = store.AIPs.FindPublished(ctx, storage.ScopeBarangay, barangayPulo, intPtr(2027))
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = store.AIPs.FindPublished(ctx, storage.ScopeCity, cityCabuyao, nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("printed total and line item sum", func(t *testing.T) {
		total, err := store.AIPs.GetTotal(ctx, aipPulo2026)
		require.NoError(t, err)
		assert.InDelta(t, 12345678.90, total.TotalInvestmentProgram, 0.001)
		require.NotNil(t, total.PageNo)
		assert.Equal(t, 3, *total.PageNo)

		_, err = store.AIPs.GetTotal(ctx, aipPulo2025)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		sum, count, err := store.LineItems.SumByAIP(ctx, aipPulo2026)
		require.NoError(t, err)
		assert.InDelta(t, 8000000, sum, 0.001)
		assert.Equal(t, 3, count)
	})

	t.Run("top projects", func(t *testing.T) {
		rows, err := store.RPC.TopProjects(ctx, 2, 2026, strPtr(barangayPulo))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Road Concreting", rows[0].ProgramProjectTitle)
		assert.Equal(t, "Health Center Upgrade", rows[1].ProgramProjectTitle)

		rows, err = store.RPC.TopProjects(ctx, 1, 2026, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Mamatid Covered Court", rows[0].ProgramProjectTitle)

		rows, err = store.RPC.TopProjectsForBarangays(ctx, 10, 2026, []string{barangayPulo, barangayMamatid})
		require.NoError(t, err)
		assert.Len(t, rows, 4)
	})

	t.Run("grouped totals", func(t *testing.T) {
		sectors, err := store.RPC.TotalsBySector(ctx, 2026, strPtr(barangayPulo))
		require.NoError(t, err)
		require.Len(t, sectors, 3)
		assert.Equal(t, "General Public Services", sectors[0].Label)
		assert.InDelta(t, 5000000, sectors[0].Total, 0.001)

		funds, err := store.RPC.TotalsByFundSourceForBarangays(ctx, 2026, []string{barangayPulo, barangayMamatid})
		require.NoError(t, err)
		require.Len(t, funds, 2)
		assert.Equal(t, "General Fund", funds[0].Key)
		assert.InDelta(t, 14000000, funds[0].Total, 0.001)
		assert.Equal(t, 3, funds[0].Count)
	})

	t.Run("compare fiscal years", func(t *testing.T) {
		cmp, err := store.RPC.CompareFiscalYearTotals(ctx, 2025, 2026, strPtr(barangayPulo))
		require.NoError(t, err)
		assert.InDelta(t, 3000000, cmp.YearATotal, 0.001)
		assert.InDelta(t, 8000000, cmp.YearBTotal, 0.001)
		assert.InDelta(t, 5000000, cmp.Difference, 0.001)
	})

	t.Run("vector match", func(t *testing.T) {
		matches, err := store.RPC.MatchLineItems(ctx, storage.MatchParams{
			Embedding:  []float32{1, 0, 0},
			MatchCount: 5,
			BarangayID: strPtr(barangayPulo),
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, itemRoad, matches[0].LineItemID)
		require.NotNil(t, matches[0].Distance)
		assert.InDelta(t, 0, *matches[0].Distance, 1e-6)

		matches, err = store.RPC.MatchLineItems(ctx, storage.MatchParams{
			Embedding:     []float32{1, 0, 0},
			MatchCount:    5,
			MinSimilarity: 0.5,
			FiscalYear:    intPtr(2026),
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, itemRoad, matches[0].LineItemID)
		assert.Equal(t, "Mamatid Covered Court", matches[1].ProgramProjectTitle)
	})

	t.Run("line item lookup", func(t *testing.T) {
		items, err := store.LineItems.FindByRefCode(ctx, "3000-001", storage.LineItemFilter{})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, itemHealth, items[0].ID)

		byID, err := store.LineItems.GetByIDs(ctx, []string{itemRoad, itemDrainage})
		require.NoError(t, err)
		assert.Len(t, byID, 2)
	})

	t.Run("chat quota", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			d, err := store.RPC.ConsumeChatQuota(ctx, "quota-user", 2, 100, "barangay_chat_message")
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
		d, err := store.RPC.ConsumeChatQuota(ctx, "quota-user", 2, 100, "barangay_chat_message")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, "minute_limit_exceeded", d.Reason)

		d, err = store.RPC.ConsumeChatQuota(ctx, "other-user", 2, 100, "barangay_chat_message")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("sessions", func(t *testing.T) {
		sess, err := store.Sessions.CreateSession(ctx, "user-1", strPtr("Budget questions"))
		require.NoError(t, err)

		got, err := store.Sessions.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)

		_, err = store.Sessions.GetSession(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = store.Sessions.LatestAssistantMessage(ctx, sess.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = store.Sessions.AppendUserMessage(ctx, sess.ID, "hello")
		require.NoError(t, err)
		meta := json.RawMessage(`{"status":"answer"}`)
		reply, err := store.Sessions.AppendAssistantMessage(ctx, sess.ID, "hi", json.RawMessage(`[]`), meta)
		require.NoError(t, err)

		latest, err := store.Sessions.LatestAssistantMessage(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, reply.ID, latest.ID)
		assert.JSONEq(t, string(meta), string(latest.RetrievalMeta))

		msgs, err := store.Sessions.ListMessages(ctx, sess.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, storage.RoleUser, msgs[0].Role)
		assert.Equal(t, storage.RoleAssistant, msgs[1].Role)
	})
}
