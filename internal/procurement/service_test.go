package procurement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franchisepos/inventory/internal/inventory"
	"github.com/franchisepos/inventory/internal/masterdata"
	"github.com/franchisepos/inventory/internal/platform/events"
	"github.com/franchisepos/inventory/internal/platform/httpx"
	"github.com/franchisepos/inventory/internal/shared"
)

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

type memoryProcRepo struct {
	lists   map[int64]PurchaseList
	entries map[string]Entry
	ledger  map[string]inventory.Row
	nextID  int64
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

type memoryLedger struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{lists: map[int64]PurchaseList{}, entries: map[string]Entry{}, ledger: map[string]inventory.Row{}}
}

func entryKey(date time.Time, liID, locationID int64) string {
	return fmt.Sprintf("%s|%d|%d", shared.FormatDate(date), liID, locationID)
}

func ledgerKey(locationID, liID int64, date time.Time) string {
	return fmt.Sprintf("%d|%d|%s", locationID, liID, shared.FormatDate(date))
}

func (r *memoryProcRepo) seedLedger(locationID, liID int64, date time.Time, opening, used float64) {
	row := inventory.Row{Date: date, LocationID: locationID, LocationIngredientID: liID, OpeningStock: opening, UsedQty: used}
	row.Recompute()
	r.ledger[ledgerKey(locationID, liID, date)] = row
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lists := make(map[int64]PurchaseList, len(r.lists))
	for k, v := range r.lists {
		lists[k] = v
	}
	entries := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	ledger := make(map[string]inventory.Row, len(r.ledger))
	for k, v := range r.ledger {
		ledger[k] = v
	}
	if err := fn(ctx, &memoryProcTx{repo: r}); err != nil {
		r.lists, r.entries, r.ledger = lists, entries, ledger
		return err
	}
	return nil
}

func (r *memoryProcRepo) ListLists(_ context.Context, scope shared.LocationScope) ([]PurchaseList, error) {
	var out []PurchaseList
	for _, list := range r.lists {
		if scope.Allows(list.LocationID) {
			out = append(out, list)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *memoryProcRepo) GetList(_ context.Context, id int64) (PurchaseList, error) {
	list, ok := r.lists[id]
	if !ok {
		return PurchaseList{}, ErrListNotFound
	}
	return list, nil
}

func (r *memoryProcRepo) ListEntries(_ context.Context, locationID int64, date time.Time) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.LocationID == locationID && e.Date.Equal(date) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationIngredientID < out[j].LocationIngredientID })
	return out, nil
}

func (tx *memoryProcTx) nextID() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryProcTx) GetListForUpdate(ctx context.Context, id int64) (PurchaseList, error) {
	return tx.repo.GetList(ctx, id)
}

func (tx *memoryProcTx) InsertList(_ context.Context, list PurchaseList) (int64, error) {
	list.ID = tx.nextID()
	tx.repo.lists[list.ID] = list
	return list.ID, nil
}

func (tx *memoryProcTx) ReplaceItems(_ context.Context, listID int64, items []Item) error {
	list := tx.repo.lists[listID]
	list.Items = nil
	for _, item := range items {
		item.ID = tx.nextID()
		item.ListID = listID
		list.Items = append(list.Items, item)
	}
	tx.repo.lists[listID] = list
	return nil
}

func (tx *memoryProcTx) UpdateNotes(_ context.Context, listID int64, notes string) error {
	list := tx.repo.lists[listID]
	list.Notes = notes
	tx.repo.lists[listID] = list
	return nil
}

func (tx *memoryProcTx) SetStatus(_ context.Context, listID int64, status Status) error {
	list, ok := tx.repo.lists[listID]
	if !ok {
		return ErrListNotFound
	}
	list.Status = status
	tx.repo.lists[listID] = list
	return nil
}

func (tx *memoryProcTx) DeleteList(_ context.Context, listID int64) error {
	if _, ok := tx.repo.lists[listID]; !ok {
		return ErrListNotFound
	}
	delete(tx.repo.lists, listID)
	return nil
}

func (tx *memoryProcTx) AddEntry(_ context.Context, entry Entry) (Entry, error) {
	key := entryKey(entry.Date, entry.LocationIngredientID, entry.LocationID)
	if existing, ok := tx.repo.entries[key]; ok {
		existing.Quantity = shared.AddQty(existing.Quantity, entry.Quantity)
		tx.repo.entries[key] = existing
		return existing, nil
	}
	entry.ID = tx.nextID()
	tx.repo.entries[key] = entry
	return entry, nil
}

func (tx *memoryProcTx) Ledger() inventory.LedgerTx {
	return memoryLedger{repo: tx.repo}
}

func (l memoryLedger) GetRowByKeyForUpdate(_ context.Context, locationID, liID int64, date time.Time) (inventory.Row, error) {
	row, ok := l.repo.ledger[ledgerKey(locationID, liID, date)]
	if !ok {
		return inventory.Row{}, inventory.ErrRowNotFound
	}
	return row, nil
}

func (l memoryLedger) UpdateRowQuantities(_ context.Context, row inventory.Row) error {
	l.repo.ledger[ledgerKey(row.LocationID, row.LocationIngredientID, row.Date)] = row
	return nil
}

type memoryCatalog struct {
	locations   map[int64]masterdata.Location
	assignments map[int64]masterdata.LocationIngredient
}

func newMemoryCatalog() *memoryCatalog {
	rice := masterdata.Ingredient{ID: 1, Name: "rice", Unit: masterdata.UnitKilogram, IsActive: true}
	lentil := masterdata.Ingredient{ID: 2, Name: "lentil", Unit: masterdata.UnitKilogram, IsActive: true}
	return &memoryCatalog{
		locations: map[int64]masterdata.Location{
			1: {ID: 1, Name: "Indiranagar", IsActive: true},
			2: {ID: 2, Name: "Koramangala", IsActive: true},
		},
		assignments: map[int64]masterdata.LocationIngredient{
			11: {ID: 11, IngredientID: 1, LocationID: 1, IsAssigned: true, IsAvailable: true, Ingredient: rice},
			12: {ID: 12, IngredientID: 2, LocationID: 1, IsAssigned: true, IsAvailable: true, Ingredient: lentil},
			21: {ID: 21, IngredientID: 1, LocationID: 2, IsAssigned: true, IsAvailable: true, Ingredient: rice},
		},
	}
}

func (c *memoryCatalog) LookupAssignment(_ context.Context, id int64) (masterdata.LocationIngredient, error) {
	li, ok := c.assignments[id]
	if !ok {
		return masterdata.LocationIngredient{}, masterdata.ErrAssignmentNotFound
	}
	return li, nil
}

func (c *memoryCatalog) LookupLocation(_ context.Context, id int64) (masterdata.Location, error) {
	loc, ok := c.locations[id]
	if !ok {
		return masterdata.Location{}, masterdata.ErrLocationNotFound
	}
	return loc, nil
}

type memoryKeys struct{ keys map[string]string }

func (k *memoryKeys) CheckAndInsert(_ context.Context, key, module string) error {
	if _, ok := k.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	k.keys[key] = module
	return nil
}

func (k *memoryKeys) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(k.keys, key)
	return nil
}

type countingMetrics struct{ confirmed []int }

func (m *countingMetrics) RecordPurchaseConfirmed(items int) { m.confirmed = append(m.confirmed, items) }

type recordingPublisher struct{ events []events.Event }

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type scopedAccess struct{ ids []int64 }

func (a scopedAccess) AuthorizeLocation(_ context.Context, id int64) error {
	if (shared.LocationScope{IDs: a.ids}).Allows(id) {
		return nil
	}
	return fmt.Errorf("location %d: %w", id, shared.ErrForbidden)
}

func (a scopedAccess) AllowedLocations(context.Context) (shared.LocationScope, error) {
	return shared.LocationScope{IDs: a.ids}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixture struct {
	svc       *Service
	repo      *memoryProcRepo
	keys      *memoryKeys
	metrics   *countingMetrics
	publisher *recordingPublisher
}

func newFixture(access shared.LocationAccess) *fixture {
	f := &fixture{
		repo:      newMemoryProcRepo(),
		keys:      &memoryKeys{keys: map[string]string{}},
		metrics:   &countingMetrics{},
		publisher: &recordingPublisher{},
	}
	f.svc = NewService(f.repo, newMemoryCatalog(), ServiceConfig{
		Access:    access,
		Keys:      f.keys,
		Publisher: f.publisher,
		Metrics:   f.metrics,
		Clock:     fixedClock{now: day.Add(9 * time.Hour)},
		Location:  time.UTC,
	})
	return f
}

func (f *fixture) draft(t *testing.T, items ...ItemInput) PurchaseList {
	t.Helper()
	list, err := f.svc.CreateList(context.Background(), CreateListInput{LocationID: 1, CreatedBy: "chef", Items: items})
	require.NoError(t, err)
	return list
}

func TestPurchaseListConfirmPostsIntoLedger(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.repo.seedLedger(1, 11, day, 10, 6)
	f.repo.seedLedger(1, 12, day, 10, 4)

	list := f.draft(t, ItemInput{LocationIngredientID: 11, Quantity: 5}, ItemInput{LocationIngredientID: 12, Quantity: 2.5})
	assert.Equal(t, day, list.Date)
	assert.Equal(t, StatusDraft, list.Status)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "rice", list.Items[0].IngredientName)

	res, err := f.svc.ConfirmList(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.List.Status)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, SystemActor, res.Entries[0].AddedBy)

	rice := f.repo.ledger[ledgerKey(1, 11, day)]
	assert.Equal(t, 15.0, rice.OpeningStock)
	assert.Equal(t, 9.0, rice.ClosingStock)
	assert.Equal(t, 6.0, rice.UsedQty)
	lentil := f.repo.ledger[ledgerKey(1, 12, day)]
	assert.Equal(t, 12.5, lentil.OpeningStock)
	assert.Equal(t, 8.5, lentil.ClosingStock)

	entries, err := f.svc.ListEntries(ctx, 1, day)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 5.0, entries[0].Quantity)

	assert.Equal(t, []int{2}, f.metrics.confirmed)
	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, EventListConfirmed, f.publisher.events[1].Type)
	assert.Contains(t, f.keys.keys, fmt.Sprintf("purchase_list:confirm:%d", list.ID))

	_, err = f.svc.ConfirmList(ctx, list.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotDraft))
	assert.Equal(t, http.StatusBadRequest, httpx.StatusOf(err))
	assert.Contains(t, err.Error(), "Only draft lists can be confirmed")
	assert.Equal(t, 15.0, f.repo.ledger[ledgerKey(1, 11, day)].OpeningStock)
}

func TestConfirmAccumulatesExistingEntry(t *testing.T) {
	f := newFixture(nil)
	f.repo.seedLedger(1, 11, day, 0, 0)
	f.repo.entries[entryKey(day, 11, 1)] = Entry{ID: 500, Date: day, LocationIngredientID: 11, LocationID: 1, Quantity: 3, AddedBy: "chef"}

	list := f.draft(t, ItemInput{LocationIngredientID: 11, Quantity: 5})
	res, err := f.svc.ConfirmList(context.Background(), list.ID)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, int64(500), res.Entries[0].ID)
	assert.Equal(t, 8.0, res.Entries[0].Quantity)
	assert.Equal(t, "chef", res.Entries[0].AddedBy)
	assert.Equal(t, 5.0, f.repo.ledger[ledgerKey(1, 11, day)].ClosingStock)
}

func TestConfirmWithoutLedgerRowRollsBack(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.repo.seedLedger(1, 11, day, 10, 0)

	list := f.draft(t, ItemInput{LocationIngredientID: 11, Quantity: 5}, ItemInput{LocationIngredientID: 12, Quantity: 1})
	_, err := f.svc.ConfirmList(ctx, list.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, inventory.ErrRowNotFound))
	assert.Equal(t, http.StatusNotFound, httpx.StatusOf(err))
	assert.Contains(t, err.Error(), "lentil")

	stored, err := f.svc.GetList(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Empty(t, f.repo.entries)
	assert.Equal(t, 10.0, f.repo.ledger[ledgerKey(1, 11, day)].OpeningStock)
	assert.Empty(t, f.keys.keys)
	assert.Empty(t, f.metrics.confirmed)

	// once the row exists the same list confirms
	f.repo.seedLedger(1, 12, day, 0, 0)
	_, err = f.svc.ConfirmList(ctx, list.ID)
	require.NoError(t, err)
}

func TestConfirmReleasesKeyWhenRequestIsCancelled(t *testing.T) {
	f := newFixture(nil)
	f.repo.seedLedger(1, 11, day, 2, 0)
	list := f.draft(t, ItemInput{LocationIngredientID: 11, Quantity: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.ConfirmList(ctx, list.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.keys.keys)

	stored, err := f.svc.GetList(context.Background(), list.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)

	res, err := f.svc.ConfirmList(context.Background(), list.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.List.Status)
	assert.Equal(t, 5.0, f.repo.ledger[ledgerKey(1, 11, day)].OpeningStock)
}

func TestConfirmSkipsItemsWithoutIngredient(t *testing.T) {
	f := newFixture(nil)
	f.repo.seedLedger(1, 11, day, 1, 0)
	f.repo.lists[900] = PurchaseList{
		ID: 900, Date: day, LocationID: 1, Status: StatusDraft,
		Items: []Item{{ID: 1, ListID: 900, Quantity: 4}, {ID: 2, ListID: 900, LocationIngredientID: 11, Quantity: 2}},
	}

	res, err := f.svc.ConfirmList(context.Background(), 900)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Entries, 1)
	assert.Equal(t, 3.0, f.repo.ledger[ledgerKey(1, 11, day)].OpeningStock)
	assert.Len(t, toListResponse(res.List).Items, 1)
}

func TestConfirmRejectsReplayedKey(t *testing.T) {
	f := newFixture(nil)
	f.repo.seedLedger(1, 11, day, 0, 0)
	list := f.draft(t, ItemInput{LocationIngredientID: 11, Quantity: 1})
	f.keys.keys[fmt.Sprintf("purchase_list:confirm:%d", list.ID)] = "procurement.purchase_list"

	_, err := f.svc.ConfirmList(context.Background(), list.ID)
	assert.True(t, errors.Is(err, shared.ErrIdempotencyConflict))
	assert.Equal(t, http.StatusConflict, httpx.StatusOf(err))
	assert.Equal(t, 0.0, f.repo.ledger[ledgerKey(1, 11, day)].OpeningStock)
	assert.Contains(t, f.keys.keys, fmt.Sprintf("purchase_list:confirm:%d", list.ID))
}

func TestCreateListValidation(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	item := ItemInput{LocationIngredientID: 11, Quantity: 1}

	cases := []struct {
		name  string
		input CreateListInput
		want  error
	}{
		{"missing creator", CreateListInput{LocationID: 1, Items: []ItemInput{item}}, ErrInvalidList},
		{"no items", CreateListInput{LocationID: 1, CreatedBy: "chef"}, ErrInvalidList},
		{"zero quantity", CreateListInput{LocationID: 1, CreatedBy: "chef", Items: []ItemInput{{LocationIngredientID: 11}}}, ErrInvalidList},
		{"listed twice", CreateListInput{LocationID: 1, CreatedBy: "chef", Items: []ItemInput{item, item}}, ErrInvalidList},
		{"other location", CreateListInput{LocationID: 1, CreatedBy: "chef", Items: []ItemInput{{LocationIngredientID: 21, Quantity: 1}}}, ErrInvalidList},
		{"unknown ingredient", CreateListInput{LocationID: 1, CreatedBy: "chef", Items: []ItemInput{{LocationIngredientID: 99, Quantity: 1}}}, masterdata.ErrAssignmentNotFound},
		{"unknown location", CreateListInput{LocationID: 7, CreatedBy: "chef", Items: []ItemInput{item}}, masterdata.ErrLocationNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateList(ctx, tc.input)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Empty(t, f.repo.lists)

	date := day.AddDate(0, 0, 2)
	list, err := f.svc.CreateList(ctx, CreateListInput{Date: &date, LocationID: 1, CreatedBy: "chef", Items: []ItemInput{item}})
	require.NoError(t, err)
	assert.Equal(t, date, list.Date)
}

func TestDraftOnlyEdits(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.repo.seedLedger(1, 12, day, 0, 0)
	list := f.draft(t, ItemInput{LocationIngredientID: 11, Quantity: 1})

	notes := "morning market"
	updated, err := f.svc.UpdateList(ctx, list.ID, UpdateListInput{Notes: &notes, Items: []ItemInput{{LocationIngredientID: 12, Quantity: 4}}})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, int64(12), updated.Items[0].LocationIngredientID)

	_, err = f.svc.ConfirmList(ctx, list.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateList(ctx, list.ID, UpdateListInput{Notes: &notes})
	assert.True(t, errors.Is(err, ErrListLocked))
	assert.True(t, errors.Is(f.svc.DeleteList(ctx, list.ID), ErrListLocked))

	other := f.draft(t, ItemInput{LocationIngredientID: 11, Quantity: 1})
	require.NoError(t, f.svc.DeleteList(ctx, other.ID))
	_, err = f.svc.GetList(ctx, other.ID)
	assert.True(t, errors.Is(err, ErrListNotFound))
}

func TestListsFollowLocationScope(t *testing.T) {
	f := newFixture(scopedAccess{ids: []int64{1}})
	ctx := context.Background()
	f.repo.lists[1] = PurchaseList{ID: 1, Date: day.AddDate(0, 0, -1), LocationID: 1, Status: StatusDraft}
	f.repo.lists[2] = PurchaseList{ID: 2, Date: day, LocationID: 1, Status: StatusConfirmed}
	f.repo.lists[3] = PurchaseList{ID: 3, Date: day, LocationID: 2, Status: StatusDraft}

	lists, err := f.svc.ListLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, int64(2), lists[0].ID)
	assert.Equal(t, int64(1), lists[1].ID)

	_, err = f.svc.GetList(ctx, 3)
	assert.True(t, errors.Is(err, shared.ErrForbidden))
	_, err = f.svc.ConfirmList(ctx, 3)
	assert.True(t, errors.Is(err, shared.ErrForbidden))
	_, err = f.svc.ListEntries(ctx, 2, day)
	assert.True(t, errors.Is(err, shared.ErrForbidden))

	none := newFixture(scopedAccess{})
	lists, err = none.svc.ListLists(ctx)
	require.NoError(t, err)
	assert.Empty(t, lists)
}
