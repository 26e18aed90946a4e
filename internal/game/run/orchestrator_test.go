package run_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/delvecraft/expedition/internal/game/catalog"
	"github.com/delvecraft/expedition/internal/game/dice"
	"github.com/delvecraft/expedition/internal/game/run"
	"github.com/delvecraft/expedition/internal/rules"
	"github.com/delvecraft/expedition/internal/snapshot"
)

// fakeRules is a scripted RulesService. Defaults mimic a cooperative rules
// engine; tests override the Fn fields to inject failures or fixed results.
type fakeRules struct {
	mu sync.Mutex

	expedition   rules.Expedition
	participants []rules.Participant

	layoutFn     func(req rules.GenerateLayoutRequest) (*rules.FloorLayout, error)
	resolveFn    func(roomID int64, roll int) (*rules.EncounterResult, error)
	processFn    func(req rules.ProcessRewardsRequest) (*rules.RewardSet, error)
	assignFn     func(req rules.AssignItemRequest) error
	distributeFn func(req rules.DistributeGoldRequest) (*rules.GoldDistribution, error)
	completeFn   func(roomID int64) error

	resolveCalls    []int64
	processCalls    []rules.ProcessRewardsRequest
	assignCalls     []rules.AssignItemRequest
	distributeCalls []rules.DistributeGoldRequest
	completeCalls   []int64
	updateCalls     []rules.UpdateExpeditionRequest
}

func newFakeRules() *fakeRules {
	return &fakeRules{
		expedition: rules.Expedition{ID: 7, Status: rules.StatusActive, CurrentFloor: 1},
		participants: []rules.Participant{
			{ID: 1, ExpeditionID: 7, CharacterName: "Alda", Active: true},
			{ID: 2, ExpeditionID: 7, CharacterName: "Bren", Active: true},
			{ID: 3, ExpeditionID: 7, CharacterName: "Cato", Active: true},
		},
	}
}

func (f *fakeRules) GenerateFloorLayout(_ context.Context, req rules.GenerateLayoutRequest) (*rules.FloorLayout, error) {
	f.mu.Lock()
	fn := f.layoutFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return defaultLayout(req), nil
}

// defaultLayout mirrors the real generator's shape: the configured common
// rooms in ascending order with a boss room appended.
func defaultLayout(req rules.GenerateLayoutRequest) *rules.FloorLayout {
	layout := &rules.FloorLayout{ExpeditionID: req.ExpeditionID, Floor: req.Floor}
	ordinal := 0
	for i := 0; i < 3; i++ {
		ordinal++
		layout.Rooms = append(layout.Rooms, rules.RoomLayout{
			ID: int64(100 + ordinal), Ordinal: ordinal, RoomType: "comun",
		})
	}
	if req.IncludeBonus {
		ordinal++
		layout.Rooms = append(layout.Rooms, rules.RoomLayout{
			ID: int64(100 + ordinal), Ordinal: ordinal, RoomType: "bonus",
		})
	}
	if req.IncludeEvent {
		ordinal++
		layout.Rooms = append(layout.Rooms, rules.RoomLayout{
			ID: int64(100 + ordinal), Ordinal: ordinal, RoomType: "evento",
		})
	}
	ordinal++
	layout.Rooms = append(layout.Rooms, rules.RoomLayout{
		ID: int64(100 + ordinal), Ordinal: ordinal, RoomType: "jefe",
	})
	layout.TotalRooms = len(layout.Rooms)
	return layout
}

func (f *fakeRules) ResolveEncounter(_ context.Context, roomID int64, roll int) (*rules.EncounterResult, error) {
	f.mu.Lock()
	f.resolveCalls = append(f.resolveCalls, roomID)
	fn := f.resolveFn
	f.mu.Unlock()
	if fn != nil {
		return fn(roomID, roll)
	}
	return &rules.EncounterResult{Roll: roll, TotalEnemies: 2, Enemies: []rules.Enemy{{Name: "Goblin", MaxCount: 2}}}, nil
}

func (f *fakeRules) ProcessRewards(_ context.Context, req rules.ProcessRewardsRequest) (*rules.RewardSet, error) {
	f.mu.Lock()
	f.processCalls = append(f.processCalls, req)
	fn := f.processFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &rules.RewardSet{RoomID: req.RoomID}, nil
}

func (f *fakeRules) AssignItem(_ context.Context, req rules.AssignItemRequest) error {
	f.mu.Lock()
	f.assignCalls = append(f.assignCalls, req)
	fn := f.assignFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil
}

func (f *fakeRules) DistributeGold(_ context.Context, req rules.DistributeGoldRequest) (*rules.GoldDistribution, error) {
	f.mu.Lock()
	f.distributeCalls = append(f.distributeCalls, req)
	fn := f.distributeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	// Even split among currently active participants, like the service.
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []rules.Participant
	for _, p := range f.participants {
		if p.Active {
			active = append(active, p)
		}
	}
	dist := &rules.GoldDistribution{}
	for _, p := range active {
		dist.Shares = append(dist.Shares, rules.GoldShare{
			ParticipantID: p.ID,
			CharacterName: p.CharacterName,
			Gold:          req.TotalGold / len(active),
		})
	}
	return dist, nil
}

func (f *fakeRules) CompleteRoom(_ context.Context, roomID int64) error {
	f.mu.Lock()
	f.completeCalls = append(f.completeCalls, roomID)
	fn := f.completeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(roomID)
	}
	return nil
}

func (f *fakeRules) GetExpedition(_ context.Context, id int64) (*rules.Expedition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.expedition.ID {
		return nil, &rules.APIError{StatusCode: 404, Operation: "get expedition"}
	}
	exp := f.expedition
	return &exp, nil
}

func (f *fakeRules) UpdateExpedition(_ context.Context, id int64, req rules.UpdateExpeditionRequest) (*rules.Expedition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, req)
	if req.Status != nil {
		f.expedition.Status = *req.Status
	}
	if req.CurrentFloor != nil {
		f.expedition.CurrentFloor = *req.CurrentFloor
	}
	exp := f.expedition
	return &exp, nil
}

func (f *fakeRules) ListParticipants(_ context.Context, _ int64) ([]rules.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rules.Participant(nil), f.participants...), nil
}

func (f *fakeRules) AddParticipant(_ context.Context, expeditionID int64, req rules.AddParticipantRequest) (*rules.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := rules.Participant{
		ID:            int64(len(f.participants) + 1),
		ExpeditionID:  expeditionID,
		UserID:        req.UserID,
		CharacterName: req.CharacterName,
		Active:        true,
	}
	f.participants = append(f.participants, p)
	return &p, nil
}

func (f *fakeRules) DeactivateParticipant(_ context.Context, participantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.participants {
		if f.participants[i].ID == participantID {
			f.participants[i].Active = false
			return nil
		}
	}
	return &rules.APIError{StatusCode: 404, Operation: "deactivate participant"}
}

func (f *fakeRules) ReactivateParticipant(_ context.Context, participantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.participants {
		if f.participants[i].ID == participantID {
			f.participants[i].Active = true
			return nil
		}
	}
	return &rules.APIError{StatusCode: 404, Operation: "reactivate participant"}
}

func runCatalog() *catalog.Catalog {
	fixed := 15
	diceNotation := "2d6+10"
	return catalog.New(
		[]catalog.Floor{
			{Number: 1, TierID: 1, TierNumber: 1, CommonRooms: 3},
			{Number: 2, TierID: 1, TierNumber: 1, CommonRooms: 3},
		},
		[]catalog.Tier{{ID: 1, Number: 1, FloorMin: 1, FloorMax: 4}},
		[]catalog.Item{
			{ID: 100, Name: "Espada corta", Kind: catalog.ItemWeapon, BasePrice: &fixed},
			{ID: 101, Name: "Amuleto raro", Kind: catalog.ItemOther, PriceDice: &diceNotation},
		},
	)
}

type fixture struct {
	fake  *fakeRules
	store *snapshot.MemStore
	orch  *run.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := newFakeRules()
	store := snapshot.NewMemStore()
	orch := run.NewOrchestrator(run.Options{
		Rules:     fake,
		Store:     store,
		Catalog:   runCatalog(),
		Roller:    dice.NewLoggedRoller(dice.NewSeededSource(1), zap.NewNop()),
		Logger:    zap.NewNop(),
		Namespace: "test",
	})
	return &fixture{fake: fake, store: store, orch: orch}
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	require.NoError(t, f.orch.Load(context.Background(), 7))
}

// startFloor loads the expedition, plans one floor, and generates its rooms.
func (f *fixture) startFloor(t *testing.T, plan ...run.FloorConfig) {
	t.Helper()
	f.load(t)
	if len(plan) == 0 {
		plan = []run.FloorConfig{{Floor: 1}}
	}
	ctx := context.Background()
	require.NoError(t, f.orch.PlanFloors(ctx, plan))
	require.NoError(t, f.orch.GenerateFloor(ctx))
}

func TestLoad_RefusesInactiveExpedition(t *testing.T) {
	f := newFixture(t)
	f.fake.expedition.Status = rules.StatusCompleted

	err := f.orch.Load(context.Background(), 7)
	assert.ErrorIs(t, err, run.ErrExpeditionNotActive)
}

func TestLoad_ResumesFromSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := run.NewState(&rules.Expedition{ID: 7, Status: rules.StatusActive}, nil)
	require.NoError(t, seed.SetPlan([]run.FloorConfig{{Floor: 2}}))
	seed.InstallRooms([]run.Room{{ID: 501, Ordinal: 1, Kind: catalog.RoomBoss}})
	data, err := run.EncodeSnapshot(seed.Snapshot())
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, snapshot.Key("test", 7), data))

	f.load(t)

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, run.PhaseRoomList, snap.Phase)
	require.Len(t, snap.Rooms, 1)
	assert.Equal(t, int64(501), snap.Rooms[0].ID)
}

func TestLoad_CorruptSnapshotStartsClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, snapshot.Key("test", 7), []byte("{not json")))

	f.load(t)

	phase, err := f.orch.Phase()
	require.NoError(t, err)
	assert.Equal(t, run.PhaseSetup, phase)
}

func TestLoad_ForeignSnapshotStartsClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := run.NewState(&rules.Expedition{ID: 99, Status: rules.StatusActive}, nil)
	data, err := run.EncodeSnapshot(other.Snapshot())
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, snapshot.Key("test", 7), data))

	f.load(t)
	phase, err := f.orch.Phase()
	require.NoError(t, err)
	assert.Equal(t, run.PhaseSetup, phase)
}

// TestGenerateFloor_Layout covers the basic generation scenario: no bonus,
// no event — the configured common rooms plus exactly one boss room, in
// ascending ordinal order, all unresolved.
func TestGenerateFloor_Layout(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t, run.FloorConfig{Floor: 1, IncludeBonus: false, IncludeEvent: false})

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Rooms, 4)

	bosses := 0
	for i, room := range snap.Rooms {
		assert.Equal(t, i+1, room.Ordinal, "ordinals ascend")
		assert.False(t, room.EncounterResolved)
		if room.Kind == catalog.RoomBoss {
			bosses++
		} else {
			assert.Equal(t, catalog.RoomCommon, room.Kind)
		}
	}
	assert.Equal(t, 1, bosses)
	assert.Equal(t, run.PhaseRoomList, snap.Phase)

	// The backing expedition now points at the generated floor.
	require.Len(t, f.fake.updateCalls, 1)
	require.NotNil(t, f.fake.updateCalls[0].CurrentFloor)
	assert.Equal(t, 1, *f.fake.updateCalls[0].CurrentFloor)
}

func TestGenerateFloor_UnknownFloorRejected(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	err := f.orch.PlanFloors(context.Background(), []run.FloorConfig{{Floor: 9}})
	assert.ErrorIs(t, err, run.ErrUnknownFloor)
}

func TestGenerateFloor_FailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	ctx := context.Background()
	require.NoError(t, f.orch.PlanFloors(ctx, []run.FloorConfig{{Floor: 1}}))

	f.fake.layoutFn = func(rules.GenerateLayoutRequest) (*rules.FloorLayout, error) {
		return nil, errors.New("boom")
	}
	require.Error(t, f.orch.GenerateFloor(ctx))

	phase, err := f.orch.Phase()
	require.NoError(t, err)
	assert.Equal(t, run.PhaseFloorSelect, phase, "failed generation stays in floor selection")

	// Retry succeeds.
	f.fake.layoutFn = nil
	require.NoError(t, f.orch.GenerateFloor(ctx))
}

func TestResolveEncounter_RollValidation(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.orch.ResolveEncounter(ctx, 0, 0), run.ErrRollOutOfRange)
	assert.ErrorIs(t, f.orch.ResolveEncounter(ctx, 0, 21), run.ErrRollOutOfRange)
	assert.Empty(t, f.fake.resolveCalls, "invalid rolls never reach the service")

	require.NoError(t, f.orch.ResolveEncounter(ctx, 0, 14))
	assert.ErrorIs(t, f.orch.ResolveEncounter(ctx, 0, 14), run.ErrEncounterResolved)
	assert.Len(t, f.fake.resolveCalls, 1)
}

func TestResolveEncounter_InFlightGuard(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.fake.resolveFn = func(roomID int64, roll int) (*rules.EncounterResult, error) {
		close(started)
		<-release
		return &rules.EncounterResult{Roll: roll, TotalEnemies: 1, Enemies: []rules.Enemy{{Name: "Goblin", MaxCount: 1}}}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.orch.ResolveEncounter(ctx, 0, 14) }()
	<-started

	err := f.orch.ResolveEncounter(ctx, 0, 14)
	assert.ErrorIs(t, err, run.ErrInFlight)

	close(release)
	require.NoError(t, <-done)
}

// TestResolveAllEncounters_GuardsRoomInFlight holds the batch on its first
// room's submission and checks a single-room resolve for that room is
// rejected, so no room is ever submitted twice.
func TestResolveAllEncounters_GuardsRoomInFlight(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.resolveFn = func(roomID int64, roll int) (*rules.EncounterResult, error) {
		once.Do(func() {
			close(started)
			<-release
		})
		return &rules.EncounterResult{Roll: roll, TotalEnemies: 1, Enemies: []rules.Enemy{{Name: "Goblin", MaxCount: 1}}}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.orch.ResolveAllEncounters(ctx) }()
	<-started

	assert.ErrorIs(t, f.orch.ResolveEncounter(ctx, 0, 14), run.ErrInFlight)

	close(release)
	require.NoError(t, <-done)

	seen := map[int64]int{}
	for _, id := range f.fake.resolveCalls {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equalf(t, 1, n, "room %d submitted more than once", id)
	}
}

func TestResolveAllEncounters_ResumableMidBatch(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	f.fake.resolveFn = func(roomID int64, roll int) (*rules.EncounterResult, error) {
		if roomID == 103 {
			return nil, errors.New("service unavailable")
		}
		return &rules.EncounterResult{Roll: roll, TotalEnemies: 1, Enemies: []rules.Enemy{{Name: "Goblin", MaxCount: 1}}}, nil
	}

	require.Error(t, f.orch.ResolveAllEncounters(ctx))

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Rooms[0].EncounterResolved)
	assert.True(t, snap.Rooms[1].EncounterResolved)
	assert.False(t, snap.Rooms[2].EncounterResolved, "failed room stays pending")
	assert.False(t, snap.Rooms[3].EncounterResolved)

	// Retry resumes: only the unresolved rooms are submitted again.
	calls := len(f.fake.resolveCalls)
	f.fake.resolveFn = nil
	require.NoError(t, f.orch.ResolveAllEncounters(ctx))
	assert.Equal(t, calls+2, len(f.fake.resolveCalls))

	snap, err = f.orch.Snapshot()
	require.NoError(t, err)
	for _, room := range snap.Rooms {
		assert.True(t, room.EncounterResolved)
	}
}

// TestRewardFlow_SubtableLoop exercises the two-round reward resolution: the
// first response leaves outcome 2 awaiting a sub-table roll, the second
// closes the phase.
func TestRewardFlow_SubtableLoop(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	f.fake.resolveFn = func(roomID int64, roll int) (*rules.EncounterResult, error) {
		return &rules.EncounterResult{Roll: roll, TotalEnemies: 3, Enemies: []rules.Enemy{{Name: "Goblin", MaxCount: 3}}}, nil
	}
	require.NoError(t, f.orch.ResolveEncounter(ctx, 0, 14))

	require.NoError(t, f.orch.SetRewardRoll(ctx, 0, 0, 5, nil))
	require.NoError(t, f.orch.SetRewardRoll(ctx, 0, 1, 12, nil))
	require.NoError(t, f.orch.SetRewardRoll(ctx, 0, 2, 19, nil))

	f.fake.processFn = func(req rules.ProcessRewardsRequest) (*rules.RewardSet, error) {
		set := &rules.RewardSet{RoomID: req.RoomID}
		for i, roll := range req.Rolls {
			outcome := rules.RewardOutcome{OriginalRoll: roll.D20, Kind: rules.RewardNothing}
			if i == 2 {
				outcome.Kind = rules.RewardTableItem
				outcome.SubtableName = "armas"
				if roll.Subtable == nil {
					outcome.RequiresSubtable = true
				} else {
					outcome.SubtableRoll = roll.Subtable
					outcome.ItemID = 100
					set.PendingItems = append(set.PendingItems, rules.PendingItem{
						Index: i, D20: roll.D20, SubtableRoll: roll.Subtable, SubtableName: "armas",
						ItemID: 100, ItemName: "Espada corta",
					})
				}
			}
			set.Outcomes = append(set.Outcomes, outcome)
		}
		return set, nil
	}

	set, err := f.orch.ProcessRewards(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, set.SubtablePending())

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Rooms[0].RewardsResolved, "room stays open while a sub-table is pending")

	require.NoError(t, f.orch.SetSubtableRoll(ctx, 0, 2, 9))

	set, err = f.orch.ProcessRewards(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, set.SubtablePending())

	// The re-submission kept the original d20s and added only the sub-roll.
	require.Len(t, f.fake.processCalls, 2)
	second := f.fake.processCalls[1]
	assert.Equal(t, 5, second.Rolls[0].D20)
	assert.Equal(t, 12, second.Rolls[1].D20)
	assert.Equal(t, 19, second.Rolls[2].D20)
	assert.Nil(t, second.Rolls[0].Subtable)
	require.NotNil(t, second.Rolls[2].Subtable)
	assert.Equal(t, 9, *second.Rolls[2].Subtable)

	snap, err = f.orch.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Rooms[0].RewardsResolved)
	require.Len(t, snap.Rooms[0].Items, 1)
}

// driveRoomToItems resolves room 0's encounter and rewards, leaving the
// given number of pending items and gold dice.
func driveRoomToItems(t *testing.T, f *fixture, items int, goldDice []string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.orch.ResolveEncounter(ctx, 0, 14))
	require.NoError(t, f.orch.SetRewardRoll(ctx, 0, 0, 10, nil))
	require.NoError(t, f.orch.SetRewardRoll(ctx, 0, 1, 11, nil))

	f.fake.processFn = func(req rules.ProcessRewardsRequest) (*rules.RewardSet, error) {
		set := &rules.RewardSet{RoomID: req.RoomID, GoldDice: goldDice}
		for i := 0; i < len(req.Rolls); i++ {
			set.Outcomes = append(set.Outcomes, rules.RewardOutcome{Kind: rules.RewardNothing})
		}
		for i := 0; i < items; i++ {
			set.PendingItems = append(set.PendingItems, rules.PendingItem{
				Index: i, D20: 10, ItemID: 100, ItemName: "Espada corta",
			})
		}
		return set, nil
	}
	_, err := f.orch.ProcessRewards(ctx, 0)
	require.NoError(t, err)
}

// TestGoldSplit_ExcludesInactive deactivates one of three participants
// before the split and checks that only the remaining two receive shares
// and the deactivated total is untouched.
func TestGoldSplit_ExcludesInactive(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	driveRoomToItems(t, f, 0, []string{"2d6"})
	require.NoError(t, f.orch.Deactivate(ctx, 2))
	require.NoError(t, f.orch.SetGoldTotal(ctx, 0, 30))

	dist, err := f.orch.DistributeGold(ctx, 0)
	require.NoError(t, err)

	require.Len(t, dist.Shares, 2)
	ids := []int64{dist.Shares[0].ParticipantID, dist.Shares[1].ParticipantID}
	assert.ElementsMatch(t, []int64{1, 3}, ids)

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	for _, p := range snap.Roster {
		switch p.ID {
		case 2:
			assert.Zero(t, p.GoldAccrued, "deactivated participant receives nothing")
			assert.False(t, p.Active)
		default:
			assert.Equal(t, 15, p.GoldAccrued)
		}
	}
}

// TestSaleConversion_FixedPrice marks one of two pending items for sale
// (catalog fixed price 15) and checks the proceeds reach the distributed
// total; unmarking removes them again.
func TestSaleConversion_FixedPrice(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	driveRoomToItems(t, f, 2, nil)

	require.NoError(t, f.orch.MarkItemForSale(ctx, 0, 1))
	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 15, snap.Rooms[0].SaleProceedsTotal())
	assert.True(t, snap.Rooms[0].Items[1].Resolved(), "sold item leaves the assignable set")

	require.NoError(t, f.orch.UnmarkItemForSale(ctx, 0, 1))
	snap, err = f.orch.Snapshot()
	require.NoError(t, err)
	assert.Zero(t, snap.Rooms[0].SaleProceedsTotal())
	assert.False(t, snap.Rooms[0].Items[1].Resolved(), "unmarked item is assignable again")

	require.NoError(t, f.orch.MarkItemForSale(ctx, 0, 1))
	require.NoError(t, f.orch.AssignPendingItem(ctx, 0, 0, 1))
	require.NoError(t, f.orch.ConfirmAssignments(ctx, 0))

	// Only the assigned item is submitted; the sold one is not.
	require.Len(t, f.fake.assignCalls, 1)
	assert.Equal(t, int64(1), f.fake.assignCalls[0].ParticipantID)

	dist, err := f.orch.DistributeGold(ctx, 0)
	require.NoError(t, err)
	require.Len(t, f.fake.distributeCalls, 1)
	assert.Equal(t, 15, f.fake.distributeCalls[0].TotalGold, "sale proceeds feed the gold pool")
	assert.NotNil(t, dist)
}

func TestAssignPendingItem_RejectsInactiveParticipant(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	driveRoomToItems(t, f, 1, nil)
	require.NoError(t, f.orch.Deactivate(ctx, 2))

	err := f.orch.AssignPendingItem(ctx, 0, 0, 2)
	assert.ErrorIs(t, err, run.ErrParticipantInactive)
}

func TestConfirmAssignments_ResumableBatch(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	driveRoomToItems(t, f, 2, nil)
	require.NoError(t, f.orch.AssignPendingItem(ctx, 0, 0, 1))
	require.NoError(t, f.orch.AssignPendingItem(ctx, 0, 1, 3))

	calls := 0
	f.fake.assignFn = func(rules.AssignItemRequest) error {
		calls++
		if calls == 2 {
			return errors.New("service unavailable")
		}
		return nil
	}
	require.Error(t, f.orch.ConfirmAssignments(ctx, 0))

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Rooms[0].Items[0].Confirmed)
	assert.False(t, snap.Rooms[0].Items[1].Confirmed)
	assert.False(t, snap.Rooms[0].ItemsAssigned)

	// Retry submits only the unconfirmed item.
	f.fake.assignFn = nil
	require.NoError(t, f.orch.ConfirmAssignments(ctx, 0))
	require.Len(t, f.fake.assignCalls, 3, "two attempts plus one retry")

	snap, err = f.orch.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Rooms[0].ItemsAssigned)
}

// TestConfirmAssignments_BlocksItemMutations holds the confirmation batch on
// its first submission and checks that assignment and sale commands for the
// room are rejected until the batch settles, so an item whose assignment is
// already on the wire cannot be converted to sale gold.
func TestConfirmAssignments_BlocksItemMutations(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	driveRoomToItems(t, f, 2, nil)
	require.NoError(t, f.orch.AssignPendingItem(ctx, 0, 0, 1))
	require.NoError(t, f.orch.AssignPendingItem(ctx, 0, 1, 3))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.assignFn = func(rules.AssignItemRequest) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- f.orch.ConfirmAssignments(ctx, 0) }()
	<-started

	assert.ErrorIs(t, f.orch.MarkItemForSale(ctx, 0, 0), run.ErrInFlight)
	assert.ErrorIs(t, f.orch.AssignPendingItem(ctx, 0, 1, 1), run.ErrInFlight)
	assert.ErrorIs(t, f.orch.UnmarkItemForSale(ctx, 0, 1), run.ErrInFlight)

	close(release)
	require.NoError(t, <-done)

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Rooms[0].ItemsAssigned)
	assert.Zero(t, snap.Rooms[0].SaleProceedsTotal(), "no sale slipped in mid-batch")
	require.Len(t, f.fake.assignCalls, 2)
}

func TestRollGoldDice_SumsNotations(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	driveRoomToItems(t, f, 0, []string{"2d6+10", "1d4"})

	total, err := f.orch.RollGoldDice(ctx, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 13)
	assert.LessOrEqual(t, total, 26)
}

// TestFullRun walks two planned floors end to end and completes the
// expedition, checking the floor-advance gate and snapshot cleanup.
func TestFullRun(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t, run.FloorConfig{Floor: 1}, run.FloorConfig{Floor: 2})
	ctx := context.Background()

	_, err := f.orch.AdvanceFloor(ctx)
	assert.ErrorIs(t, err, run.ErrFloorIncomplete)

	playFloor := func() {
		// Zero-enemy encounters make every room skip straight to completion.
		f.fake.resolveFn = func(roomID int64, roll int) (*rules.EncounterResult, error) {
			return &rules.EncounterResult{Roll: roll, TotalEnemies: 0, Enemies: []rules.Enemy{}}, nil
		}
		require.NoError(t, f.orch.ResolveAllEncounters(ctx))
		snap, err := f.orch.Snapshot()
		require.NoError(t, err)
		for i := range snap.Rooms {
			require.NoError(t, f.orch.CompleteRoom(ctx, i))
		}
	}

	playFloor()
	more, err := f.orch.AdvanceFloor(ctx)
	require.NoError(t, err)
	assert.True(t, more, "a second floor awaits")

	require.NoError(t, f.orch.GenerateFloor(ctx))
	playFloor()
	more, err = f.orch.AdvanceFloor(ctx)
	require.NoError(t, err)
	assert.False(t, more, "plan exhausted")

	phase, err := f.orch.Phase()
	require.NoError(t, err)
	assert.Equal(t, run.PhaseExpeditionComplete, phase)

	require.NoError(t, f.orch.CompleteExpedition(ctx))
	assert.Equal(t, rules.StatusCompleted, f.fake.expedition.Status)

	_, err = f.store.Load(ctx, snapshot.Key("test", 7))
	assert.ErrorIs(t, err, snapshot.ErrNotFound, "completion clears the snapshot")
}

func TestCompleteRoom_AdvancesFocus(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	f.fake.resolveFn = func(roomID int64, roll int) (*rules.EncounterResult, error) {
		return &rules.EncounterResult{Roll: roll, TotalEnemies: 0, Enemies: []rules.Enemy{}}, nil
	}
	require.NoError(t, f.orch.ResolveAllEncounters(ctx))
	require.NoError(t, f.orch.FocusRoom(ctx, 0))

	require.NoError(t, f.orch.CompleteRoom(ctx, 0))
	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RoomIndex, "focus moves to the next uncompleted room")
	assert.Len(t, f.fake.completeCalls, 1)
}

func TestAddReplacement_EnforcesPartyCap(t *testing.T) {
	f := newFixture(t)
	f.load(t)
	ctx := context.Background()

	require.NoError(t, f.orch.AddReplacement(ctx, "u4", "Dara"))
	require.NoError(t, f.orch.AddReplacement(ctx, "u5", "Eryn"))
	err := f.orch.AddReplacement(ctx, "u6", "Falk")
	assert.ErrorIs(t, err, run.ErrPartyFull)

	snap, err := f.orch.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Roster, 5)
}

func TestOperationsRequireLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.orch.PlanFloors(ctx, []run.FloorConfig{{Floor: 1}}), run.ErrNotLoaded)
	assert.ErrorIs(t, f.orch.GenerateFloor(ctx), run.ErrNotLoaded)
	assert.ErrorIs(t, f.orch.ResolveEncounter(ctx, 0, 10), run.ErrNotLoaded)
	_, err := f.orch.Phase()
	assert.ErrorIs(t, err, run.ErrNotLoaded)

	f.load(t)
	assert.ErrorIs(t, f.orch.Load(ctx, 7), run.ErrAlreadyLoaded)
}

func TestSnapshotPersistedAfterMutations(t *testing.T) {
	f := newFixture(t)
	f.startFloor(t)
	ctx := context.Background()

	data, err := f.store.Load(ctx, snapshot.Key("test", 7))
	require.NoError(t, err)
	snap, err := run.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, run.PhaseRoomList, snap.Phase)
	assert.Len(t, snap.Rooms, 4)

	require.NoError(t, f.orch.ResolveEncounter(ctx, 0, 14))
	data, err = f.store.Load(ctx, snapshot.Key("test", 7))
	require.NoError(t, err)
	snap, err = run.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.True(t, snap.Rooms[0].EncounterResolved)
}
