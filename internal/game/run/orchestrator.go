package run

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/delvecraft/expedition/internal/game/catalog"
	"github.com/delvecraft/expedition/internal/game/dice"
	"github.com/delvecraft/expedition/internal/rules"
	"github.com/delvecraft/expedition/internal/snapshot"
)

var (
	ErrNotLoaded           = errors.New("run: no expedition loaded")
	ErrAlreadyLoaded       = errors.New("run: an expedition is already loaded")
	ErrInFlight            = errors.New("run: this action is already in flight")
	ErrExpeditionNotActive = errors.New("run: expedition is not active")
	ErrRollOutOfRange      = errors.New("run: roll must be between 1 and 20")
	ErrUnknownFloor        = errors.New("run: floor not in the catalog")
	ErrRollsIncomplete     = errors.New("run: not every enemy has a reward roll")
	ErrNegativeGold        = errors.New("run: gold total cannot be negative")
	ErrPartyFull           = errors.New("run: the party is full")
	ErrRunNotFinished      = errors.New("run: the expedition is not finished")
)

// RulesService is the slice of the rules client the orchestrator drives.
// *rules.Client satisfies it; tests substitute a scripted fake.
type RulesService interface {
	GenerateFloorLayout(ctx context.Context, req rules.GenerateLayoutRequest) (*rules.FloorLayout, error)
	ResolveEncounter(ctx context.Context, roomID int64, roll int) (*rules.EncounterResult, error)
	ProcessRewards(ctx context.Context, req rules.ProcessRewardsRequest) (*rules.RewardSet, error)
	AssignItem(ctx context.Context, req rules.AssignItemRequest) error
	DistributeGold(ctx context.Context, req rules.DistributeGoldRequest) (*rules.GoldDistribution, error)
	CompleteRoom(ctx context.Context, roomID int64) error
	GetExpedition(ctx context.Context, id int64) (*rules.Expedition, error)
	UpdateExpedition(ctx context.Context, id int64, req rules.UpdateExpeditionRequest) (*rules.Expedition, error)
	ListParticipants(ctx context.Context, expeditionID int64) ([]rules.Participant, error)
	AddParticipant(ctx context.Context, expeditionID int64, req rules.AddParticipantRequest) (*rules.Participant, error)
	DeactivateParticipant(ctx context.Context, participantID int64) error
	ReactivateParticipant(ctx context.Context, participantID int64) error
}

// actionKey identifies one in-flight guard slot: an action name plus the
// entity it targets (room or participant id, 0 for run-level actions).
type actionKey struct {
	action string
	roomID int64
}

// Orchestrator sequences an expedition run: it validates each operator
// action against the state invariants, issues the rules calls, applies the
// results atomically, and persists a snapshot after every mutation. All
// methods are safe for concurrent use; the per-action in-flight guard
// rejects a duplicate submission while the first is still outstanding.
type Orchestrator struct {
	mu       sync.Mutex
	inflight map[actionKey]struct{}

	rules     RulesService
	store     snapshot.Store
	catalog   *catalog.Catalog
	roller    *dice.Roller
	logger    *zap.Logger
	namespace string

	state *State
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Rules     RulesService
	Store     snapshot.Store
	Catalog   *catalog.Catalog
	Roller    *dice.Roller
	Logger    *zap.Logger
	Namespace string
}

// NewOrchestrator creates an orchestrator with no expedition loaded.
//
// Precondition: every Options field except Namespace must be non-nil.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Namespace == "" {
		opts.Namespace = "expedition"
	}
	return &Orchestrator{
		inflight:  make(map[actionKey]struct{}),
		rules:     opts.Rules,
		store:     opts.Store,
		catalog:   opts.Catalog,
		roller:    opts.Roller,
		logger:    opts.Logger,
		namespace: opts.Namespace,
	}
}

// begin claims the in-flight slot for (action, roomID). Must be called with
// the mutex held.
func (o *Orchestrator) begin(action string, roomID int64) error {
	key := actionKey{action: action, roomID: roomID}
	if _, busy := o.inflight[key]; busy {
		return fmt.Errorf("%w: %s", ErrInFlight, action)
	}
	o.inflight[key] = struct{}{}
	return nil
}

// end releases the in-flight slot. Must be called with the mutex held.
func (o *Orchestrator) end(action string, roomID int64) {
	delete(o.inflight, actionKey{action: action, roomID: roomID})
}

// busy reports whether the (action, roomID) slot is claimed. Must be called
// with the mutex held.
func (o *Orchestrator) busy(action string, roomID int64) bool {
	_, claimed := o.inflight[actionKey{action: action, roomID: roomID}]
	return claimed
}

func (o *Orchestrator) requireLoaded() error {
	if o.state == nil {
		return ErrNotLoaded
	}
	return nil
}

// persist writes the current snapshot, best-effort. A failed save is logged
// at warn and never fails the action that triggered it. Must be called with
// the mutex held.
func (o *Orchestrator) persist(ctx context.Context) {
	snap := o.state.Snapshot()
	data, err := EncodeSnapshot(snap)
	if err != nil {
		o.logger.Warn("snapshot encode failed", zap.Int64("expedition_id", snap.ExpeditionID), zap.Error(err))
		return
	}
	key := snapshot.Key(o.namespace, snap.ExpeditionID)
	if err := o.store.Save(ctx, key, data); err != nil {
		o.logger.Warn("snapshot save failed", zap.String("key", key), zap.Error(err))
	}
}

// Load fetches the expedition and its roster, refuses non-active
// expeditions, and resumes from a persisted snapshot when one exists. A
// missing or corrupt snapshot is never an error: the run starts clean.
func (o *Orchestrator) Load(ctx context.Context, expeditionID int64) error {
	o.mu.Lock()
	if o.state != nil {
		o.mu.Unlock()
		return ErrAlreadyLoaded
	}
	if err := o.begin("load", 0); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	exp, err := o.rules.GetExpedition(ctx, expeditionID)
	roster := []rules.Participant(nil)
	if err == nil {
		if exp.Status != rules.StatusActive {
			err = fmt.Errorf("%w: status %q", ErrExpeditionNotActive, exp.Status)
		} else {
			roster, err = o.rules.ListParticipants(ctx, expeditionID)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("load", 0)
	if err != nil {
		return err
	}

	state := NewState(exp, roster)
	key := snapshot.Key(o.namespace, expeditionID)
	if data, loadErr := o.store.Load(ctx, key); loadErr == nil {
		if snap, decErr := DecodeSnapshot(data); decErr == nil {
			if resErr := state.Restore(snap); resErr == nil {
				o.logger.Info("resumed run from snapshot",
					zap.Int64("expedition_id", expeditionID),
					zap.String("phase", string(snap.Phase)),
					zap.Time("saved_at", snap.SavedAt),
				)
			} else {
				o.logger.Debug("snapshot rejected, starting clean", zap.Error(resErr))
			}
		} else {
			o.logger.Debug("snapshot corrupt, starting clean", zap.Error(decErr))
		}
	} else if !errors.Is(loadErr, snapshot.ErrNotFound) {
		o.logger.Debug("snapshot unreadable, starting clean", zap.Error(loadErr))
	}

	o.state = state
	return nil
}

// PlanFloors installs the ordered floor plan for the run. Every planned
// floor must exist in the catalog.
func (o *Orchestrator) PlanFloors(ctx context.Context, plan []FloorConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	for _, fc := range plan {
		if _, ok := o.catalog.Floor(fc.Floor); !ok {
			return fmt.Errorf("%w: floor %d", ErrUnknownFloor, fc.Floor)
		}
	}
	if err := o.state.SetPlan(plan); err != nil {
		return err
	}
	o.persist(ctx)
	return nil
}

// ChangeFloor retargets the upcoming floor before generation.
func (o *Orchestrator) ChangeFloor(ctx context.Context, floor int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	if _, ok := o.catalog.Floor(floor); !ok {
		return fmt.Errorf("%w: floor %d", ErrUnknownFloor, floor)
	}
	if err := o.state.RetargetFloor(floor); err != nil {
		return err
	}
	o.persist(ctx)
	return nil
}

// GenerateFloor asks the rules engine for the current floor's room list and
// installs it, then moves the backing expedition's current floor. On any
// failure no rooms are installed and the run stays in floor selection.
// Re-invoking before any encounter has been resolved discards the previous
// layout.
func (o *Orchestrator) GenerateFloor(ctx context.Context) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	fc, err := o.state.CurrentFloor()
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if o.state.Phase != PhaseFloorSelect && o.state.Phase != PhaseRoomList {
		o.mu.Unlock()
		return fmt.Errorf("run: cannot generate rooms in phase %q", o.state.Phase)
	}
	for i := range o.state.Rooms {
		if o.state.Rooms[i].EncounterResolved {
			o.mu.Unlock()
			return fmt.Errorf("run: floor already in play, room %d has a resolved encounter", o.state.Rooms[i].Ordinal)
		}
	}
	expeditionID := o.state.Expedition.ID
	if err := o.begin("generate-floor", 0); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	layout, err := o.rules.GenerateFloorLayout(ctx, rules.GenerateLayoutRequest{
		ExpeditionID: expeditionID,
		Floor:        fc.Floor,
		IncludeBonus: fc.IncludeBonus,
		IncludeEvent: fc.IncludeEvent,
	})
	var updated *rules.Expedition
	if err == nil {
		floor := fc.Floor
		updated, err = o.rules.UpdateExpedition(ctx, expeditionID, rules.UpdateExpeditionRequest{CurrentFloor: &floor})
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("generate-floor", 0)
	if err != nil {
		return err
	}

	rooms := make([]Room, len(layout.Rooms))
	for i, rl := range layout.Rooms {
		rooms[i] = Room{ID: rl.ID, Ordinal: rl.Ordinal, Kind: catalog.RoomKind(rl.RoomType)}
	}
	o.state.InstallRooms(rooms)
	o.state.Expedition = updated
	o.logger.Info("floor generated",
		zap.Int64("expedition_id", expeditionID),
		zap.Int("floor", fc.Floor),
		zap.Int("rooms", len(rooms)),
	)
	o.persist(ctx)
	return nil
}

// FocusRoom expands one room for interaction.
func (o *Orchestrator) FocusRoom(ctx context.Context, roomIndex int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	if err := o.state.FocusRoom(roomIndex); err != nil {
		return err
	}
	o.persist(ctx)
	return nil
}

// Unfocus collapses the focused room.
func (o *Orchestrator) Unfocus(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	o.state.Unfocus()
	o.persist(ctx)
	return nil
}

// ResolveEncounter submits one room's d20 encounter roll. One resolution
// per room, ever; the protocol has no re-resolve.
//
// Precondition: 1 <= roll <= 20.
func (o *Orchestrator) ResolveEncounter(ctx context.Context, roomIndex, roll int) error {
	if roll < 1 || roll > 20 {
		return fmt.Errorf("%w: got %d", ErrRollOutOfRange, roll)
	}

	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if room.EncounterResolved {
		o.mu.Unlock()
		return ErrEncounterResolved
	}
	roomID := room.ID
	if err := o.begin("resolve-encounter", roomID); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	result, err := o.rules.ResolveEncounter(ctx, roomID, roll)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("resolve-encounter", roomID)
	if err != nil {
		return err
	}
	if err := room.ApplyEncounter(result); err != nil {
		return err
	}
	o.state.SyncFocusedPhase()
	o.persist(ctx)
	return nil
}

// ResolveAllEncounters rolls and submits a d20 for every room whose
// encounter is still unresolved, sequentially. A failure mid-batch keeps
// the rooms already resolved and leaves the rest pending; re-invoking
// resumes where it stopped.
func (o *Orchestrator) ResolveAllEncounters(ctx context.Context) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	if len(o.state.Rooms) == 0 {
		o.mu.Unlock()
		return ErrNoRooms
	}
	if err := o.begin("resolve-all-encounters", 0); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.end("resolve-all-encounters", 0)
		o.mu.Unlock()
	}()

	for i := 0; ; i++ {
		o.mu.Lock()
		if i >= len(o.state.Rooms) {
			o.mu.Unlock()
			break
		}
		room := &o.state.Rooms[i]
		if room.EncounterResolved {
			o.mu.Unlock()
			continue
		}
		roomID := room.ID
		// Claim the same per-room slot the single-room path uses, so a
		// concurrent ResolveEncounter for this room cannot slip in while
		// the batch submission is outstanding.
		if err := o.begin("resolve-encounter", roomID); err != nil {
			o.mu.Unlock()
			return err
		}
		roll := o.roller.D20()
		o.mu.Unlock()

		result, err := o.rules.ResolveEncounter(ctx, roomID, roll)

		o.mu.Lock()
		o.end("resolve-encounter", roomID)
		if err != nil {
			o.persist(ctx)
			o.mu.Unlock()
			return fmt.Errorf("resolve encounter for room %d: %w", roomID, err)
		}
		if applyErr := room.ApplyEncounter(result); applyErr != nil {
			o.mu.Unlock()
			return applyErr
		}
		o.persist(ctx)
		o.mu.Unlock()
	}
	return nil
}

// SetRewardRoll records one enemy's reward roll in the room's input buffer.
//
// Precondition: 1 <= d20 <= 20; subtable, when set, in [1,20] as well.
func (o *Orchestrator) SetRewardRoll(ctx context.Context, roomIndex, enemyIndex, d20 int, subtable *int) error {
	if d20 < 1 || d20 > 20 {
		return fmt.Errorf("%w: got %d", ErrRollOutOfRange, d20)
	}
	if subtable != nil && (*subtable < 1 || *subtable > 20) {
		return fmt.Errorf("%w: sub-table roll %d", ErrRollOutOfRange, *subtable)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return err
	}
	if !room.EncounterResolved {
		return ErrEncounterPending
	}
	if room.RewardsResolved {
		return ErrRewardsResolved
	}
	if enemyIndex < 0 || enemyIndex >= len(room.RewardEntries) {
		return fmt.Errorf("run: reward roll index %d out of range", enemyIndex)
	}
	room.RewardEntries[enemyIndex] = rules.RewardRoll{D20: d20, Subtable: subtable}
	o.persist(ctx)
	return nil
}

// SetSubtableRoll fills in the sub-table roll for one outcome during the
// re-submission loop, keeping its original d20.
func (o *Orchestrator) SetSubtableRoll(ctx context.Context, roomIndex, outcomeIndex, roll int) error {
	if roll < 1 || roll > 20 {
		return fmt.Errorf("%w: sub-table roll %d", ErrRollOutOfRange, roll)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return err
	}
	if room.RewardsResolved {
		return ErrRewardsResolved
	}
	if outcomeIndex < 0 || outcomeIndex >= len(room.RewardEntries) {
		return fmt.Errorf("run: reward roll index %d out of range", outcomeIndex)
	}
	sub := roll
	room.RewardEntries[outcomeIndex].Subtable = &sub
	o.persist(ctx)
	return nil
}

// AutoRollRewards fills every empty reward-roll entry with a fresh d20.
func (o *Orchestrator) AutoRollRewards(ctx context.Context, roomIndex int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return err
	}
	if !room.EncounterResolved {
		return ErrEncounterPending
	}
	if room.RewardsResolved {
		return ErrRewardsResolved
	}
	for i := range room.RewardEntries {
		if room.RewardEntries[i].D20 == 0 {
			room.RewardEntries[i].D20 = o.roller.D20()
		}
	}
	o.persist(ctx)
	return nil
}

// ProcessRewards submits the buffered reward rolls. When the returned set
// still requires sub-table rolls the room stays in the reward phase and the
// pending outcome indexes are available on the returned set; otherwise the
// reward phase closes and vacuous later phases are skipped.
func (o *Orchestrator) ProcessRewards(ctx context.Context, roomIndex int) (*rules.RewardSet, error) {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if !room.EncounterResolved {
		o.mu.Unlock()
		return nil, ErrEncounterPending
	}
	if room.RewardsResolved {
		o.mu.Unlock()
		return nil, ErrRewardsResolved
	}
	for i, entry := range room.RewardEntries {
		if entry.D20 < 1 || entry.D20 > 20 {
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: enemy %d", ErrRollsIncomplete, i)
		}
	}
	roomID := room.ID
	req := rules.ProcessRewardsRequest{
		RoomID: roomID,
		Rolls:  append([]rules.RewardRoll(nil), room.RewardEntries...),
	}
	if err := o.begin("process-rewards", roomID); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Unlock()

	set, err := o.rules.ProcessRewards(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("process-rewards", roomID)
	if err != nil {
		return nil, err
	}
	if err := room.ApplyRewards(set); err != nil {
		return nil, err
	}
	if pending := set.SubtablePending(); len(pending) > 0 {
		o.logger.Info("reward outcomes need sub-table rolls",
			zap.Int64("room_id", roomID),
			zap.Ints("outcomes", pending),
		)
	}
	o.state.SyncFocusedPhase()
	o.persist(ctx)
	return set, nil
}

// AssignPendingItem binds one pending item to one active participant.
func (o *Orchestrator) AssignPendingItem(ctx context.Context, roomIndex, itemIndex int, participantID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return err
	}
	if o.busy("confirm-assignments", room.ID) {
		return fmt.Errorf("%w: confirm-assignments", ErrInFlight)
	}
	p, err := o.state.Participant(participantID)
	if err != nil {
		return err
	}
	if !p.Active {
		return fmt.Errorf("%w: %s", ErrParticipantInactive, p.CharacterName)
	}
	if err := room.AssignItem(itemIndex, participantID); err != nil {
		return err
	}
	o.persist(ctx)
	return nil
}

// MarkItemForSale sells a pending item into the room's gold pool. The
// proceeds are resolved once, here: fixed catalog price when defined,
// otherwise one roll of the catalog price dice.
func (o *Orchestrator) MarkItemForSale(ctx context.Context, roomIndex, itemIndex int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return err
	}
	if o.busy("confirm-assignments", room.ID) {
		return fmt.Errorf("%w: confirm-assignments", ErrInFlight)
	}
	if itemIndex < 0 || itemIndex >= len(room.Items) {
		return ErrItemIndexOutOfRange
	}
	proceeds := o.catalog.SalePrice(room.Items[itemIndex].ItemID, o.roller.Source())
	if err := room.MarkForSale(itemIndex, proceeds); err != nil {
		return err
	}
	o.logger.Debug("item marked for sale",
		zap.Int64("room_id", room.ID),
		zap.String("item", room.Items[itemIndex].ItemName),
		zap.Int("proceeds", proceeds),
	)
	o.persist(ctx)
	return nil
}

// UnmarkItemForSale restores a sold item to the assignable set.
func (o *Orchestrator) UnmarkItemForSale(ctx context.Context, roomIndex, itemIndex int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return err
	}
	if o.busy("confirm-assignments", room.ID) {
		return fmt.Errorf("%w: confirm-assignments", ErrInFlight)
	}
	if err := room.UnmarkForSale(itemIndex); err != nil {
		return err
	}
	o.persist(ctx)
	return nil
}

// ConfirmAssignments submits one AssignItem call per assigned, non-sale
// item, then closes the item sub-phase. The batch is resumable: items
// already confirmed are skipped on retry after a mid-batch failure.
//
// Precondition: every pending item is assigned or marked for sale.
func (o *Orchestrator) ConfirmAssignments(ctx context.Context, roomIndex int) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if err := room.itemPhaseOpen(); err != nil {
		o.mu.Unlock()
		return err
	}
	for i := range room.Items {
		if !room.Items[i].Resolved() {
			o.mu.Unlock()
			return fmt.Errorf("%w: item %d (%s)", ErrItemUnresolved, i, room.Items[i].ItemName)
		}
	}
	roomID := room.ID
	if err := o.begin("confirm-assignments", roomID); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.end("confirm-assignments", roomID)
		o.mu.Unlock()
	}()

	for i := range room.Items {
		o.mu.Lock()
		it := room.Items[i]
		o.mu.Unlock()
		if it.ForSale || it.Confirmed {
			continue
		}
		req := rules.AssignItemRequest{
			RoomID:        roomID,
			ParticipantID: it.AssignedTo,
			ItemID:        it.ItemID,
			TierModifier:  it.TierModifier,
			OriginalRoll:  it.D20,
			SubtableRoll:  it.SubtableRoll,
		}
		if err := o.rules.AssignItem(ctx, req); err != nil {
			o.mu.Lock()
			o.persist(ctx)
			o.mu.Unlock()
			return fmt.Errorf("assign item %q: %w", it.ItemName, err)
		}
		o.mu.Lock()
		room.Items[i].Confirmed = true
		o.persist(ctx)
		o.mu.Unlock()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := room.MarkItemsAssigned(); err != nil {
		return err
	}
	o.state.SyncFocusedPhase()
	o.persist(ctx)
	return nil
}

// RollGoldDice rolls the room's gold-dice expressions and stores the sum as
// the gold total buffer, replacing any manual entry.
func (o *Orchestrator) RollGoldDice(ctx context.Context, roomIndex int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return 0, err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return 0, err
	}
	if !room.ItemsAssigned {
		return 0, ErrItemsPending
	}
	if room.GoldDistributed {
		return 0, ErrGoldDistributed
	}
	total := 0
	if room.Rewards != nil {
		for _, notation := range room.Rewards.GoldDice {
			total += o.roller.Eval(notation)
		}
	}
	room.GoldTotal = total
	o.persist(ctx)
	return total, nil
}

// SetGoldTotal stores a manually entered gold total for the room.
//
// Precondition: total >= 0.
func (o *Orchestrator) SetGoldTotal(ctx context.Context, roomIndex, total int) error {
	if total < 0 {
		return ErrNegativeGold
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		return err
	}
	if !room.ItemsAssigned {
		return ErrItemsPending
	}
	if room.GoldDistributed {
		return ErrGoldDistributed
	}
	room.GoldTotal = total
	o.persist(ctx)
	return nil
}

// DistributeGold submits the room's total gold (buffer plus sale proceeds)
// for even division among currently active participants, and folds the
// applied shares into the cached roster totals.
func (o *Orchestrator) DistributeGold(ctx context.Context, roomIndex int) (*rules.GoldDistribution, error) {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if !room.ItemsAssigned {
		o.mu.Unlock()
		return nil, ErrItemsPending
	}
	if room.GoldDistributed {
		o.mu.Unlock()
		return nil, ErrGoldDistributed
	}
	roomID := room.ID
	req := rules.DistributeGoldRequest{
		RoomID:       roomID,
		ExpeditionID: o.state.Expedition.ID,
		TotalGold:    room.TotalGold(),
	}
	if err := o.begin("distribute-gold", roomID); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Unlock()

	dist, err := o.rules.DistributeGold(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("distribute-gold", roomID)
	if err != nil {
		return nil, err
	}
	if err := room.MarkGoldDistributed(dist.Shares); err != nil {
		return nil, err
	}
	o.state.ApplyGoldShares(dist.Shares)
	o.state.SyncFocusedPhase()
	o.persist(ctx)
	return dist, nil
}

// CompleteRoom marks the room finished on the rules service and locally,
// then moves focus to the next uncompleted room, or back to the room list
// when none remain.
func (o *Orchestrator) CompleteRoom(ctx context.Context, roomIndex int) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	room, err := o.state.Room(roomIndex)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if room.Completed {
		o.mu.Unlock()
		return ErrRoomCompleted
	}
	if !room.GoldDistributed {
		o.mu.Unlock()
		return ErrGoldPending
	}
	roomID := room.ID
	if err := o.begin("complete-room", roomID); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	err = o.rules.CompleteRoom(ctx, roomID)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("complete-room", roomID)
	if err != nil {
		return err
	}
	if err := room.MarkCompleted(); err != nil {
		return err
	}
	next := -1
	for i := range o.state.Rooms {
		if !o.state.Rooms[i].Completed {
			next = i
			break
		}
	}
	if next >= 0 {
		_ = o.state.FocusRoom(next)
	} else {
		o.state.Unfocus()
	}
	o.logger.Info("room completed",
		zap.Int64("room_id", roomID),
		zap.Bool("floor_done", next < 0),
	)
	o.persist(ctx)
	return nil
}

// AdvanceFloor moves past a fully completed floor. Returns true when a next
// floor awaits generation, false when the plan is exhausted and the run has
// entered its completion phase.
func (o *Orchestrator) AdvanceFloor(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return false, err
	}
	more, err := o.state.AdvanceFloor()
	if err != nil {
		return false, err
	}
	o.persist(ctx)
	return more, nil
}

// CompleteExpedition finalizes the run: marks the backing expedition
// completed and clears the persisted snapshot.
//
// Precondition: the run has entered its completion phase.
func (o *Orchestrator) CompleteExpedition(ctx context.Context) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.state.Phase != PhaseExpeditionComplete {
		o.mu.Unlock()
		return ErrRunNotFinished
	}
	expeditionID := o.state.Expedition.ID
	if err := o.begin("complete-expedition", 0); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	status := rules.StatusCompleted
	updated, err := o.rules.UpdateExpedition(ctx, expeditionID, rules.UpdateExpeditionRequest{Status: &status})

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("complete-expedition", 0)
	if err != nil {
		return err
	}
	o.state.Expedition = updated
	key := snapshot.Key(o.namespace, expeditionID)
	if err := o.store.Clear(ctx, key); err != nil {
		o.logger.Warn("snapshot clear failed", zap.String("key", key), zap.Error(err))
	}
	o.logger.Info("expedition completed", zap.Int64("expedition_id", expeditionID))
	return nil
}

// Deactivate excludes a participant from future gold splits, recording the
// room ordinal at which they left. Gold already received and item
// assignments already made are untouched.
func (o *Orchestrator) Deactivate(ctx context.Context, participantID int64) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	if _, err := o.state.Participant(participantID); err != nil {
		o.mu.Unlock()
		return err
	}
	leaveOrdinal := o.state.LeaveOrdinal()
	if err := o.begin("deactivate", participantID); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	err := o.rules.DeactivateParticipant(ctx, participantID)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("deactivate", participantID)
	if err != nil {
		return err
	}
	if err := o.state.DeactivateLocal(participantID, leaveOrdinal); err != nil {
		return err
	}
	o.persist(ctx)
	return nil
}

// Reactivate re-includes a previously deactivated participant in future
// gold splits.
func (o *Orchestrator) Reactivate(ctx context.Context, participantID int64) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	if _, err := o.state.Participant(participantID); err != nil {
		o.mu.Unlock()
		return err
	}
	if err := o.begin("reactivate", participantID); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	err := o.rules.ReactivateParticipant(ctx, participantID)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("reactivate", participantID)
	if err != nil {
		return err
	}
	if err := o.state.ReactivateLocal(participantID); err != nil {
		return err
	}
	o.persist(ctx)
	return nil
}

// AddReplacement registers a replacement character on the running
// expedition and appends them to the roster.
//
// Precondition: the active party is below the size cap.
func (o *Orchestrator) AddReplacement(ctx context.Context, userID, characterName string) error {
	o.mu.Lock()
	if err := o.requireLoaded(); err != nil {
		o.mu.Unlock()
		return err
	}
	if len(o.state.ActiveParticipants()) >= catalog.MaxParticipants {
		o.mu.Unlock()
		return ErrPartyFull
	}
	expeditionID := o.state.Expedition.ID
	if err := o.begin("add-replacement", 0); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	p, err := o.rules.AddParticipant(ctx, expeditionID, rules.AddParticipantRequest{
		UserID:        userID,
		CharacterName: characterName,
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	o.end("add-replacement", 0)
	if err != nil {
		return err
	}
	o.state.Roster = append(o.state.Roster, *p)
	o.persist(ctx)
	return nil
}

// Snapshot returns a copy of the current run projection for display.
func (o *Orchestrator) Snapshot() (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return Snapshot{}, err
	}
	return o.state.Snapshot(), nil
}

// Phase returns the current run phase.
func (o *Orchestrator) Phase() (Phase, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireLoaded(); err != nil {
		return "", err
	}
	return o.state.Phase, nil
}
