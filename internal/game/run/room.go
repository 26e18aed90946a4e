package run

import (
	"errors"
	"fmt"

	"github.com/delvecraft/expedition/internal/game/catalog"
	"github.com/delvecraft/expedition/internal/rules"
)

// Sub-phase ordering violations. These indicate a programming defect in the
// caller (a control that should have been disabled), not an operator error.
var (
	ErrRoomCompleted       = errors.New("run: room already completed")
	ErrEncounterResolved   = errors.New("run: encounter already resolved")
	ErrEncounterPending    = errors.New("run: encounter not resolved yet")
	ErrRewardsResolved     = errors.New("run: rewards already resolved")
	ErrRewardsPending      = errors.New("run: rewards not resolved yet")
	ErrItemsAssigned       = errors.New("run: items already confirmed")
	ErrItemUnresolved      = errors.New("run: a pending item has neither an assignment nor a sale marker")
	ErrItemsPending        = errors.New("run: item assignments not confirmed yet")
	ErrGoldDistributed     = errors.New("run: gold already distributed")
	ErrGoldPending         = errors.New("run: gold not distributed yet")
	ErrItemIndexOutOfRange = errors.New("run: item index out of range")
	ErrItemConfirmed       = errors.New("run: item assignment already submitted")
)

// Item is one pending table-item reward tracked through manual resolution.
// Exactly one of AssignedTo / ForSale may be set; setting one clears the
// other.
type Item struct {
	rules.PendingItem

	// AssignedTo is the receiving participant id, 0 while unassigned.
	AssignedTo int64 `json:"assigned_to"`
	// ForSale marks the item as sold into the room's gold pool instead of
	// assigned.
	ForSale bool `json:"for_sale"`
	// SaleProceeds is the gold value captured once when the item was marked
	// for sale (fixed catalog price or a single price-dice roll).
	SaleProceeds int `json:"sale_proceeds"`
	// Confirmed is set once the assignment has been submitted to the rules
	// service, so a retried confirmation batch skips it.
	Confirmed bool `json:"confirmed"`
}

// Resolved reports whether the item has been assigned or marked for sale.
func (i *Item) Resolved() bool { return i.AssignedTo != 0 || i.ForSale }

// Room is one generated encounter location on the active floor. Its type and
// ordinal are immutable after generation; the sub-phase flags move only from
// unresolved to resolved, in the fixed order encounter → rewards → items →
// gold → completed, and each flag is set together with its payload.
type Room struct {
	ID      int64            `json:"id"`
	Ordinal int              `json:"ordinal"`
	Kind    catalog.RoomKind `json:"kind"`

	EncounterResolved bool                   `json:"encounter_resolved"`
	Encounter         *rules.EncounterResult `json:"encounter,omitempty"`

	RewardsResolved bool            `json:"rewards_resolved"`
	Rewards         *rules.RewardSet `json:"rewards,omitempty"`
	Items           []Item           `json:"items,omitempty"`

	ItemsAssigned bool `json:"items_assigned"`

	GoldDistributed bool              `json:"gold_distributed"`
	GoldShares      []rules.GoldShare `json:"gold_shares,omitempty"`

	Completed bool `json:"completed"`

	// RewardEntries buffers the operator's reward rolls (one per defeated
	// enemy) before submission. Persisted so a reload resumes mid-entry.
	RewardEntries []rules.RewardRoll `json:"reward_entries,omitempty"`
	// GoldTotal buffers the rolled or manually entered gold amount before
	// distribution. Sale proceeds are added on top at submission time.
	GoldTotal int `json:"gold_total"`
}

// Step reports the next sub-phase this room needs.
func (r *Room) Step() Step {
	switch {
	case !r.EncounterResolved:
		return StepEncounter
	case !r.RewardsResolved:
		return StepRewards
	case !r.ItemsAssigned:
		return StepItems
	case !r.GoldDistributed:
		return StepGold
	case !r.Completed:
		return StepComplete
	default:
		return StepDone
	}
}

// ApplyEncounter records the authoritative encounter resolution and seeds
// one empty reward-roll entry per defeated enemy. An encounter with zero
// enemies makes every later sub-phase vacuous and the room skips straight to
// awaiting completion.
//
// Precondition: the room is not completed and the encounter is unresolved.
// Postcondition: EncounterResolved is true and Encounter is non-nil.
func (r *Room) ApplyEncounter(res *rules.EncounterResult) error {
	if r.Completed {
		return ErrRoomCompleted
	}
	if r.EncounterResolved {
		return ErrEncounterResolved
	}
	r.Encounter = res
	r.EncounterResolved = true
	if res.TotalEnemies > 0 {
		r.RewardEntries = make([]rules.RewardRoll, res.TotalEnemies)
	}
	if res.TotalEnemies == 0 {
		r.RewardsResolved = true
		r.ItemsAssigned = true
		r.GoldDistributed = true
	}
	return nil
}

// ApplyRewards records a reward resolution. When any outcome still requires
// a sub-table roll the set is stored but the phase stays open; the caller
// collects the missing rolls and re-submits. Pending items are rebuilt from
// the set on every application, so assignments made against a provisional
// set do not survive a re-submission.
//
// Precondition: the encounter is resolved and the reward phase is open.
// Postcondition: RewardsResolved is true iff no outcome requires a
// sub-table roll; vacuous later sub-phases are skipped.
func (r *Room) ApplyRewards(set *rules.RewardSet) error {
	if r.Completed {
		return ErrRoomCompleted
	}
	if !r.EncounterResolved {
		return ErrEncounterPending
	}
	if r.RewardsResolved {
		return ErrRewardsResolved
	}
	r.Rewards = set
	r.Items = nil
	for _, p := range set.PendingItems {
		r.Items = append(r.Items, Item{PendingItem: p})
	}
	if len(set.SubtablePending()) == 0 {
		r.RewardsResolved = true
		if len(r.Items) == 0 {
			r.ItemsAssigned = true
			r.skipVacuousGold()
		}
	}
	return nil
}

// AssignItem binds the pending item at index to one participant, clearing
// any sale marker it carried. An item whose assignment was already submitted
// cannot be re-bound.
//
// Precondition: rewards resolved, items not yet confirmed, index in range.
func (r *Room) AssignItem(index int, participantID int64) error {
	if err := r.itemPhaseOpen(); err != nil {
		return err
	}
	if index < 0 || index >= len(r.Items) {
		return ErrItemIndexOutOfRange
	}
	it := &r.Items[index]
	if it.Confirmed {
		return ErrItemConfirmed
	}
	it.ForSale = false
	it.SaleProceeds = 0
	it.AssignedTo = participantID
	return nil
}

// MarkForSale converts the pending item at index into a gold contribution,
// clearing any assignment it carried. The proceeds value is fixed here, once;
// unmarking and re-marking rolls it again.
//
// Precondition: rewards resolved, items not yet confirmed, index in range;
// proceeds >= 0.
func (r *Room) MarkForSale(index, proceeds int) error {
	if err := r.itemPhaseOpen(); err != nil {
		return err
	}
	if index < 0 || index >= len(r.Items) {
		return ErrItemIndexOutOfRange
	}
	it := &r.Items[index]
	if it.Confirmed {
		return ErrItemConfirmed
	}
	it.AssignedTo = 0
	it.ForSale = true
	it.SaleProceeds = proceeds
	return nil
}

// UnmarkForSale removes the sale marker from the item at index, restoring it
// to the assignable set and removing its proceeds from the gold pool.
func (r *Room) UnmarkForSale(index int) error {
	if err := r.itemPhaseOpen(); err != nil {
		return err
	}
	if index < 0 || index >= len(r.Items) {
		return ErrItemIndexOutOfRange
	}
	it := &r.Items[index]
	it.ForSale = false
	it.SaleProceeds = 0
	return nil
}

func (r *Room) itemPhaseOpen() error {
	if r.Completed {
		return ErrRoomCompleted
	}
	if !r.RewardsResolved {
		return ErrRewardsPending
	}
	if r.ItemsAssigned {
		return ErrItemsAssigned
	}
	return nil
}

// MarkItemsAssigned closes the item sub-phase. When the room then has no
// gold dice to roll and no sale proceeds, the gold sub-phase is vacuous and
// is skipped as well.
//
// Precondition: every pending item is assigned or marked for sale.
// Postcondition: ItemsAssigned is true.
func (r *Room) MarkItemsAssigned() error {
	if err := r.itemPhaseOpen(); err != nil {
		return err
	}
	for i := range r.Items {
		if !r.Items[i].Resolved() {
			return fmt.Errorf("%w: item %d (%s)", ErrItemUnresolved, i, r.Items[i].ItemName)
		}
	}
	r.ItemsAssigned = true
	r.skipVacuousGold()
	return nil
}

// skipVacuousGold marks the gold sub-phase done when there is nothing to
// distribute: no gold dice, no sale proceeds, no manual total.
func (r *Room) skipVacuousGold() {
	if r.GoldDistributed {
		return
	}
	if r.Rewards != nil && len(r.Rewards.GoldDice) > 0 {
		return
	}
	if r.SaleProceedsTotal() > 0 || r.GoldTotal > 0 {
		return
	}
	r.GoldDistributed = true
}

// SaleProceedsTotal sums the captured proceeds of every item marked for
// sale.
func (r *Room) SaleProceedsTotal() int {
	total := 0
	for i := range r.Items {
		if r.Items[i].ForSale {
			total += r.Items[i].SaleProceeds
		}
	}
	return total
}

// TotalGold is the amount submitted for distribution: the rolled or entered
// gold total plus all sale proceeds.
func (r *Room) TotalGold() int {
	return r.GoldTotal + r.SaleProceedsTotal()
}

// MarkGoldDistributed records the applied gold split.
//
// Precondition: items confirmed, gold not yet distributed.
// Postcondition: GoldDistributed is true and GoldShares holds the split.
func (r *Room) MarkGoldDistributed(shares []rules.GoldShare) error {
	if r.Completed {
		return ErrRoomCompleted
	}
	if !r.ItemsAssigned {
		return ErrItemsPending
	}
	if r.GoldDistributed {
		return ErrGoldDistributed
	}
	r.GoldShares = shares
	r.GoldDistributed = true
	return nil
}

// MarkCompleted is the terminal, irreversible per-room transition.
//
// Precondition: gold distributed.
func (r *Room) MarkCompleted() error {
	if r.Completed {
		return ErrRoomCompleted
	}
	if !r.GoldDistributed {
		return ErrGoldPending
	}
	r.Completed = true
	return nil
}
