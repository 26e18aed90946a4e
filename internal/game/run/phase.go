// Package run implements the expedition gameplay state machine: floor
// planning and generation, the per-room encounter → rewards → items → gold →
// completed chain, mid-run roster changes, and snapshot-based recovery of an
// interrupted session.
package run

// Phase is the overall position of a run. It tracks what the operator is
// currently doing, not per-room progress; per-room progress lives in the
// Room sub-phase flags.
type Phase string

const (
	// PhaseSetup: loaded, no floor plan selected yet.
	PhaseSetup Phase = "setup"
	// PhaseFloorSelect: plan exists, current floor awaiting generation.
	PhaseFloorSelect Phase = "floor_select"
	// PhaseRoomList: rooms generated, no room focused.
	PhaseRoomList Phase = "room_list"
	// PhaseEncounter: a focused room is awaiting its encounter or reward
	// resolution.
	PhaseEncounter Phase = "encounter"
	// PhaseAssignItems: a focused room has pending items to assign or sell.
	PhaseAssignItems Phase = "assign_items"
	// PhaseDistributeGold: a focused room is awaiting its gold split.
	PhaseDistributeGold Phase = "distribute_gold"
	// PhaseRoomComplete: the focused room is fully resolved, awaiting the
	// terminal complete-room call.
	PhaseRoomComplete Phase = "room_complete"
	// PhaseExpeditionComplete: every planned floor is finished.
	PhaseExpeditionComplete Phase = "expedition_complete"
)

// Step is the next sub-phase a room needs, in the fixed per-room order.
type Step string

const (
	StepEncounter Step = "encounter"
	StepRewards   Step = "rewards"
	StepItems     Step = "items"
	StepGold      Step = "gold"
	StepComplete  Step = "complete"
	StepDone      Step = "done"
)

// phaseForStep maps a focused room's next step to the run phase shown while
// that room is focused.
func phaseForStep(s Step) Phase {
	switch s {
	case StepEncounter, StepRewards:
		return PhaseEncounter
	case StepItems:
		return PhaseAssignItems
	case StepGold:
		return PhaseDistributeGold
	default:
		return PhaseRoomComplete
	}
}
