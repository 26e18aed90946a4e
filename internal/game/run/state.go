package run

import (
	"errors"
	"fmt"

	"github.com/delvecraft/expedition/internal/rules"
)

// Operator-facing validation failures. Unlike the sub-phase ordering errors
// these are expected in normal use and should be surfaced and retried.
var (
	ErrNoPlan              = errors.New("run: no floor plan selected")
	ErrPlanExhausted       = errors.New("run: no floors remain in the plan")
	ErrNoRooms             = errors.New("run: no rooms generated for this floor")
	ErrRoomIndexOutOfRange = errors.New("run: room index out of range")
	ErrFloorIncomplete     = errors.New("run: not every room on this floor is completed")
	ErrUnknownParticipant  = errors.New("run: participant not in the roster")
	ErrParticipantInactive = errors.New("run: participant is not active")
)

// FloorConfig is one planned floor: its number plus the generation options.
// A boss room is implicit and always generated.
type FloorConfig struct {
	Floor        int  `json:"floor"`
	IncludeBonus bool `json:"include_bonus"`
	IncludeEvent bool `json:"include_event"`
}

// State is the mutable model of one expedition run. It is not safe for
// concurrent use; the Orchestrator serializes access to it.
type State struct {
	// Expedition is the cached server-owned aggregate the run belongs to.
	Expedition *rules.Expedition
	// Roster caches all participants, active and inactive. Deactivation
	// flips the flag and records the leave ordinal; entries are never
	// removed.
	Roster []rules.Participant
	// Plan is the ordered floor plan, consumed front to back.
	Plan []FloorConfig
	// FloorIndex is the position in Plan of the floor being played. Always
	// a valid index while Plan is non-empty and the run is not complete.
	FloorIndex int
	// Rooms is the room list of the active floor, replaced wholesale on
	// each generation.
	Rooms []Room
	// RoomIndex is the focused room, -1 when none. At most one room is
	// focused at a time.
	RoomIndex int
	// Phase is the overall run phase.
	Phase Phase
}

// NewState creates the clean state for a freshly loaded expedition.
func NewState(exp *rules.Expedition, roster []rules.Participant) *State {
	return &State{
		Expedition: exp,
		Roster:     roster,
		RoomIndex:  -1,
		Phase:      PhaseSetup,
	}
}

// SetPlan installs the ordered floor plan and moves the run to floor
// selection. Permitted only before the first floor has been generated.
//
// Precondition: plan is non-empty with positive floor numbers.
func (s *State) SetPlan(plan []FloorConfig) error {
	if s.Phase != PhaseSetup && s.Phase != PhaseFloorSelect {
		return fmt.Errorf("run: cannot change the floor plan in phase %q", s.Phase)
	}
	if len(plan) == 0 {
		return ErrNoPlan
	}
	for _, fc := range plan {
		if fc.Floor < 1 {
			return fmt.Errorf("run: invalid floor number %d in plan", fc.Floor)
		}
	}
	s.Plan = append([]FloorConfig(nil), plan...)
	s.FloorIndex = 0
	s.Phase = PhaseFloorSelect
	return nil
}

// CurrentFloor returns the floor configuration being played.
func (s *State) CurrentFloor() (FloorConfig, error) {
	if len(s.Plan) == 0 {
		return FloorConfig{}, ErrNoPlan
	}
	if s.FloorIndex >= len(s.Plan) {
		return FloorConfig{}, ErrPlanExhausted
	}
	return s.Plan[s.FloorIndex], nil
}

// InstallRooms replaces the active floor's room list with a freshly
// generated one and clears focus.
//
// Postcondition: Phase is PhaseRoomList; RoomIndex is -1.
func (s *State) InstallRooms(rooms []Room) {
	s.Rooms = rooms
	s.RoomIndex = -1
	s.Phase = PhaseRoomList
}

// Room returns a pointer to the room at index.
func (s *State) Room(index int) (*Room, error) {
	if len(s.Rooms) == 0 {
		return nil, ErrNoRooms
	}
	if index < 0 || index >= len(s.Rooms) {
		return nil, ErrRoomIndexOutOfRange
	}
	return &s.Rooms[index], nil
}

// FocusRoom expands the room at index for interaction and sets the phase
// for its next sub-phase. Focusing replaces any previous focus.
func (s *State) FocusRoom(index int) error {
	room, err := s.Room(index)
	if err != nil {
		return err
	}
	s.RoomIndex = index
	s.Phase = phaseForStep(room.Step())
	return nil
}

// Unfocus collapses the focused room and returns to the room list.
func (s *State) Unfocus() {
	s.RoomIndex = -1
	if s.Phase != PhaseExpeditionComplete {
		s.Phase = PhaseRoomList
	}
}

// FocusedRoom returns the focused room, or nil when none is focused.
func (s *State) FocusedRoom() *Room {
	if s.RoomIndex < 0 || s.RoomIndex >= len(s.Rooms) {
		return nil
	}
	return &s.Rooms[s.RoomIndex]
}

// SyncFocusedPhase re-derives the phase from the focused room's next step.
// Called after every mutation of the focused room.
func (s *State) SyncFocusedPhase() {
	if room := s.FocusedRoom(); room != nil {
		s.Phase = phaseForStep(room.Step())
	}
}

// AllRoomsCompleted reports whether every room on the active floor is
// completed. False when no rooms have been generated.
func (s *State) AllRoomsCompleted() bool {
	if len(s.Rooms) == 0 {
		return false
	}
	for i := range s.Rooms {
		if !s.Rooms[i].Completed {
			return false
		}
	}
	return true
}

// AdvanceFloor moves past a fully completed floor. On a non-last floor it
// resets the room list and returns true; on the last floor it enters
// PhaseExpeditionComplete and returns false, leaving the room list intact
// for the completion summary.
//
// Precondition: every room on the active floor is completed.
func (s *State) AdvanceFloor() (bool, error) {
	if !s.AllRoomsCompleted() {
		return false, ErrFloorIncomplete
	}
	if s.FloorIndex+1 >= len(s.Plan) {
		s.RoomIndex = -1
		s.Phase = PhaseExpeditionComplete
		return false, nil
	}
	s.FloorIndex++
	s.Rooms = nil
	s.RoomIndex = -1
	s.Phase = PhaseFloorSelect
	return true, nil
}

// RetargetFloor changes the upcoming floor's number before generation,
// keeping its generation options.
//
// Precondition: the run is in floor selection.
func (s *State) RetargetFloor(floor int) error {
	if s.Phase != PhaseFloorSelect {
		return fmt.Errorf("run: cannot retarget floor in phase %q", s.Phase)
	}
	if floor < 1 {
		return fmt.Errorf("run: invalid floor number %d", floor)
	}
	s.Plan[s.FloorIndex].Floor = floor
	return nil
}

// Participant returns a pointer into the roster for the given participant
// id.
func (s *State) Participant(id int64) (*rules.Participant, error) {
	for i := range s.Roster {
		if s.Roster[i].ID == id {
			return &s.Roster[i], nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownParticipant, id)
}

// ActiveParticipants returns the participants currently eligible for gold
// splits and item assignment.
func (s *State) ActiveParticipants() []rules.Participant {
	var active []rules.Participant
	for _, p := range s.Roster {
		if p.Active {
			active = append(active, p)
		}
	}
	return active
}

// ApplyGoldShares folds an applied gold split into the cached roster totals
// for session display. The authoritative totals live server-side.
func (s *State) ApplyGoldShares(shares []rules.GoldShare) {
	for _, share := range shares {
		for i := range s.Roster {
			if s.Roster[i].ID == share.ParticipantID {
				s.Roster[i].GoldAccrued += share.Gold
				break
			}
		}
	}
}

// DeactivateLocal flips a roster entry inactive and records the room
// ordinal at which the participant left. Gold already distributed and item
// assignments already made are untouched.
func (s *State) DeactivateLocal(id int64, leaveOrdinal int) error {
	p, err := s.Participant(id)
	if err != nil {
		return err
	}
	p.Active = false
	ord := leaveOrdinal
	p.LeaveRoom = &ord
	return nil
}

// ReactivateLocal flips a roster entry back to active.
func (s *State) ReactivateLocal(id int64) error {
	p, err := s.Participant(id)
	if err != nil {
		return err
	}
	p.Active = true
	p.LeaveRoom = nil
	return nil
}

// LeaveOrdinal is the room ordinal recorded when a participant deactivates
// now: the focused room's ordinal, else the count of completed rooms on the
// active floor.
func (s *State) LeaveOrdinal() int {
	if room := s.FocusedRoom(); room != nil {
		return room.Ordinal
	}
	completed := 0
	for i := range s.Rooms {
		if s.Rooms[i].Completed {
			completed++
		}
	}
	return completed
}
