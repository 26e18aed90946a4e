package run

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/delvecraft/expedition/internal/rules"
)

// Snapshot is the serializable projection of a run: everything needed to
// resume an interrupted session, including per-room input buffers. It is a
// convenience cache, not a source of truth; the version field lets a later
// schema change invalidate old snapshots cleanly (parse failure → clean
// start).
type Snapshot struct {
	Version      int                 `json:"version"`
	ExpeditionID int64               `json:"expedition_id"`
	Phase        Phase               `json:"phase"`
	Plan         []FloorConfig       `json:"plan"`
	FloorIndex   int                 `json:"floor_index"`
	Rooms        []Room              `json:"rooms"`
	RoomIndex    int                 `json:"room_index"`
	Roster       []rules.Participant `json:"roster"`
	SavedAt      time.Time           `json:"saved_at"`
}

// snapshotVersion is bumped whenever the snapshot schema changes shape
// incompatibly.
const snapshotVersion = 1

// Snapshot captures the state's current projection.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Version:      snapshotVersion,
		ExpeditionID: s.Expedition.ID,
		Phase:        s.Phase,
		Plan:         append([]FloorConfig(nil), s.Plan...),
		FloorIndex:   s.FloorIndex,
		Rooms:        append([]Room(nil), s.Rooms...),
		RoomIndex:    s.RoomIndex,
		Roster:       append([]rules.Participant(nil), s.Roster...),
		SavedAt:      time.Now().UTC(),
	}
}

// Restore rehydrates the state from a snapshot. The expedition reference is
// kept from the fresh load; the snapshot only contributes run progress. The
// roster is restored from the snapshot so mid-run deactivations survive a
// reload even if the server read happened first.
//
// Precondition: the snapshot must belong to the state's expedition.
func (s *State) Restore(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("run: snapshot version %d not supported", snap.Version)
	}
	if snap.ExpeditionID != s.Expedition.ID {
		return fmt.Errorf("run: snapshot belongs to expedition %d, not %d", snap.ExpeditionID, s.Expedition.ID)
	}
	s.Phase = snap.Phase
	s.Plan = snap.Plan
	s.FloorIndex = snap.FloorIndex
	s.Rooms = snap.Rooms
	s.RoomIndex = snap.RoomIndex
	if len(snap.Roster) > 0 {
		s.Roster = snap.Roster
	}
	return nil
}

// EncodeSnapshot serializes a snapshot for the store.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode run snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses stored snapshot bytes.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode run snapshot: %w", err)
	}
	return snap, nil
}
