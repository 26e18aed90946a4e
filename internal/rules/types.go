// Package rules is the client contract to the remote rules engine: floor
// layout generation, encounter and reward resolution, item assignment, gold
// distribution, and the expedition/participant resources. The JSON field
// names (Spanish) are the service's wire format and are preserved verbatim;
// the Go names are the English vocabulary used by the rest of the core.
package rules

// ExpeditionStatus is the lifecycle state of an expedition.
type ExpeditionStatus string

const (
	StatusPending   ExpeditionStatus = "pendiente"
	StatusActive    ExpeditionStatus = "en_curso"
	StatusCompleted ExpeditionStatus = "completada"
	StatusCancelled ExpeditionStatus = "cancelada"
)

// Expedition is the server-owned run aggregate. The core only reads it and
// writes status / current floor through UpdateExpedition.
type Expedition struct {
	ID            int64            `json:"id"`
	OrganizerID   string           `json:"organizador_id"`
	OrganizerName string           `json:"organizador_nombre"`
	Date          string           `json:"fecha"`
	Status        ExpeditionStatus `json:"estado"`
	CurrentFloor  int              `json:"piso_actual"`
	Notes         *string          `json:"notas"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

// UpdateExpeditionRequest carries a partial update; nil fields are omitted.
type UpdateExpeditionRequest struct {
	Status       *ExpeditionStatus `json:"estado,omitempty"`
	CurrentFloor *int              `json:"piso_actual,omitempty"`
	Notes        *string           `json:"notas,omitempty"`
}

// Participant binds one user's character to an expedition.
type Participant struct {
	ID            int64  `json:"id"`
	ExpeditionID  int64  `json:"expedicion_id"`
	UserID        string `json:"usuario_id"`
	UserName      string `json:"usuario_nombre"`
	CharacterName string `json:"nombre_personaje"`
	GoldAccrued   int    `json:"oro_acumulado"`
	Active        bool   `json:"activo"`
	// LeaveRoom is the ordinal of the room at which a deactivated
	// participant left the run; nil while active.
	LeaveRoom *int   `json:"sala_salida"`
	CreatedAt string `json:"created_at"`
}

// AddParticipantRequest registers a replacement character mid-run.
type AddParticipantRequest struct {
	UserID        string `json:"usuario_id"`
	CharacterName string `json:"nombre_personaje"`
}

// GenerateLayoutRequest asks the rules engine to assemble one floor.
type GenerateLayoutRequest struct {
	ExpeditionID int64 `json:"expedicion_id"`
	Floor        int   `json:"piso"`
	IncludeBonus bool  `json:"incluir_bonus"`
	IncludeEvent bool  `json:"incluir_evento"`
}

// RoomLayout is one generated room within a floor layout.
type RoomLayout struct {
	ID         int64  `json:"id"`
	Ordinal    int    `json:"orden"`
	RoomTypeID int64  `json:"tipo_habitacion_id"`
	RoomType   string `json:"tipo_nombre"`
	Completed  bool   `json:"completada"`
}

// FloorLayout is the ordered room list produced for one floor. Re-invoking
// generation produces a new layout; the previous one is discarded client-side.
type FloorLayout struct {
	ExpeditionID int64        `json:"expedicion_id"`
	Floor        int          `json:"piso"`
	TotalRooms   int          `json:"total_habitaciones"`
	Rooms        []RoomLayout `json:"habitaciones"`
}

// Enemy is one entry of an encounter's enemy manifest.
type Enemy struct {
	Name     string `json:"nombre"`
	MaxCount int    `json:"max_cantidad"`
}

// EncounterResult is the authoritative resolution of a room's encounter
// roll. One resolution per room; the protocol does not support re-resolving.
type EncounterResult struct {
	Floor        int     `json:"piso"`
	RoomTypeID   int64   `json:"tipo_habitacion_id"`
	Roll         int     `json:"tirada"`
	TotalEnemies int     `json:"cantidad_total"`
	Enemies      []Enemy `json:"enemigos"`
}

// RewardRoll is one d20 reward roll, optionally with its sub-table roll.
type RewardRoll struct {
	D20      int  `json:"tirada_d20"`
	Subtable *int `json:"tirada_subtabla,omitempty"`
}

// ProcessRewardsRequest submits one roll per defeated enemy for a room.
type ProcessRewardsRequest struct {
	RoomID int64        `json:"historial_habitacion_id"`
	Rolls  []RewardRoll `json:"tiradas"`
}

// RewardKind tags the outcome of a single reward roll.
type RewardKind string

const (
	RewardNothing   RewardKind = "nada"
	RewardGold      RewardKind = "oro"
	RewardTableItem RewardKind = "subtabla"
)

// RewardOutcome is the rules engine's verdict for one reward roll. An
// outcome with RequiresSubtable true is not final: the caller must collect
// the missing sub-table roll and re-submit the whole roll list.
type RewardOutcome struct {
	Floor            int        `json:"piso"`
	RoomTypeID       int64      `json:"tipo_habitacion_id"`
	OriginalRoll     int        `json:"tirada_original"`
	RewardBonus      int        `json:"bonus_recompensa"`
	RollWithBonus    int        `json:"tirada_con_bonus"`
	Kind             RewardKind `json:"tipo_resultado"`
	GoldDice         string     `json:"dados_oro,omitempty"`
	SubtableName     string     `json:"subtabla_nombre,omitempty"`
	SubtableRoll     *int       `json:"tirada_subtabla,omitempty"`
	RequiresSubtable bool       `json:"requiere_subtabla"`
	ItemName         string     `json:"item_nombre,omitempty"`
	ItemID           int64      `json:"item_id,omitempty"`
	ItemWithModifier string     `json:"item_con_modificador,omitempty"`
	TierModifier     int        `json:"modificador_tier,omitempty"`
	Description      string     `json:"descripcion"`
}

// PendingItem is a table-item outcome awaiting manual assignment or sale.
type PendingItem struct {
	Index        int    `json:"indice"`
	D20          int    `json:"tirada_d20"`
	SubtableRoll *int   `json:"tirada_subtabla"`
	SubtableName string `json:"subtabla_nombre"`
	ItemID       int64  `json:"item_id"`
	ItemName     string `json:"item_nombre"`
	TierModifier int    `json:"modificador_tier"`
}

// RewardSet is the full reward resolution for a room: one outcome per
// submitted roll, the items still needing assignment, and the gold dice to
// roll for the room's gold pool.
type RewardSet struct {
	RoomID       int64           `json:"historial_habitacion_id"`
	Floor        int             `json:"piso"`
	RoomTypeID   int64           `json:"tipo_habitacion_id"`
	Outcomes     []RewardOutcome `json:"resultados"`
	PendingItems []PendingItem   `json:"items_pendientes"`
	GoldDice     []string        `json:"oro_dados"`
}

// SubtablePending reports the outcome indexes that still require a sub-table
// roll before the reward phase can complete.
//
// Postcondition: Returns indexes in ascending order; empty means final.
func (s *RewardSet) SubtablePending() []int {
	var pending []int
	for i, o := range s.Outcomes {
		if o.RequiresSubtable {
			pending = append(pending, i)
		}
	}
	return pending
}

// AssignItemRequest binds one resolved pending item to one participant.
type AssignItemRequest struct {
	RoomID        int64 `json:"historial_habitacion_id"`
	ParticipantID int64 `json:"participacion_id"`
	ItemID        int64 `json:"item_id"`
	TierModifier  int   `json:"modificador_tier"`
	OriginalRoll  int   `json:"tirada_original"`
	SubtableRoll  *int  `json:"tirada_subtabla,omitempty"`
}

// DistributeGoldRequest submits a room's total gold for even division among
// active participants.
type DistributeGoldRequest struct {
	RoomID       int64 `json:"historial_habitacion_id"`
	ExpeditionID int64 `json:"expedicion_id"`
	TotalGold    int   `json:"oro_total"`
}

// GoldShare is one participant's cut of a room's gold.
type GoldShare struct {
	ParticipantID int64  `json:"participacion_id"`
	CharacterName string `json:"nombre_personaje"`
	Gold          int    `json:"oro"`
}

// GoldDistribution is the result of a gold split.
type GoldDistribution struct {
	Shares []GoldShare `json:"repartos"`
}

// SummaryItem is one reward line in a participant's expedition summary.
type SummaryItem struct {
	RewardID     int64  `json:"recompensa_id"`
	RoomOrdinal  int    `json:"habitacion_orden"`
	ItemID       int64  `json:"item_id"`
	ItemName     string `json:"item_nombre"`
	TierModifier int    `json:"modificador_tier"`
	GoldEarned   int    `json:"oro_obtenido"`
	Sold         bool   `json:"vendido"`
	SalePrice    *int   `json:"precio_venta"`
}

// ParticipantSummary is one participant's item/gold breakdown.
type ParticipantSummary struct {
	ParticipantID  int64         `json:"participacion_id"`
	CharacterName  string        `json:"nombre_personaje"`
	UserID         string        `json:"usuario_id"`
	Items          []SummaryItem `json:"items"`
	GrossGold      int           `json:"total_oro_bruto"`
	SaleGold       int           `json:"total_oro_ventas"`
	TotalGold      int           `json:"total_oro"`
	CurrentAccrued int           `json:"oro_acumulado_actual"`
}

// ExpeditionSummary is the read-only per-participant breakdown of a run.
type ExpeditionSummary struct {
	ExpeditionID int64                `json:"expedicion_id"`
	Status       string               `json:"estado"`
	CurrentFloor int                  `json:"piso_actual"`
	TotalRooms   int                  `json:"total_habitaciones"`
	Participants []ParticipantSummary `json:"participantes"`
	TotalGold    int                  `json:"oro_total_expedicion"`
}

// Sale is one reward sold during liquidation.
type Sale struct {
	RewardID  int64 `json:"recompensa_id"`
	SalePrice int   `json:"precio_venta"`
}

// LiquidateRequest converts a batch of assigned rewards into gold.
type LiquidateRequest struct {
	ExpeditionID int64  `json:"expedicion_id"`
	Sales        []Sale `json:"ventas"`
}
