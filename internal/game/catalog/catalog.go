// Package catalog holds the read-once reference data for expedition runs:
// floor and tier definitions, room kinds, and the item catalog. The wire
// names (Spanish) come from the remote configuration service and are kept
// as-is on the JSON/YAML boundary.
package catalog

import (
	"fmt"
	"sort"

	"github.com/delvecraft/expedition/internal/game/dice"
)

// MaxParticipants is the party size cap enforced by the backing service.
const MaxParticipants = 5

// RoomKind classifies a generated room. Values match the wire names used by
// the rules service.
type RoomKind string

const (
	RoomCommon RoomKind = "comun"
	RoomBonus  RoomKind = "bonus"
	RoomBoss   RoomKind = "jefe"
	RoomEvent  RoomKind = "evento"
)

// RoomIcons maps a room kind to its display glyph.
var RoomIcons = map[RoomKind]string{
	RoomCommon: "🚪",
	RoomBonus:  "✨",
	RoomBoss:   "💀",
	RoomEvent:  "⚡",
}

// TierLabels maps a tier number to its display label.
var TierLabels = map[int]string{
	1: "Principiante",
	2: "Intermedio",
	3: "Avanzado",
	4: "Experto",
}

// TierLabel returns the display label for a tier number, falling back to
// "Tier <n>" for unknown tiers.
func TierLabel(n int) string {
	if label, ok := TierLabels[n]; ok {
		return label
	}
	return fmt.Sprintf("Tier %d", n)
}

// Tier is a difficulty band spanning a contiguous range of floors.
type Tier struct {
	ID          int64   `json:"id" yaml:"id"`
	Number      int     `json:"numero" yaml:"numero"`
	FloorMin    int     `json:"piso_min" yaml:"piso_min"`
	FloorMax    int     `json:"piso_max" yaml:"piso_max"`
	WeaponMod   int     `json:"mod_armas" yaml:"mod_armas"`
	ArmorMod    int     `json:"mod_armaduras" yaml:"mod_armaduras"`
	Description *string `json:"descripcion" yaml:"descripcion"`
}

// Floor is the generation profile for one dungeon floor.
type Floor struct {
	Number      int   `json:"numero" yaml:"numero"`
	TierID      int64 `json:"tier_id" yaml:"tier_id"`
	TierNumber  int   `json:"tier_numero" yaml:"tier_numero"`
	RewardBonus int   `json:"bonus_recompensa" yaml:"bonus_recompensa"`
	CommonRooms int   `json:"num_habitaciones_comunes" yaml:"num_habitaciones_comunes"`
}

// ItemKind classifies a catalog item.
type ItemKind string

const (
	ItemConsumable ItemKind = "consumible"
	ItemEquipment  ItemKind = "equipo"
	ItemWeapon     ItemKind = "arma"
	ItemArmor      ItemKind = "armadura"
	ItemMaterial   ItemKind = "material"
	ItemOther      ItemKind = "otro"
)

// Item is one entry of the loot catalog. An item carries either a fixed base
// price, a price-dice notation, or neither (priceless).
type Item struct {
	ID          int64    `json:"id" yaml:"id"`
	Name        string   `json:"nombre" yaml:"nombre"`
	Kind        ItemKind `json:"tipo" yaml:"tipo"`
	BasePrice   *int     `json:"precio_base" yaml:"precio_base"`
	PriceDice   *string  `json:"dados_precio" yaml:"dados_precio"`
	Description *string  `json:"descripcion" yaml:"descripcion"`
	Modifiable  bool     `json:"es_base_modificable" yaml:"es_base_modificable"`
}

// Catalog is an immutable lookup over the reference data. Built once at run
// start (from the remote service or a fixture file) and consulted afterwards.
type Catalog struct {
	floors map[int]Floor
	tiers  map[int]Tier
	items  map[int64]Item
}

// New builds a Catalog from slices of reference entries.
//
// Postcondition: Lookups by floor number, tier number, and item id resolve
// to the given entries; duplicate keys keep the last entry.
func New(floors []Floor, tiers []Tier, items []Item) *Catalog {
	c := &Catalog{
		floors: make(map[int]Floor, len(floors)),
		tiers:  make(map[int]Tier, len(tiers)),
		items:  make(map[int64]Item, len(items)),
	}
	for _, f := range floors {
		c.floors[f.Number] = f
	}
	for _, t := range tiers {
		c.tiers[t.Number] = t
	}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

// Floor returns the generation profile for the given floor number.
func (c *Catalog) Floor(number int) (Floor, bool) {
	f, ok := c.floors[number]
	return f, ok
}

// Floors returns all floors in ascending number order.
func (c *Catalog) Floors() []Floor {
	out := make([]Floor, 0, len(c.floors))
	for _, f := range c.floors {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Tier returns the tier with the given tier number.
func (c *Catalog) Tier(number int) (Tier, bool) {
	t, ok := c.tiers[number]
	return t, ok
}

// Item returns the catalog item with the given id.
func (c *Catalog) Item(id int64) (Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// SalePrice resolves the gold value of selling an item: the fixed base price
// when defined, otherwise the price dice rolled once with src, otherwise 0.
//
// Precondition: src must be non-nil.
// Postcondition: Returns >= 0; unknown item ids resolve to 0.
func (c *Catalog) SalePrice(itemID int64, src dice.Source) int {
	it, ok := c.items[itemID]
	if !ok {
		return 0
	}
	if it.BasePrice != nil {
		return *it.BasePrice
	}
	if it.PriceDice != nil {
		return dice.Eval(*it.PriceDice, src)
	}
	return 0
}
