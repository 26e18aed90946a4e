package rules

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delvecraft/expedition/internal/config"
	"github.com/delvecraft/expedition/internal/game/catalog"
)

// Client is the REST client to the rules service and the expedition /
// participant resources it fronts. Every call carries the configured
// per-request deadline; a timed-out or failed call is retriable and commits
// no partial state. There is no automatic retry for state-changing calls.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a rules client from configuration.
//
// Precondition: cfg must have passed config.Validate; logger must be non-nil.
func NewClient(cfg config.RulesConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		httpClient.SetHeader("X-Api-Key", cfg.APIKey)
	}

	return &Client{http: httpClient, logger: logger}
}

// do issues one request and maps failures to the package error taxonomy:
// transport errors are wrapped, non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, op, method, path string, body, result any) error {
	requestID := uuid.NewString()

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", requestID)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	var remoteErr errorBody
	req.SetError(&remoteErr)

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = req.Get(path)
	case http.MethodPost:
		resp, err = req.Post(path)
	case http.MethodPut:
		resp, err = req.Put(path)
	default:
		return fmt.Errorf("rules: unsupported method %q for %s", method, op)
	}

	if err != nil {
		c.logger.Error("rules call failed",
			zap.String("operation", op),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return fmt.Errorf("rules: %s: %w", op, err)
	}

	if resp.IsError() {
		apiErr := &APIError{
			StatusCode: resp.StatusCode(),
			Message:    remoteErr.text(),
			Operation:  op,
		}
		c.logger.Warn("rules call rejected",
			zap.String("operation", op),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode()),
			zap.String("message", remoteErr.text()),
		)
		return apiErr
	}

	c.logger.Debug("rules call ok",
		zap.String("operation", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}

// GenerateFloorLayout asks the rules engine to assemble the room list for
// one floor. Re-invoking creates a new layout; the caller discards the
// previous one.
func (c *Client) GenerateFloorLayout(ctx context.Context, req GenerateLayoutRequest) (*FloorLayout, error) {
	var out FloorLayout
	if err := c.do(ctx, "generate floor layout", http.MethodPost, "/gameplay/generar-layout-piso", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveEncounter submits a room's d20 encounter roll. The protocol allows
// exactly one resolution per room; callers must not resolve twice.
//
// Precondition: 1 <= roll <= 20 (validated by the orchestrator).
func (c *Client) ResolveEncounter(ctx context.Context, roomID int64, roll int) (*EncounterResult, error) {
	body := map[string]any{
		"historial_habitacion_id": roomID,
		"tirada":                  roll,
	}
	var out EncounterResult
	if err := c.do(ctx, "resolve encounter", http.MethodPost, "/gameplay/resolver-encuentro-habitacion", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessRewards submits one reward roll per defeated enemy. When the
// returned set reports pending sub-tables, the reward phase is not complete
// and the same roll list must be re-submitted with the sub-rolls filled in.
func (c *Client) ProcessRewards(ctx context.Context, req ProcessRewardsRequest) (*RewardSet, error) {
	var out RewardSet
	if err := c.do(ctx, "process rewards", http.MethodPost, "/gameplay/procesar-recompensas-habitacion", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignItem records one pending item's assignment to one participant.
func (c *Client) AssignItem(ctx context.Context, req AssignItemRequest) error {
	return c.do(ctx, "assign item", http.MethodPost, "/gameplay/asignar-item", req, nil)
}

// DistributeGold splits a room's total gold across currently active
// participants and returns the applied shares.
func (c *Client) DistributeGold(ctx context.Context, req DistributeGoldRequest) (*GoldDistribution, error) {
	var out GoldDistribution
	if err := c.do(ctx, "distribute gold", http.MethodPost, "/gameplay/repartir-oro-habitacion", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteRoom marks a room finished. Terminal and irreversible.
func (c *Client) CompleteRoom(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/gameplay/completar-habitacion/%d", roomID)
	return c.do(ctx, "complete room", http.MethodPost, path, nil, nil)
}

// ActiveParticipants returns the participants currently eligible for gold
// splits.
func (c *Client) ActiveParticipants(ctx context.Context, expeditionID int64) ([]Participant, error) {
	var out []Participant
	path := fmt.Sprintf("/gameplay/participantes-activos/%d", expeditionID)
	if err := c.do(ctx, "active participants", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary fetches the read-only per-participant breakdown of a run.
func (c *Client) Summary(ctx context.Context, expeditionID int64) (*ExpeditionSummary, error) {
	var out ExpeditionSummary
	path := fmt.Sprintf("/gameplay/resumen-expedicion/%d", expeditionID)
	if err := c.do(ctx, "expedition summary", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LiquidateRewards converts a batch of assigned rewards into gold at the
// given sale prices.
func (c *Client) LiquidateRewards(ctx context.Context, req LiquidateRequest) error {
	return c.do(ctx, "liquidate rewards", http.MethodPost, "/gameplay/liquidar-recompensas", req, nil)
}

// GetExpedition fetches one expedition by id.
func (c *Client) GetExpedition(ctx context.Context, id int64) (*Expedition, error) {
	var out Expedition
	path := fmt.Sprintf("/expediciones/%d", id)
	if err := c.do(ctx, "get expedition", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateExpedition applies a partial update (status, current floor, notes).
func (c *Client) UpdateExpedition(ctx context.Context, id int64, req UpdateExpeditionRequest) (*Expedition, error) {
	var out Expedition
	path := fmt.Sprintf("/expediciones/%d", id)
	if err := c.do(ctx, "update expedition", http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListParticipants returns the full roster for an expedition, active and
// inactive.
func (c *Client) ListParticipants(ctx context.Context, expeditionID int64) ([]Participant, error) {
	var out []Participant
	path := fmt.Sprintf("/expediciones/%d/participaciones", expeditionID)
	if err := c.do(ctx, "list participants", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddParticipant registers a replacement character on a running expedition.
func (c *Client) AddParticipant(ctx context.Context, expeditionID int64, req AddParticipantRequest) (*Participant, error) {
	var out Participant
	path := fmt.Sprintf("/expediciones/%d/participaciones", expeditionID)
	if err := c.do(ctx, "add participant", http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateParticipant excludes a participant from future gold splits.
// Non-destructive: prior gold and item assignments are untouched.
func (c *Client) DeactivateParticipant(ctx context.Context, participantID int64) error {
	path := fmt.Sprintf("/expediciones/participaciones/%d/desactivar", participantID)
	return c.do(ctx, "deactivate participant", http.MethodPut, path, nil, nil)
}

// ReactivateParticipant re-includes a previously deactivated participant.
func (c *Client) ReactivateParticipant(ctx context.Context, participantID int64) error {
	path := fmt.Sprintf("/expediciones/participaciones/%d/reactivar", participantID)
	return c.do(ctx, "reactivate participant", http.MethodPut, path, nil, nil)
}

// ListFloors fetches the floor generation profiles.
func (c *Client) ListFloors(ctx context.Context) ([]catalog.Floor, error) {
	var out []catalog.Floor
	if err := c.do(ctx, "list floors", http.MethodGet, "/configuracion/pisos", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTiers fetches the tier definitions.
func (c *Client) ListTiers(ctx context.Context) ([]catalog.Tier, error) {
	var out []catalog.Tier
	if err := c.do(ctx, "list tiers", http.MethodGet, "/configuracion/tiers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListItems fetches the loot item catalog.
func (c *Client) ListItems(ctx context.Context) ([]catalog.Item, error) {
	var out []catalog.Item
	if err := c.do(ctx, "list items", http.MethodGet, "/configuracion/items", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchCatalog builds the read-once reference catalog from the remote
// configuration endpoints.
func (c *Client) FetchCatalog(ctx context.Context) (*catalog.Catalog, error) {
	floors, err := c.ListFloors(ctx)
	if err != nil {
		return nil, err
	}
	tiers, err := c.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	items, err := c.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.New(floors, tiers, items), nil
}
