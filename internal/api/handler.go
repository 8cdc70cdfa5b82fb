package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/georgeshao/api-relay/internal/apperr"
	"github.com/georgeshao/api-relay/internal/collection"
	"github.com/georgeshao/api-relay/internal/history"
	"github.com/georgeshao/api-relay/internal/identity"
	"github.com/georgeshao/api-relay/internal/relay"
	"github.com/georgeshao/api-relay/pkg/types"
)

// Relayer executes outbound requests.
type Relayer interface {
	Execute(ctx context.Context, req *relay.Request) (*relay.Outcome, error)
}

type Options struct {
	// RequireAuthForReads answers anonymous history and collection reads
	// with 401 instead of an empty list.
	RequireAuthForReads bool
}

type Handler struct {
	resolver    *identity.Resolver
	relay       Relayer
	history     *history.Recorder
	collections *collection.Manager
	opts        Options
	logger      zerolog.Logger
}

func NewHandler(
	resolver *identity.Resolver,
	relayer Relayer,
	recorder *history.Recorder,
	collections *collection.Manager,
	opts Options,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		resolver:    resolver,
		relay:       relayer,
		history:     recorder,
		collections: collections,
		opts:        opts,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) Root(c *fiber.Ctx) error {
	return c.JSON(types.MessageResponse{Message: "API relay is running"})
}

// Proxy handles POST /proxy. A failure to save history never hides the
// relayed response: the outcome is returned with a nil requestId and the
// error in historyError.
func (h *Handler) Proxy(c *fiber.Ctx) error {
	id := identityFrom(c)

	var body types.ProxyRequest
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}

	req := &relay.Request{
		URL:     body.URL,
		Method:  body.Method,
		Headers: body.Headers,
		Params:  body.Params,
		Body:    body.Body,
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}

	out, err := h.relay.Execute(c.UserContext(), req)
	if err != nil {
		return err
	}

	resp := types.ProxyResponse{
		Status:     out.Status,
		StatusText: out.StatusText,
		Headers:    out.Headers,
		Data:       out.Body,
	}

	recordID, err := h.history.Record(c.UserContext(), id, req, out)
	if err != nil {
		resp.HistoryError = err.Error()
	}
	resp.RequestID = recordID

	return c.JSON(resp)
}

func (h *Handler) ListHistory(c *fiber.Ctx) error {
	id := identityFrom(c)
	if id == nil && h.opts.RequireAuthForReads {
		return apperr.AuthRequired()
	}

	records, err := h.history.List(c.UserContext(), id)
	if err != nil {
		return h.degradedRead(c, "history", err)
	}

	out := make([]types.HistoryRecord, len(records))
	for i, rec := range records {
		out[i] = recordToHistory(rec)
	}
	return c.JSON(out)
}

func (h *Handler) GetHistory(c *fiber.Ctx) error {
	rec, err := h.history.Get(c.UserContext(), identityFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(recordToHistory(rec))
}

func (h *Handler) CreateCollection(c *fiber.Ctx) error {
	id := identityFrom(c)
	if id == nil {
		return apperr.AuthRequired()
	}

	var body types.CreateCollectionRequest
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}

	col, err := h.collections.Create(c.UserContext(), id, body.Name)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(types.Collection{
		ID:        col.ID,
		Name:      col.Name,
		Requests:  []string{},
		CreatedAt: formatTime(col.CreatedAt),
	})
}

func (h *Handler) AddCollectionItem(c *fiber.Ctx) error {
	id := identityFrom(c)
	if id == nil {
		return apperr.AuthRequired()
	}

	var body types.AddCollectionItemRequest
	if err := bindAndValidate(c, &body); err != nil {
		return err
	}

	item, err := h.collections.AddItem(c.UserContext(), id, body.CollectionID, body.RequestID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(types.CollectionItem{ID: item.ID})
}

func (h *Handler) ListCollections(c *fiber.Ctx) error {
	id := identityFrom(c)
	if id == nil && h.opts.RequireAuthForReads {
		return apperr.AuthRequired()
	}

	summaries, err := h.collections.List(c.UserContext(), id)
	if err != nil {
		return h.degradedRead(c, "collections", err)
	}

	out := make([]types.Collection, len(summaries))
	for i, s := range summaries {
		out[i] = summaryToCollection(s)
	}
	return c.JSON(out)
}

// degradedRead answers a failed history or collections read with an empty
// list. Reads are best-effort; the failure is only logged.
func (h *Handler) degradedRead(c *fiber.Ctx, what string, err error) error {
	h.logger.Warn().Err(err).Str("read", what).Msg("store read failed, returning empty list")
	return c.JSON([]struct{}{})
}
