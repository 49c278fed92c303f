package experience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Aeonia-ai/gaia-sub004/pkg/auth"
	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/natsclient"
	"github.com/Aeonia-ai/gaia-sub004/pkg/stream"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/logging"
	"github.com/Aeonia-ai/gaia-sub004/pkg/worldstate"
)

// TokenValidator authenticates the token query parameter.
type TokenValidator interface {
	Validate(token string) (*auth.Identity, error)
}

// Publisher sends world updates to the bus.
type Publisher interface {
	IsConnected() bool
	PublishJSON(subject string, v any) error
}

// errSendFailed ends the read loop when the socket can no longer be written.
var errSendFailed = errors.New("websocket send failed")

// Handler serves GET /ws/experience.
type Handler struct {
	manager   *Manager
	validator TokenValidator
	store     worldstate.Store
	publisher Publisher
	responder Responder
	cfg       config.ExperienceConfig
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// HandlerOptions wires a Handler.
type HandlerOptions struct {
	Manager   *Manager
	Validator TokenValidator
	Store     worldstate.Store
	Publisher Publisher
	Responder Responder
	Config    config.ExperienceConfig
	Logger    *slog.Logger
}

// NewHandler creates the WebSocket handler.
func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	responder := opts.Responder
	if responder == nil {
		responder = ScriptedResponder{}
	}

	h := &Handler{
		manager:   opts.Manager,
		validator: opts.Validator,
		store:     opts.Store,
		publisher: opts.Publisher,
		responder: responder,
		cfg:       opts.Config,
		logger:    logger.With("component", "experience.handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows non-browser clients and the configured origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// session is the per-connection state of the read loop.
type session struct {
	id         uuid.UUID
	userID     string
	experience string
	log        *slog.Logger
}

// ServeHTTP upgrades the connection, authenticates it and runs the read
// loop until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	socket := newWSSocket(conn, h.cfg.WriteWait)

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	identity, err := h.validator.Validate(token)
	if err != nil {
		h.logger.Info("websocket authentication failed", "error", err, "remote_addr", r.RemoteAddr)
		_ = socket.Close(websocket.ClosePolicyViolation, "Authentication failed")
		return
	}

	experience := r.URL.Query().Get("experience")
	if experience == "" {
		experience = h.cfg.DefaultExperience
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id, err := h.manager.Connect(ctx, socket, identity.UserID, experience)
	if err != nil {
		h.logger.Error("failed to register connection", "error", err)
		_ = socket.Close(websocket.CloseInternalServerErr, err.Error())
		return
	}
	defer h.manager.Disconnect(id)

	sess := &session{
		id:         id,
		userID:     identity.UserID,
		experience: experience,
	}
	ctx = logging.WithConnection(logging.WithUser(ctx, identity.UserID), id.String())
	sess.log = logging.FromContext(ctx, h.logger)

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	if h.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}
	if h.cfg.PingInterval > 0 {
		go h.keepalive(ctx, socket, sess)
	}

	h.manager.Send(id, ConnectedFrame{
		Type:         "connected",
		ConnectionID: id.String(),
		UserID:       identity.UserID,
		Experience:   experience,
		Timestamp:    timestamp(),
		Message:      fmt.Sprintf("Connected to %s", experience),
	})

	if err := h.readLoop(ctx, conn, sess); err != nil {
		sess.log.Error("websocket loop failed", "error", err)
		_ = socket.Close(websocket.CloseInternalServerErr, err.Error())
		return
	}
	_ = socket.Close(websocket.CloseNormalClosure, "")
}

func (h *Handler) keepalive(ctx context.Context, socket *wsSocket, sess *session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := socket.Ping(); err != nil {
				sess.log.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop returns nil when the client goes away and an error for anything
// unexpected, including a recovered panic.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			sess.log.Error("panic in websocket loop", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()

	for {
		msgType, data, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				sess.log.Info("websocket closed unexpectedly", "error", readErr)
			}
			return nil
		}
		h.manager.RecordReceived(sess.id)

		if msgType != websocket.TextMessage {
			if err := h.send(sess, newError(CodeUnsupportedFrame, "Only text frames carrying JSON are accepted")); err != nil {
				return nil
			}
			continue
		}

		if err := h.dispatch(ctx, sess, data); err != nil {
			if errors.Is(err, errSendFailed) {
				return nil
			}
			return err
		}
	}
}

func (h *Handler) send(sess *session, frame any) error {
	if !h.manager.Send(sess.id, frame) {
		return errSendFailed
	}
	return nil
}

// dispatch handles one client frame. Protocol mistakes become error frames;
// a returned error ends the connection.
func (h *Handler) dispatch(ctx context.Context, sess *session, data []byte) error {
	msg, perr := DecodeMessage(data)
	if perr != nil {
		return h.send(sess, perr.frame())
	}

	switch m := msg.(type) {
	case *PingMessage:
		return h.send(sess, PongFrame{Type: "pong", Timestamp: timestamp(), ClientTimestamp: m.Timestamp})
	case *ActionMessage:
		return h.handleAction(ctx, sess, m)
	case *ChatMessage:
		return h.handleChat(ctx, sess, m)
	default:
		return h.send(sess, newError(CodeUnknownType, "Unknown message type"))
	}
}

func (h *Handler) handleAction(ctx context.Context, sess *session, m *ActionMessage) error {
	switch m.Action {
	case "":
		return h.send(sess, newError(CodeMissingAction, "Action message is missing the action field"))
	case ActionCollectBottle:
		return h.collectBottle(ctx, sess, m)
	case ActionDropItem:
		return h.dropItem(ctx, sess, m)
	case ActionInteractObject:
		return h.interactObject(ctx, sess, m)
	default:
		return h.send(sess, newError(CodeUnknownAction, fmt.Sprintf("Unknown action: %s", m.Action)))
	}
}

func (h *Handler) collectBottle(ctx context.Context, sess *session, m *ActionMessage) error {
	if m.ItemID == "" {
		return h.send(sess, newError(CodeMissingItem, "collect_bottle requires item_id"))
	}

	var collected, completed bool
	view, err := worldstate.Modify(ctx, h.store, sess.experience, sess.userID, func(v *worldstate.PlayerView) error {
		collected, completed = false, false
		if slices.Contains(v.CollectedBottles, m.ItemID) {
			return nil
		}
		collected = true
		v.CollectedBottles = append(v.CollectedBottles, m.ItemID)
		if !v.HasItem(m.ItemID) {
			v.Inventory = append(v.Inventory, m.ItemID)
		}
		if len(v.CollectedBottles) >= h.cfg.BottlesTotal {
			completed = v.QuestStatus != worldstate.QuestComplete
			v.QuestStatus = worldstate.QuestComplete
		} else {
			v.QuestStatus = worldstate.QuestInProgress
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collect_bottle: %w", err)
	}

	resp := ActionResponseFrame{
		Type:      "action_response",
		Action:    ActionCollectBottle,
		Success:   collected,
		ItemID:    m.ItemID,
		Timestamp: timestamp(),
	}
	if !collected {
		resp.Message = "Bottle already collected"
	}
	if err := h.send(sess, resp); err != nil {
		return err
	}
	if !collected {
		return nil
	}

	if err := h.send(sess, QuestUpdateFrame{
		Type:             "quest_update",
		QuestID:          h.cfg.QuestID,
		Status:           view.QuestStatus,
		BottlesCollected: len(view.CollectedBottles),
		BottlesTotal:     h.cfg.BottlesTotal,
		Timestamp:        timestamp(),
	}); err != nil {
		return err
	}

	if completed {
		if err := h.send(sess, QuestCompleteFrame{
			Type:         "quest_complete",
			QuestID:      h.cfg.QuestID,
			BottlesTotal: h.cfg.BottlesTotal,
			Message:      "All dream bottles have been returned!",
			Timestamp:    timestamp(),
		}); err != nil {
			return err
		}
	}

	h.publish(sess, ActionCollectBottle, map[string]any{
		"removed":           []string{m.ItemID},
		"bottles_collected": len(view.CollectedBottles),
		"quest_status":      view.QuestStatus,
	})
	return nil
}

func (h *Handler) dropItem(ctx context.Context, sess *session, m *ActionMessage) error {
	if m.ItemID == "" {
		return h.send(sess, newError(CodeMissingItem, "drop_item requires item_id"))
	}

	var dropped bool
	_, err := worldstate.Modify(ctx, h.store, sess.experience, sess.userID, func(v *worldstate.PlayerView) error {
		idx := slices.Index(v.Inventory, m.ItemID)
		dropped = idx >= 0
		if dropped {
			v.Inventory = slices.Delete(v.Inventory, idx, idx+1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop_item: %w", err)
	}

	resp := ActionResponseFrame{
		Type:      "action_response",
		Action:    ActionDropItem,
		Success:   dropped,
		ItemID:    m.ItemID,
		Timestamp: timestamp(),
	}
	if !dropped {
		resp.Message = "Item not in inventory"
	}
	if err := h.send(sess, resp); err != nil {
		return err
	}

	if dropped {
		h.publish(sess, ActionDropItem, map[string]any{"added": []string{m.ItemID}})
	}
	return nil
}

func (h *Handler) interactObject(ctx context.Context, sess *session, m *ActionMessage) error {
	if m.ObjectID == "" {
		return h.send(sess, newError(CodeMissingObject, "interact_object requires object_id"))
	}

	_, err := worldstate.Modify(ctx, h.store, sess.experience, sess.userID, func(v *worldstate.PlayerView) error {
		if v.Interactions == nil {
			v.Interactions = map[string]int{}
		}
		v.Interactions[m.ObjectID]++
		return nil
	})
	if err != nil {
		return fmt.Errorf("interact_object: %w", err)
	}

	return h.send(sess, ActionResponseFrame{
		Type:      "action_response",
		Action:    ActionInteractObject,
		Success:   true,
		ObjectID:  m.ObjectID,
		Timestamp: timestamp(),
	})
}

// publish announces a state change on the player's subject. Bus failures
// never fail the action.
func (h *Handler) publish(sess *session, action string, changes map[string]any) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return
	}
	err := h.publisher.PublishJSON(natsclient.WorldUpdateSubject(sess.userID), WorldUpdate{
		Type:       "world_update",
		Experience: sess.experience,
		UserID:     sess.userID,
		Action:     action,
		Changes:    changes,
		Timestamp:  timestamp(),
	})
	if err != nil {
		sess.log.Warn("failed to publish world update", "action", action, "error", err)
	}
}

func (h *Handler) handleChat(ctx context.Context, sess *session, m *ChatMessage) error {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return h.send(sess, newError(CodeMissingText, "Chat message requires text"))
	}

	src, err := h.responder.Respond(ctx, ChatRequest{
		UserID:       sess.userID,
		Experience:   sess.experience,
		ConnectionID: sess.id.String(),
		Text:         text,
	})
	if err != nil {
		sess.log.Warn("chat responder failed", "error", err)
		return h.send(sess, newError(CodeChatFailed, "Chat failed: "+err.Error()))
	}

	events, closeTap := h.manager.OpenTap(sess.id)
	defer closeTap()

	mux := stream.Merge(ctx, src, events, stream.Options{IdleTimeout: h.cfg.StreamIdleTimeout})

	var sendErr error
	err = mux.Drain(ctx, func(ev stream.Event) error {
		var frame any
		switch ev.Kind {
		case stream.KindNATSEvent:
			frame = ev.Payload
		default:
			frame = NPCSpeechFrame{
				Type:      "npc_speech",
				NPCID:     h.cfg.NPCID,
				Text:      chunkText(ev.Payload),
				Voice:     h.cfg.Voice,
				Timestamp: timestamp(),
			}
		}
		sendErr = h.send(sess, frame)
		return sendErr
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		sess.log.Warn("chat stream failed", "error", err)
		return h.send(sess, newError(CodeChatFailed, "Chat failed: "+err.Error()))
	}
	return nil
}
