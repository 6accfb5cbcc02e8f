package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	charapp "charsearch/internal/app/character"
	"charsearch/internal/app/fallback"
	"charsearch/internal/app/search"
	"charsearch/internal/domain/character"
	"charsearch/internal/platform/mq"
	"charsearch/internal/platform/observability"
)

type CharacterSource interface {
	ListCharacters(ctx context.Context, nameFilter string) ([]character.Character, error)
	GetCharacterByID(ctx context.Context, id int) (character.Character, error)
}

type Settings struct {
	CorsOrigin      string
	SearchDebounce  time.Duration
	WSRate          float64
	WSBurst         int
	WSMaxMessageLen int64
}

type Handler struct {
	logger     zerolog.Logger
	characters CharacterSource
	selector   search.FallbackSelector
	metrics    *observability.Metrics
	pub        mq.Publisher
	settings   Settings

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHandler(logger zerolog.Logger, characters CharacterSource, selector search.FallbackSelector, metrics *observability.Metrics, pub mq.Publisher, settings Settings) *Handler {
	if settings.WSRate <= 0 {
		settings.WSRate = 10
	}
	if settings.WSBurst <= 0 {
		settings.WSBurst = 20
	}
	if settings.WSMaxMessageLen <= 0 {
		settings.WSMaxMessageLen = 4096
	}
	return &Handler{
		logger:     logger,
		characters: characters,
		selector:   selector,
		metrics:    metrics,
		pub:        pub,
		settings:   settings,
		conns:      make(map[*websocket.Conn]struct{}),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)
	r.Use(h.cors)

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	// Websocket sessions outlive any request timeout.
	r.Get("/v1/view/ws", h.viewWS)

	r.Group(func(timed chi.Router) {
		timed.Use(middleware.Timeout(20 * time.Second))
		timed.Get("/", h.page)
		timed.Route("/v1", func(v1 chi.Router) {
			v1.Get("/characters", h.listCharacters)
			v1.Get("/characters/{characterID}", h.getCharacter)
			v1.Get("/fallback", h.pickFallback)
			v1.Get("/view", h.renderView)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) ready(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *Handler) listCharacters(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	chars, err := h.characters.ListCharacters(r.Context(), name)
	if err != nil {
		h.logger.Error().Err(err).Str("name", name).Msg("list characters failed")
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": chars})
}

func (h *Handler) getCharacter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "characterID"))
	if err != nil || id < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid character id"})
		return
	}
	c, err := h.characters.GetCharacterByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, charapp.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "character not found"})
			return
		}
		h.logger.Error().Err(err).Int("id", id).Msg("get character failed")
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) pickFallback(w http.ResponseWriter, r *http.Request) {
	out := h.selector.Select(r.Context(), nil)
	status := http.StatusOK
	if out.Status == fallback.StatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}

func (h *Handler) renderView(w http.ResponseWriter, r *http.Request) {
	snap := search.Resolve(r.Context(), h.characters, h.selector, r.URL.Query().Get("name"))
	if snap.Err != nil {
		h.logger.Warn().Err(snap.Err).Str("term", snap.Term).Msg("view search failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"term":   snap.Term,
		"status": snap.Status,
		"view":   search.Render(snap),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type renderMessage struct {
	Type string `json:"type"`
	search.Frame
}

// viewWS runs one search session for the lifetime of the connection.
func (h *Handler) viewWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
	}()

	session := search.NewView(h.logger, h.characters, h.selector, search.Options{
		Debounce: h.settings.SearchDebounce,
		Metrics:  h.metrics,
		Pub:      h.pub,
	})
	sub := session.Subscribe()
	session.Start()
	h.logger.Debug().Str("session_id", session.ID()).Msg("view session opened")

	errs := make(chan []byte, 8)
	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writePump(conn, sub, errs)
	}()

	h.readPump(r.Context(), conn, session, errs)
	session.Stop()
	<-written
	_ = conn.Close()
	h.logger.Debug().Str("session_id", session.ID()).Msg("view session closed")
}

// Close drops every open websocket; each session then stops on its own.
// http.Server.Shutdown does not track hijacked connections.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.Close()
	}
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, session *search.View, errs chan<- []byte) {
	limiter := rate.NewLimiter(rate.Limit(h.settings.WSRate), h.settings.WSBurst)
	conn.SetReadLimit(h.settings.WSMaxMessageLen)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg struct {
			Type string `json:"type"`
			Term string `json:"term"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		switch msg.Type {
		case "search":
			// Pace rather than drop so the last term sent always wins.
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			session.SetTerm(msg.Term)
		default:
			sendError(errs, "unknown message type")
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *search.Subscriber, errs <-chan []byte) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case f, ok := <-sub.Frames:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			b, err := json.Marshal(renderMessage{Type: "render", Frame: f})
			if err != nil {
				h.logger.Error().Err(err).Msg("marshal render frame failed")
				continue
			}
			if !writeFrame(conn, websocket.TextMessage, b) {
				return
			}
		case b := <-errs:
			if !writeFrame(conn, websocket.TextMessage, b) {
				return
			}
		case <-ticker.C:
			if !writeFrame(conn, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// writeFrame closes the connection on failure so the read side unblocks.
func writeFrame(conn *websocket.Conn, messageType int, data []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(messageType, data); err != nil {
		_ = conn.Close()
		return false
	}
	return true
}

func sendError(errs chan<- []byte, msg string) {
	b, err := json.Marshal(map[string]any{"type": "error", "message": msg})
	if err != nil {
		return
	}
	select {
	case errs <- b:
	default:
	}
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	origin := h.settings.CorsOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, charapp.ErrUpstream) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "character source unavailable"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
