package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"playdeck/internal/auth"
	"playdeck/internal/core"
	"playdeck/internal/i18n"
	"playdeck/internal/player"
	"playdeck/internal/spotify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	outboundBuffer = 16
)

// Inbound message types.
const (
	msgPlay           = "play"
	msgNavigate       = "navigate"
	msgSelectPlaylist = "select_playlist"
	msgSync           = "sync"
	msgSearch         = "search"
	msgVolume         = "volume"
	msgPause          = "pause"
	msgResume         = "resume"
	msgNext           = "next"
	msgPrevious       = "previous"
	msgSeek           = "seek"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type clientMessage struct {
	Type       string `json:"type"`
	URI        string `json:"uri,omitempty"`
	Route      string `json:"route,omitempty"`
	ID         string `json:"id,omitempty"`
	Query      string `json:"query,omitempty"`
	Percent    int    `json:"percent,omitempty"`
	PositionMs int    `json:"position_ms,omitempty"`
}

type stateMessage struct {
	Type  string       `json:"type"`
	State player.State `json:"state"`
}

type searchMessage struct {
	Type   string       `json:"type"`
	Query  string       `json:"query"`
	Tracks []core.Track `json:"tracks"`
	Error  string       `json:"error,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Error   string `json:"error"`
}

// events upgrades to a websocket that streams player state and accepts player commands.
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	client := a.client(r)
	localizer := a.localizer(r)

	controller, err := a.deps.Players.Acquire(r.Context(), session.ID, client)
	if err != nil {
		a.writeAPIError(w, r, "player_connect", err)
		return
	}
	defer a.deps.Players.Release(session.ID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	states, unsubscribe := controller.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, outboundBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		a.writePump(ctx, conn, states, outbound)
	}()

	s := &playerSession{
		api:        a,
		sessionID:  session.ID,
		controller: controller,
		client:     client,
		localizer:  localizer,
		outbound:   outbound,
	}
	s.readPump(ctx, conn)

	cancel()
	<-done
	a.logger.Debug("Player stream closed")
}

// writePump is the only writer on conn. It closes conn when it returns.
func (a *api) writePump(ctx context.Context, conn *websocket.Conn, states <-chan player.State, outbound <-chan any) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	closeWith := func(code int, reason string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
	}

	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure, "")
			return
		case st, ok := <-states:
			if !ok {
				closeWith(websocket.CloseGoingAway, "player closed")
				return
			}
			if !a.write(conn, stateMessage{Type: "state", State: st}) {
				return
			}
		case msg := <-outbound:
			if !a.write(conn, msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				a.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (a *api) write(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		a.logger.Debug("WebSocket write failed", zap.Error(err))
		return false
	}
	return true
}

// playerSession handles the commands of one websocket connection.
type playerSession struct {
	api        *api
	sessionID  string
	controller *player.Controller
	client     *spotify.Client
	localizer  *i18n.Localizer
	outbound   chan<- any
}

func (s *playerSession) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.api.logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.handle(ctx, msg)
	}
}

func (s *playerSession) handle(ctx context.Context, msg clientMessage) {
	if fg := s.api.deps.Floodgate; fg != nil {
		if ok, _ := fg.Allow(s.sessionID, groupEvents); !ok {
			s.api.deps.Metrics.RecordRateLimited(groupEvents)
			s.fail(ctx, msg.Type, s.localizer.T("error.rate_limited"))
			return
		}
	}

	var err error
	switch msg.Type {
	case msgPlay:
		if msg.URI == "" {
			s.fail(ctx, msg.Type, s.localizer.T("error.missing_uri"))
			return
		}
		err = s.controller.PlayTrack(ctx, msg.URI)
	case msgNavigate:
		route, parseErr := player.ParseRoute(msg.Route)
		if parseErr != nil {
			s.fail(ctx, msg.Type, s.localizer.T("error.invalid_request"))
			return
		}
		s.controller.Dispatch(player.Navigate{Route: route})
	case msgSelectPlaylist:
		s.controller.Dispatch(player.SelectPlaylist{PlaylistID: msg.ID})
	case msgSync:
		s.controller.Sync(ctx)
	case msgSearch:
		s.search(ctx, msg.Query)
	case msgVolume:
		if err = s.client.SetVolume(ctx, msg.Percent); err == nil {
			s.controller.Dispatch(player.VolumeChanged{Percent: msg.Percent})
		}
	case msgPause:
		err = s.afterSync(ctx, s.client.Pause(ctx))
	case msgResume:
		err = s.afterSync(ctx, s.client.Resume(ctx))
	case msgNext:
		err = s.afterSync(ctx, s.client.Next(ctx))
	case msgPrevious:
		err = s.afterSync(ctx, s.client.Previous(ctx))
	case msgSeek:
		if err = s.client.Seek(ctx, msg.PositionMs); err == nil {
			s.controller.Dispatch(player.PositionUpdated{PositionMs: max(msg.PositionMs, 0)})
		}
	default:
		s.fail(ctx, msg.Type, s.localizer.T("error.invalid_request"))
		return
	}

	if err != nil {
		status, message := apiErrorResponse(s.localizer, err)
		s.api.logger.Warn("Player command failed",
			zap.String("type", msg.Type),
			zap.Int("status", status),
			zap.Error(err))
		s.fail(ctx, msg.Type, message)
	}
}

func (s *playerSession) search(ctx context.Context, raw string) {
	tracks, err := s.controller.Search(ctx, raw)
	reply := searchMessage{Type: "search_results", Query: raw, Tracks: tracks}
	if err != nil {
		_, reply.Error = apiErrorResponse(s.localizer, err)
	}
	s.send(ctx, reply)
}

func (s *playerSession) afterSync(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	s.controller.Sync(ctx)
	return nil
}

func (s *playerSession) fail(ctx context.Context, request, message string) {
	s.send(ctx, errorMessage{Type: "error", Request: request, Error: message})
}

func (s *playerSession) send(ctx context.Context, v any) {
	select {
	case s.outbound <- v:
	case <-ctx.Done():
	}
}
