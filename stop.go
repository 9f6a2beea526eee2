// Adedanha (Stop!)
//
// Players share a room and race to fill one answer per category, every answer
// starting with the round's letter. Whoever finishes first presses STOP and
// everyone else has to hand in their sheet as-is. The round then goes to a
// validation table where players vote to nullify answers they consider
// invalid, and finally to the results screen: unique answers score 10,
// duplicated answers 5, blank/wrong-letter/nullified answers 0.
//
// Features:
// - WebSockets per room ID: /stop/:gameid and /stop/:gameid/ws
// - First player to join a room becomes the host
// - Host advances the game: lobby -> categories -> round -> validation -> results
// - A sole connected player can always advance their own game
// - Players identified by cookie (playerID); reconnects keep name and score
// - Round letters drawn without repeats from a Portuguese-friendly alphabet
// - Majority vote (strictly more than half of the other connected players)
//   nullifies an answer
// - Duplicate names rejected with a collision message to the offending client
// - Rooms auto-reaped after configurable idle timeout
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type       string            `json:"type"`                  // "join", "start_game", "add_category", "start_round", "stop", "vote", "finish_validation", "next_round", "end_game", "leave"
	Name       string            `json:"name,omitempty"`        // join / add_category
	Categories []string          `json:"categories,omitempty"`  // start_round
	Answers    map[string]string `json:"answers,omitempty"`     // stop
	TargetID   string            `json:"target_id,omitempty"`   // vote
	CategoryID string            `json:"category_id,omitempty"` // vote
}

// SessionInfoMessage is sent immediately on connect so the client knows what
// role this cookie has and whether it still needs to prompt for a name.
type SessionInfoMessage struct {
	Type       string `json:"type"` // "session_info"
	PlayerID   string `json:"player_id"`
	IsExisting bool   `json:"is_existing"`
	IsHost     bool   `json:"is_host"`
	Name       string `json:"name,omitempty"`
}

// PlayerView is the per-player slice of the broadcast game state.
type PlayerView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TotalScore int    `json:"total_score"`
	Online     bool   `json:"online"`
	Answered   bool   `json:"answered"`
}

// GameStateMessage is the full room snapshot, broadcast after every change.
// Answer sheets are withheld until validation so nobody can crib mid-round.
type GameStateMessage struct {
	Type        string       `json:"type"` // "game_state"
	State       GameState    `json:"state"`
	HostID      string       `json:"host_id"`
	Players     []PlayerView `json:"players"`
	Catalog     []Category   `json:"catalog"`
	Categories  []string     `json:"categories,omitempty"`
	Letter      string       `json:"letter,omitempty"`
	UsedLetters []string     `json:"used_letters,omitempty"`
	RoundWinner string       `json:"round_winner,omitempty"`
	Answers     Answers      `json:"answers,omitempty"`
	Votes       Votes        `json:"votes,omitempty"`
	Scores      RoundScores  `json:"scores,omitempty"`
}

// Sent to a single client when their chosen name is already in use.
type CollisionMessage struct {
	Type    string `json:"type"`    // "collision"
	Field   string `json:"field"`   // "name"
	Message string `json:"message"` // user-facing text
}

// SimpleMessage is for generic notifications ("denied", "error", "game_over", ...)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StopMessage tells everyone the round has been called; clients respond by
// submitting whatever is currently on their sheet.
type StopMessage struct {
	Type     string `json:"type"` // "stop_called"
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type request struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	session *Session
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	requests chan request

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time

	gm *GameManager
}

func newHub(gameID string, maxPlayers int, gm *GameManager) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		session:    newSession(gameID, maxPlayers),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		requests:   make(chan request),
		createdAt:  now,
		lastActive: now,
		gm:         gm,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			h.clients[c] = true

			p := h.session.player(c.playerID)
			if p != nil {
				h.session.setOnline(c.playerID, true)
			}

			info := SessionInfoMessage{
				Type:       "session_info",
				PlayerID:   c.playerID,
				IsExisting: p != nil,
				IsHost:     p != nil && c.playerID == h.session.hostID,
			}
			if p != nil {
				info.Name = p.Name
			}

			select {
			case c.send <- info:
			default:
			}

			h.broadcastStateLocked()
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

			stillConnected := false
			for other := range h.clients {
				if other.playerID == c.playerID {
					stillConnected = true
					break
				}
			}

			if !stillConnected && h.session.player(c.playerID) != nil {
				h.session.setOnline(c.playerID, false)
				h.session.maybeAdvance()
				h.broadcastStateLocked()
			}
			h.mu.Unlock()

			if !stillConnected && c.playerID != "" {
				go h.scheduleRemoval(cfg, c.playerID, cfg.playerTimeout)
			}

		case req := <-h.requests:
			h.handleRequest(cfg, req)
		}
	}
}

func (h *Hub) handleRequest(cfg *Config, req request) {
	c := req.client
	msg := req.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	switch msg.Type {
	case "join":
		p, err := h.session.Join(c.playerID, msg.Name)
		if err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		logf(cfg, "GAMES: Player %q joined %s", p.Name, h.id)
		h.broadcastStateLocked()

	case "start_game":
		if err := h.session.StartGame(c.playerID); err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		logf(cfg, "GAMES: Game %s started by host", h.id)
		h.broadcastStateLocked()

	case "add_category":
		category, err := h.session.AddCategory(c.playerID, msg.Name)
		if err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		logf(cfg, "GAMES: Category %q added to %s", category.ID, h.id)
		h.broadcastStateLocked()

	case "start_round":
		if err := h.session.StartRound(c.playerID, msg.Categories); err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		logf(cfg, "GAMES: Round started in %s with letter %q", h.id, h.session.letter)
		h.broadcastStateLocked()

	case "stop":
		first, err := h.session.SubmitAnswers(c.playerID, msg.Answers)
		if errors.Is(err, ErrAlreadySubmitted) {
			// Duplicate stop calls race in from every client; the first
			// sheet per player wins and the rest are dropped.
			return
		}
		if err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		if first {
			p := h.session.player(c.playerID)
			h.broadcastLocked(StopMessage{
				Type:     "stop_called",
				PlayerID: c.playerID,
				Name:     p.Name,
			})
			logf(cfg, "GAMES: %q pressed STOP in %s", p.Name, h.id)
		}
		h.session.maybeAdvance()
		h.broadcastStateLocked()

	case "vote":
		_, err := h.session.ToggleVote(c.playerID, msg.TargetID, msg.CategoryID)
		if err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		h.broadcastStateLocked()

	case "finish_validation":
		if _, err := h.session.FinishValidation(c.playerID); err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		logf(cfg, "GAMES: Round scored in %s", h.id)
		h.broadcastStateLocked()

	case "next_round":
		if err := h.session.NextRound(c.playerID); err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		h.broadcastStateLocked()

	case "end_game":
		if err := h.session.EndGame(c.playerID); err != nil {
			h.sendRuleErrorLocked(c, err)
			return
		}
		logf(cfg, "GAMES: Game %s ended by host", h.id)
		h.broadcastLocked(SimpleMessage{
			Type:    "game_over",
			Message: "The host has ended the game. Thanks for playing!",
		})
		// The reaper takes gm.mu before h.mu, so drop the hub from the
		// manager outside this critical section.
		go h.gm.remove(h.id)
		h.closeAllLocked()

	case "leave":
		empty := h.session.Leave(c.playerID)
		logf(cfg, "GAMES: Player left %s", h.id)

		for client := range h.clients {
			if client.playerID == c.playerID {
				select {
				case client.send <- SimpleMessage{
					Type:    "left",
					Message: "You have left the game.",
				}:
				default:
				}
				delete(h.clients, client)
				close(client.send)
			}
		}

		if empty {
			go h.gm.remove(h.id)
			h.closeAllLocked()
			return
		}

		h.session.maybeAdvance()
		h.broadcastStateLocked()
	}
}

// sendRuleErrorLocked reports a rejected action back to its sender only.
// Authorization failures get a distinct "denied" type so clients can tell
// "you may not" apart from "you cannot".
func (h *Hub) sendRuleErrorLocked(c *Client, err error) {
	var msg any

	switch {
	case errors.Is(err, ErrNameTaken):
		msg = CollisionMessage{
			Type:    "collision",
			Field:   "name",
			Message: "That name is already taken. Please choose a different name.",
		}
	case errors.Is(err, ErrEmptyName):
		msg = CollisionMessage{
			Type:    "collision",
			Field:   "name",
			Message: "Please enter a name before joining.",
		}
	case errors.Is(err, ErrNotAuthorized):
		msg = SimpleMessage{
			Type:    "denied",
			Message: err.Error(),
		}
	default:
		msg = SimpleMessage{
			Type:    "error",
			Message: err.Error(),
		}
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcastLocked sends one message to every connected client, dropping
// clients whose send queue is full.
func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// broadcastStateLocked pushes the current room snapshot to everyone.
func (h *Hub) broadcastStateLocked() {
	s := h.session

	players := make([]PlayerView, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		p := s.players[id]
		_, answered := s.answers[id]
		players = append(players, PlayerView{
			ID:         p.ID,
			Name:       p.Name,
			TotalScore: p.TotalScore,
			Online:     p.Online,
			Answered:   answered,
		})
	}

	msg := GameStateMessage{
		Type:        "game_state",
		State:       s.state,
		HostID:      s.hostID,
		Players:     players,
		Catalog:     s.catalog,
		Categories:  s.categories,
		Letter:      s.letter,
		UsedLetters: s.usedLetters,
		RoundWinner: s.roundWinner,
	}

	// Sheets stay hidden while the round is still being written.
	if s.state == StateValidation || s.state == StateResults {
		msg.Answers = s.answers
		msg.Votes = s.votes
	}
	if s.state == StateResults {
		msg.Scores = s.roundScores
	}

	h.broadcastLocked(msg)
}

// scheduleRemoval waits for d, and if no client with this playerID has
// reconnected, removes that player from the room for good.
func (h *Hub) scheduleRemoval(cfg *Config, playerID string, d time.Duration) {
	time.Sleep(d)

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.playerID == playerID {
			return
		}
	}

	if h.session.player(playerID) == nil {
		return
	}

	empty := h.session.Leave(playerID)
	h.lastActive = time.Now()
	logf(cfg, "GAMES: Player timed out of %s", h.id)

	if empty {
		go h.gm.remove(h.id)
		return
	}

	h.session.maybeAdvance()
	h.broadcastStateLocked()
}

// closeAllLocked disconnects all clients of this hub.
func (h *Hub) closeAllLocked() {
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// closeAll is the reaper-facing variant that takes the lock itself.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeAllLocked()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "adedanha_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated room.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, cfg.maxPlayers, gm)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

func (gm *GameManager) remove(gameID string) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	delete(gm.hubs, gameID)
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "start_game", "add_category", "start_round", "stop",
			"vote", "finish_validation", "next_round", "end_game", "leave":
			h.requests <- request{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed stop/index.html
var indexHTML []byte

//go:embed stop/app.css
var stopCSS []byte

//go:embed stop/app.js
var stopJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(stopCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(stopJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerStopGame sets up routes so that:
//   - $path                  → redirects to new random room (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that room
//   - $path/:gameid/qr       → PNG QR code for that room URL
func registerStopGame(cfg *Config, path string, mux *httprouter.Router) {
	gm := newGameManager(cfg.sessionTimeout)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/stop/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/stop/app.js", getJsHandler(cfg))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
