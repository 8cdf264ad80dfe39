package http

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// WSHandler exposes the host and participant flows over websockets. Each
// connection is an independent client of the shared room document: the host
// connection drives the state machine, participant connections only write
// their own answer and heartbeat fields.
type WSHandler struct {
	store    app.RoomStore
	source   app.QuestionSource
	archiver app.ScoreArchiver
	cfg      app.SessionConfig
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(store app.RoomStore, source app.QuestionSource, archiver app.ScoreArchiver, cfg app.SessionConfig, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		store:    store,
		source:   source,
		archiver: archiver,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	ChoiceID string `json:"choiceId"`
}

type answerResult struct {
	Question  int    `json:"question"`
	ChoiceID  string `json:"choiceId"`
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
}

type roomCreated struct {
	RoomCode string `json:"roomCode"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeHost creates a room (or resumes one via ?room=) for a host client,
// streams document snapshots, and accepts the start command. The host
// session keeps driving phase transitions for as long as this connection's
// context lives.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hostID := q.Get("hostId")
	hostName := q.Get("name")
	if hostID == "" || hostName == "" {
		http.Error(w, "missing hostId or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	var session *app.HostSession
	if room := q.Get("room"); room != "" {
		session, err = app.ResumeHostSession(ctx, h.store, h.archiver, h.cfg, h.log, room, hostID)
	} else {
		count, convErr := strconv.Atoi(q.Get("count"))
		if convErr != nil || count <= 0 {
			count = 10
		}
		scope := q.Get("scope")
		if scope == "" {
			scope = hostID
		}
		builder := app.NewQuestionSetBuilder(h.source, rand.New(rand.NewSource(time.Now().UnixNano())))
		session, err = app.CreateRoom(ctx, h.store, builder, rand.New(rand.NewSource(time.Now().UnixNano())), h.archiver, h.cfg, h.log, app.CreateRoomRequest{
			HostID:   hostID,
			HostName: hostName,
			Build: app.BuildRequest{
				Subject:   q.Get("subject"),
				Grade:     q.Get("grade"),
				HostScope: scope,
				Count:     count,
			},
		})
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancelWatch, err := h.store.Subscribe(ctx, session.Code())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancelWatch()

	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.log.WithError(err).WithField("room", session.Code()).Error("host session stopped")
		}
	}()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithError(err).Debug("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case doc, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "room", Payload: doc}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "roomCreated", Payload: roomCreated{RoomCode: session.Code()}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			if err := session.Start(ctx); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// ServeJoin joins a participant into a live room, streams document snapshots
// so the client can reconcile with host-driven transitions, and accepts
// answer submissions.
func (h *WSHandler) ServeJoin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	room := q.Get("room")
	name := q.Get("name")
	if room == "" || name == "" {
		http.Error(w, "missing room or name", http.StatusBadRequest)
		return
	}
	participantID := q.Get("userId")
	if participantID == "" {
		participantID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	session, joined, err := app.JoinRoom(ctx, h.store, h.log, room, participantID, name, q.Get("avatar"))
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancelWatch, err := session.Watch(ctx)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancelWatch()

	go session.RunHeartbeat(ctx, h.heartbeatInterval())

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithError(err).Debug("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case doc, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "room", Payload: doc}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joined}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			question := session.CurrentQuestion()
			err := session.SubmitAnswer(ctx, payload.ChoiceID)
			switch {
			case err == nil:
				send <- outboundMessage[any]{Type: "answerResult", Payload: answerResult{Question: question, ChoiceID: payload.ChoiceID, Accepted: true}}
			case errors.Is(err, domain.ErrAlreadyAnswered):
				// Expected UI-versus-network race; acknowledge, don't fail.
				send <- outboundMessage[any]{Type: "answerResult", Payload: answerResult{Question: question, ChoiceID: payload.ChoiceID, Duplicate: true}}
			default:
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) heartbeatInterval() time.Duration {
	grace := h.cfg.HeartbeatGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	return grace / 3
}
