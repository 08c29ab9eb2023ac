package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatClient/pkg/api"
	"chatClient/pkg/chat"
	myMiddleware "chatClient/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Largest attachment accepted from the view.
const maxUploadSize = 25 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to the status the view sees.
func statusFor(err error) int {
	var se *api.StatusError
	switch {
	case errors.Is(err, api.ErrEmptyMessage),
		errors.Is(err, api.ErrUnsupportedAttachment),
		errors.Is(err, api.ErrGroupTooSmall),
		errors.Is(err, chat.ErrInvalidPatch),
		errors.Is(err, chat.ErrEmptyGroupName),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrNotAdmin), errors.Is(err, api.ErrCreatorImmutable):
		return http.StatusForbidden
	case errors.Is(err, api.ErrUnknownMessage), errors.Is(err, api.ErrUnknownGroup):
		return http.StatusNotFound
	case errors.Is(err, api.ErrSendInFlight),
		errors.Is(err, api.ErrUploadInFlight),
		errors.Is(err, api.ErrNoActiveThread),
		errors.Is(err, api.ErrStaleThread),
		errors.Is(err, api.ErrNotFailed):
		return http.StatusConflict
	case errors.Is(err, chat.ErrSessionStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &se):
		if se.StatusCode >= 400 && se.StatusCode < 500 {
			return se.StatusCode
		}
		return http.StatusBadGateway
	case errors.Is(err, api.ErrTransport), errors.Is(err, api.ErrMalformedPayload):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.log.Info("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	_ = writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.log.Warn("unable to encode response", zap.Error(err))
	}
}

func decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return badRequest("decoding body: %v", err)
	}
	return nil
}

func threadParam(r *http.Request) (api.ThreadRef, error) {
	kind, err := api.ParseThreadKind(chi.URLParam(r, "kind"))
	if err != nil {
		return api.ThreadRef{}, badRequest("%v", err)
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		return api.ThreadRef{}, badRequest("missing thread id")
	}
	return api.ThreadRef{Kind: kind, Id: api.ID(id)}, nil
}

func groupParam(r *http.Request) api.ID {
	return api.ID(chi.URLParam(r, "groupId"))
}

func (s *Server) GetThreads() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, s.session.ListView())
	}
}

func (s *Server) OpenConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserId api.ID `json:"userId"`
		}
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		if body.UserId == "" {
			s.fail(w, r, badRequest("userId is required"))
			return
		}

		conversation, err := s.session.Conversations.OpenConversation(r.Context(), body.UserId)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, conversation)
	}
}

func (s *Server) CreateGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var newGroup api.NewGroup
		if err := decode(r, &newGroup); err != nil {
			s.fail(w, r, err)
			return
		}
		if strings.TrimSpace(newGroup.Name) == "" {
			s.fail(w, r, badRequest("name is required"))
			return
		}

		group, err := s.session.Conversations.CreateGroup(r.Context(), newGroup)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusCreated, group)
	}
}

func (s *Server) GetActive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, s.session.ThreadView())
	}
}

func (s *Server) OpenThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var thread api.ThreadRef
		if err := decode(r, &thread); err != nil {
			s.fail(w, r, err)
			return
		}
		kind, err := api.ParseThreadKind(string(thread.Kind))
		if err != nil || thread.IsZero() {
			s.fail(w, r, badRequest("kind and id are required"))
			return
		}
		thread.Kind = kind

		if err := s.session.Open(r.Context(), thread); err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, s.session.ThreadView())
	}
}

func (s *Server) CloseThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.session.Close()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) LoadEarlier() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		added, err := s.session.LoadEarlier(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]any{
			"added":   added,
			"hasMore": s.session.Timeline.HasMore(),
		})
	}
}

type textBody struct {
	Text string `json:"text"`
}

func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body textBody
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		msg, err := s.session.Send(r.Context(), body.Text)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusCreated, msg)
	}
}

func (s *Server) RetryMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := s.session.Retry(r.Context(), api.ID(chi.URLParam(r, "messageId")))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, msg)
	}
}

func (s *Server) Typing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body textBody
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.session.Keystroke(r.Context(), body.Text); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) UploadAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			s.fail(w, r, badRequest("parsing upload: %v", err))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			s.fail(w, r, badRequest("file is required"))
			return
		}
		defer file.Close()

		kind := api.MessageType(r.FormValue("kind"))
		msg, err := s.session.Attach(r.Context(), kind, header.Filename, file)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusCreated, msg)
	}
}

func (s *Server) Browse() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, struct {
			Media []api.Message `json:"media"`
			Files []api.Message `json:"files"`
			Links []chat.Link   `json:"links"`
		}{s.session.Media(), s.session.Files(), s.session.Links()})
	}
}

func (s *Server) Search() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := s.session.Search(r.URL.Query().Get("q"))
		if results == nil {
			results = []api.Message{}
		}
		s.respond(w, http.StatusOK, results)
	}
}

func (s *Server) SetPinned(pinned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thread, err := threadParam(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if pinned {
			err = s.session.Conversations.Pin(r.Context(), thread)
		} else {
			err = s.session.Conversations.Unpin(r.Context(), thread)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) SetMuted(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thread, err := threadParam(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if muted {
			err = s.session.Conversations.Mute(r.Context(), thread)
		} else {
			err = s.session.Conversations.Unmute(r.Context(), thread)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) groupView(w http.ResponseWriter, r *http.Request, group api.GroupChat, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, chat.NewGroupSettingsView(group, s.session.UserId()))
}

func (s *Server) GetGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.session.Groups.Settings(r.Context(), groupParam(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, view)
	}
}

func (s *Server) PatchGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patchJSON, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize*4))
		if err != nil {
			s.fail(w, r, badRequest("reading patch: %v", err))
			return
		}
		group, err := s.session.Groups.Patch(r.Context(), groupParam(r), patchJSON)
		s.groupView(w, r, group, err)
	}
}

func (s *Server) AddMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserId api.ID `json:"userId"`
		}
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		group, err := s.session.Groups.AddMember(r.Context(), groupParam(r), body.UserId)
		s.groupView(w, r, group, err)
	}
}

func (s *Server) RemoveMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId := api.ID(chi.URLParam(r, "userId"))
		group, err := s.session.Groups.RemoveMember(r.Context(), groupParam(r), userId)
		s.groupView(w, r, group, err)
	}
}

func (s *Server) SetAdmin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IsAdmin bool `json:"isAdmin"`
		}
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		userId := api.ID(chi.URLParam(r, "userId"))
		group, err := s.session.Groups.SetAdmin(r.Context(), groupParam(r), userId, body.IsAdmin)
		s.groupView(w, r, group, err)
	}
}

func (s *Server) DecideJoinRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupId := groupParam(r)
		requestId := api.ID(chi.URLParam(r, "requestId"))

		var (
			group api.GroupChat
			err   error
		)
		switch chi.URLParam(r, "decision") {
		case "approve":
			group, err = s.session.Groups.ApproveJoinRequest(r.Context(), groupId, requestId)
		case "reject":
			group, err = s.session.Groups.RejectJoinRequest(r.Context(), groupId, requestId)
		default:
			err = badRequest("decision must be approve or reject")
		}
		s.groupView(w, r, group, err)
	}
}

func (s *Server) JoinGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.Groups.Join(r.Context(), groupParam(r)); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) LeaveGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupId := groupParam(r)
		if err := s.session.Groups.Leave(r.Context(), groupId); err != nil {
			s.fail(w, r, err)
			return
		}
		if s.session.Active() == api.GroupThread(groupId) {
			s.session.Close()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  8092,
		WriteBufferSize: 8092,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.conf.AllowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

func (s *Server) ServeWs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		upgrader := s.upgrader()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Info("websocket upgrade failed", zap.Error(err))
			return
		}

		uid := myMiddleware.UID(r.Context())
		if uid == "" {
			uid = s.session.UserId().String()
		}
		client := NewClient(s.hub, conn, uid, s.session, s.log)
		if !s.hub.Register(client) {
			_ = conn.Close()
			return
		}

		// Allow collection of memory referenced by the caller by doing all work in
		// new goroutines.
		go client.WritePump()
		go client.ReadPump()
	}
}
