package app

import (
	myMiddleware "chatClient/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) Routes() *chi.Mux {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.conf.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/chat", func(r chi.Router) {
		if s.verifier != nil {
			r.Use(myMiddleware.Authenticator(s.verifier))
		}

		r.Get("/threads", s.GetThreads())
		r.Post("/conversations", s.OpenConversation())
		r.Post("/groups", s.CreateGroup())

		r.Route("/active", func(r chi.Router) {
			r.Get("/", s.GetActive())
			r.Put("/", s.OpenThread())
			r.Delete("/", s.CloseThread())
			r.Post("/earlier", s.LoadEarlier())
			r.Post("/messages", s.SendMessage())
			r.Post("/messages/{messageId}/retry", s.RetryMessage())
			r.Post("/typing", s.Typing())
			r.Post("/attachments", s.UploadAttachment())
			r.Get("/media", s.Browse())
			r.Get("/search", s.Search())
		})

		r.Put("/pins/{kind}/{id}", s.SetPinned(true))
		r.Delete("/pins/{kind}/{id}", s.SetPinned(false))
		r.Put("/mutes/{kind}/{id}", s.SetMuted(true))
		r.Delete("/mutes/{kind}/{id}", s.SetMuted(false))

		r.Route("/groups/{groupId}", func(r chi.Router) {
			r.Get("/", s.GetGroup())
			r.Patch("/", s.PatchGroup())
			r.Post("/members", s.AddMember())
			r.Delete("/members/{userId}", s.RemoveMember())
			r.Put("/members/{userId}/admin", s.SetAdmin())
			r.Post("/requests/{requestId}/{decision}", s.DecideJoinRequest())
			r.Post("/join", s.JoinGroup())
			r.Post("/leave", s.LeaveGroup())
		})

		r.Get("/ws", s.ServeWs())
	})

	return r
}
