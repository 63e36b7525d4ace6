package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abdull600/study-circle-voice/broadcast"
	"github.com/Abdull600/study-circle-voice/config"
	"github.com/Abdull600/study-circle-voice/handlers/api/blobs"
	"github.com/Abdull600/study-circle-voice/handlers/api/rooms"
	"github.com/Abdull600/study-circle-voice/handlers/auth"
	"github.com/Abdull600/study-circle-voice/handlers/websocket"
	authMiddleware "github.com/Abdull600/study-circle-voice/middleware"
	"github.com/Abdull600/study-circle-voice/stores"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const (
	listenerRetryDelay = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the study circles server",
	RunE:  runServe,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&listenAddr, "listen", "", "Set the server listen address (overrides LISTEN_ADDR)")
	}
	rootCmd.AddCommand(serveCmd)
}

// server is everything the router needs.
type server struct {
	cfg        *config.Config
	stores     *stores.Stores
	presence   *websocket.Presence
	subscriber *broadcast.Subscriber
	publisher  *broadcast.Publisher
}

func newServer(cfg *config.Config, st *stores.Stores) *server {
	return &server{
		cfg:        cfg,
		stores:     st,
		presence:   websocket.NewPresence(),
		subscriber: broadcast.NewSubscriber(st.Rooms, st.Rooms, nil),
		publisher:  broadcast.NewPublisher(st.Rooms, st.Blobs, nil),
	}
}

func setupRouter(s *server) (*chi.Mux, *socketio.Server) {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	origins := websocket.OriginPatterns(s.cfg.CORSAllowedOrigins)
	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return origin != "" && websocket.OriginAllowed(origins, origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)

		r.Get("/api/me", rooms.HandleMe())
		r.Route("/api/rooms", func(r chi.Router) {
			r.Get("/", rooms.HandleListRooms(s.stores.Rooms, s.presence))
			r.Post("/", rooms.HandleCreateRoom(s.stores.Rooms))
			r.Route("/{roomId}", func(r chi.Router) {
				r.Get("/", rooms.HandleGetRoom(s.stores.Rooms, s.presence))
				r.Post("/document", rooms.HandlePublishDocument(s.publisher, s.cfg.MaxUploadBytes))
				r.Get("/feed", websocket.HandleDocumentFeed(s.subscriber, s.presence, origins))
				r.Get("/events", websocket.HandleRoomEvents(s.stores.Rooms, s.stores.Rooms, s.presence, origins))
			})
		})
	})

	if opener, ok := s.stores.Opener(); ok {
		r.Get("/api/blobs/*", blobs.HandleGetBlob(opener))
		logrus.Info("Blob download route registered")
	} else {
		logrus.Info("Blobs are served by the storage provider")
	}

	ioo := websocket.SetupSocketIO(s.subscriber, s.presence, origins)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	return r, ioo
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	auth.InitAuth(cfg.JWTSecret)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	st, err := stores.GetStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close storage")
		}
	}()

	if st.Listener != nil {
		go st.Listener.Run(ctx, listenerRetryDelay)
	}

	r, ioo := setupRouter(newServer(cfg, st))
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	logrus.WithField("addr", cfg.ListenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logrus.Debug("Server is running in the background")
	return waitForShutdown(srv, ioo, errCh)
}

func waitForShutdown(srv *http.Server, ioo *socketio.Server, errCh <-chan error) error {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalC)

	select {
	case s := <-signalC:
		logrus.WithField("signal", s.String()).Info("Shutting down...")
	case err := <-errCh:
		logrus.WithError(err).Error("Server failed")
		return err
	}

	ioo.Close(nil)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
