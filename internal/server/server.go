package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizroom/quizroom/internal/api"
	"github.com/quizroom/quizroom/internal/auth"
	"github.com/quizroom/quizroom/internal/chat"
	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/event"
	"github.com/quizroom/quizroom/internal/game"
	"github.com/quizroom/quizroom/internal/leaderboard"
	"github.com/quizroom/quizroom/internal/questionbank"
	"github.com/quizroom/quizroom/internal/room"
	"github.com/quizroom/quizroom/internal/score"
	"github.com/quizroom/quizroom/internal/store"
	"github.com/quizroom/quizroom/internal/telemetry"
	"github.com/quizroom/quizroom/internal/trivia"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		QuestionBank struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Trivia struct {
		URL               string
		MaxRetries        int
		RetryDelaySeconds int
	}

	Game struct {
		QuestionCount int
		QuestionTime  int
	}

	Auth struct {
		Secret     string
		AdminUsers []string
	}
}

type Server struct {
	c Config

	eb  *event.Bus
	hub *api.Hub

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		store    *store.Store
	}

	service struct {
		rooms       *room.Service
		chat        *chat.Service
		games       *game.Service
		scores      *score.Service
		leaderboard *leaderboard.Service
		questions   *questionbank.Service
	}

	http      *http.Server
	cancelHub context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	s.infra.store = store.New(store.Config{
		Redis:  s.infra.redis,
		Prefix: s.c.Redis.Prefix,
	})

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := s.c.Postgres.QuestionBank
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.rooms = room.NewService(room.Config{
		Store: s.infra.store,
	})

	s.service.chat = chat.NewService(chat.Config{
		Store: s.infra.store,
	})

	s.service.scores = score.NewService(score.Config{
		Store: s.infra.store,
	})

	s.service.games = game.NewService(game.Config{
		EventBus: s.eb,
		Supplier: trivia.NewSupplier(trivia.Config{
			URL:        s.c.Trivia.URL,
			MaxRetries: s.c.Trivia.MaxRetries,
			RetryDelay: time.Duration(s.c.Trivia.RetryDelaySeconds) * time.Second,
		}),
		Scores:        s.service.scores,
		QuestionCount: s.c.Game.QuestionCount,
		QuestionTime:  s.c.Game.QuestionTime,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis,
		Prefix:   s.c.Redis.Prefix,
	})

	s.service.questions = questionbank.NewService(questionbank.Config{
		DB: s.infra.postgres,
	})

	// a finished playthrough flips its room back to the lobby state
	s.eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		return s.service.rooms.HandleGameEnded(ctx, e.(domain.EventGameEnded))
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.hub = api.NewHub()

	api.New(api.Config{
		Engine:      e,
		EventBus:    s.eb,
		Auth:        auth.NewVerifier(auth.Config{Secret: []byte(s.c.Auth.Secret)}),
		Hub:         s.hub,
		Rooms:       s.service.rooms,
		Chat:        s.service.chat,
		Games:       s.service.games,
		Scores:      s.service.scores,
		Leaderboard: s.service.leaderboard,
		Questions:   s.service.questions,
		AdminUsers:  s.c.Auth.AdminUsers,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelHub = cancel

	var eg errgroup.Group
	eg.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.service.games.Shutdown()

	if s.cancelHub != nil {
		s.cancelHub()
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
