package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/guhur/plus-proche/internal/event"
	"github.com/guhur/plus-proche/internal/leaderboard"
	"github.com/guhur/plus-proche/internal/question"
	"github.com/guhur/plus-proche/internal/relay"
	"github.com/guhur/plus-proche/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Relay struct {
		// InstanceID identifies this relay among the others sharing the
		// same database and pubsub. Empty generates one per process.
		InstanceID   string
		CompactAfter int64
	}

	Questions struct {
		// Bank replaces the built in questions when not empty.
		Bank []question.Entry
		Seed int64
	}

	Redis struct {
		Leaderboard RedisConn
		Pubsub      RedisConn
	}

	Postgres struct {
		Room PostgresConn
	}
}

// RedisConn locates a redis deployment. Prefix namespaces every key and
// channel the relay writes there.
type RedisConn struct {
	Addrs  []string
	Pass   string
	Prefix string
}

func (c RedisConn) dial(ctx context.Context, name string) (redis.UniversalClient, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Pass,
	})

	if err := telemetry.MonitorRedis(r, name); err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: monitor: %w", name, err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: ping %v: %w", name, c.Addrs, err)
	}

	return r, nil
}

type PostgresConn struct {
	Addr string
	User string
	Pass string
	Name string
}

func (c PostgresConn) dial(ctx context.Context) (*pgxpool.Pool, error) {
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s/%s: %w", c.Addr, c.Name, err)
	}

	return db, nil
}

// DefaultConfig returns the configuration of a relay running next to local
// redis and postgres instances.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Redis.Leaderboard = RedisConn{Addrs: []string{"localhost:6379"}, Prefix: "plusproche:leaderboard"}
	c.Redis.Pubsub = RedisConn{Addrs: []string{"localhost:6379"}, Prefix: "plusproche:pubsub"}
	c.Postgres.Room = PostgresConn{Addr: "localhost:5432", User: "postgres", Pass: "postgres", Name: "plusproche"}
	c.Questions.Seed = time.Now().UnixNano()
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			room *pgxpool.Pool
		}
	}

	service struct {
		leaderboard *leaderboard.Service
		notifier    *relay.Notifier
		hub         *relay.Hub
		questions   *question.Bank
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.c.Relay.InstanceID == "" {
		s.c.Relay.InstanceID = uuid.NewString()
	}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.infra.redis.leaderboard, err = s.c.Redis.Leaderboard.dial(ctx, "leaderboard"); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if s.infra.redis.pubsub, err = s.c.Redis.Pubsub.dial(ctx, "pubsub"); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if s.infra.postgres.room, err = s.c.Postgres.Room.dial(ctx); err != nil {
		return fmt.Errorf("postgres: room: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := relay.NewPostgresStore(s.infra.postgres.room, s.c.Relay.InstanceID)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate room store: %w", err)
	}

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.notifier = relay.NewNotifier(s.eb, s.infra.redis.pubsub, s.c.Redis.Pubsub.Prefix)

	s.service.hub = relay.NewHub(relay.Config{
		EventBus:     s.eb,
		Store:        store,
		Fanout:       relay.NewFanout(s.infra.redis.pubsub, s.c.Redis.Pubsub.Prefix, s.c.Relay.InstanceID),
		InstanceID:   s.c.Relay.InstanceID,
		CompactAfter: s.c.Relay.CompactAfter,
	})

	s.service.questions = question.NewBank(s.c.Questions.Bank, s.c.Questions.Seed)

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.service.hub.Register(e, s.service.leaderboard)
	question.Register(e, s.service.questions)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors(slog.Default())...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := s.ctx

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, "server: relay running", "instance", s.c.Relay.InstanceID)
		return s.service.hub.Run(ctx)
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.cancel()
	s.service.hub.Close()

	// Score handlers may schedule leaderboard publishes, which in turn
	// dispatch notifier handlers.
	s.eb.Stop()
	s.service.leaderboard.Wait()
	s.eb.Stop()

	if err := s.infra.redis.leaderboard.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close leaderboard redis failed", "error", err)
	}
	if err := s.infra.redis.pubsub.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close pubsub redis failed", "error", err)
	}
	s.infra.postgres.room.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
