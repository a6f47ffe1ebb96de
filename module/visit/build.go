package visit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"

	handler "github.com/NTDK5/vibespot-sub000/module/visit/internal/handler/http"
	mqttprovider "github.com/NTDK5/vibespot-sub000/module/visit/internal/provider/mqtt"
	"github.com/NTDK5/vibespot-sub000/module/visit/internal/repository/database/postgres"
	redislock "github.com/NTDK5/vibespot-sub000/module/visit/internal/repository/lock/redis"
	"github.com/NTDK5/vibespot-sub000/module/visit/internal/repository/publisher/rabbitmq"
	"github.com/NTDK5/vibespot-sub000/module/visit/service"
)

type Module struct {
	VerificationSvc *service.VerificationService
	VisitSvc        *service.VisitQueryService
	handler         *handler.VisitHandler
	locations       *mqttprovider.LocationHub
}

// Build wires the visit module. rdb may be nil, in which case attempts are
// only exclusive within this process.
func Build(db *sql.DB, amqpConn *amqp.Connection, mqttClient mqtt.Client, rdb *goredis.Client,
	policy service.Policy, lockTTL time.Duration, logger *slog.Logger) (*Module, error) {
	visitRepo := postgres.NewVisitRepo(db)

	outcomePub, err := rabbitmq.NewOutcomePublisher(amqpConn)
	if err != nil {
		return nil, fmt.Errorf("outcome publisher: %w", err)
	}

	hub := mqttprovider.NewLocationHub(mqttClient, logger)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithOutcomeSink(outcomePub),
	}
	if rdb != nil {
		opts = append(opts, service.WithGuard(redislock.NewAttemptGuard(rdb, lockTTL)))
	}

	verificationSvc := service.NewVerificationService(hub, visitRepo, policy, opts...)
	visitSvc := service.NewVisitQueryService(visitRepo)

	return &Module{
		VerificationSvc: verificationSvc,
		VisitSvc:        visitSvc,
		handler:         handler.NewVisitHandler(verificationSvc, visitSvc),
		locations:       hub,
	}, nil
}

func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.handler.Register(r)
}

func (m *Module) StartSubscribers() error {
	return m.locations.Start()
}

// Shutdown cancels every live attempt and waits for them to settle.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.VerificationSvc.Shutdown(ctx)
}
