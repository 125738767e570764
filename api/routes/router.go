package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pixpay-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/pixpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/pixpay-backend/api/middleware"
	"github.com/angelmondragon/pixpay-backend/internal/payments"
	"github.com/angelmondragon/pixpay-backend/pkg/config"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	idempotencyStore redis.IdempotencyStore,
	paymentsService payments.Service,
	openpixWebhookService webhookcontrollers.OpenPixWebhookService,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	checks := make(map[string]controllers.Pinger, len(readiness)+1)
	for name, p := range readiness {
		checks[name] = p
	}
	if pinger, ok := idempotencyStore.(controllers.Pinger); ok {
		checks["redis"] = pinger
	}

	r.Get("/health", controllers.Health(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, checks))
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Post("/webhooks/openpix", webhookcontrollers.OpenPixWebhook(openpixWebhookService, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserContext(logg))

		idempotent := middleware.Idempotency(idempotencyStore, middleware.IdempotencyOptions{
			TTL:         cfg.Idempotency.TTL,
			InFlightTTL: cfg.Idempotency.InFlightTTL,
		}, logg)
		r.With(idempotent).Post("/payments", controllers.PaymentCreate(paymentsService, logg))
		r.Get("/payments", controllers.PaymentList(paymentsService, logg))
		r.Get("/payments/public/{id}", controllers.PaymentGetPublic(paymentsService, logg))
		r.Get("/payments/{id}", controllers.PaymentGet(paymentsService, logg))
		r.Delete("/payments/{id}", controllers.PaymentDelete(paymentsService, logg))
	})

	return r
}
