package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/logger"
)

type subscriber interface {
	Subscribe(ctx context.Context) <-chan *booking.ChangeEvent
}

type Server struct {
	srv      *http.Server
	router   *http.ServeMux
	l        *logger.Logger
	conf     Conf
	bManager *booking.Manager
	feed     subscriber
}

type Conf struct {
	L                 *logger.Logger
	ServerLogger      *log.Logger
	Host              string
	Port              string
	ReadHeaderTimeout time.Duration
	LivenessEndpoint  string
	// AdminJWTSecret signs admin bearer tokens. Admin routes answer 401 when
	// it is empty.
	AdminJWTSecret string
	WebhookSecret  string
	Now            func() time.Time
}

func New(ctx context.Context, conf Conf, bookingManager *booking.Manager, feed subscriber) (*Server, error) {
	if conf.Now == nil {
		conf.Now = time.Now
	}

	if conf.LivenessEndpoint == "" {
		conf.LivenessEndpoint = "/liveness"
	}

	mux := http.NewServeMux()

	//nolint:exhaustruct
	srv := &http.Server{
		Addr:              net.JoinHostPort(conf.Host, conf.Port),
		ReadHeaderTimeout: conf.ReadHeaderTimeout,
		ErrorLog:          conf.ServerLogger,
		Handler:           mux,
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}

	server := &Server{
		srv:      srv,
		router:   mux,
		l:        conf.L,
		conf:     conf,
		bManager: bookingManager,
		feed:     feed,
	}

	server.addRoutes(mux)

	return server, nil
}

func (s *Server) Srv() *http.Server {
	return s.srv
}

// Handler is the routed mux without the listener, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
