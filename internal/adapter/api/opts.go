package api

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/app/authapp"
	"github.com/burenotti/healthlog/internal/app/unitofwork"
	weightservice "github.com/burenotti/healthlog/internal/app/weight"
	"github.com/burenotti/healthlog/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type Option func(*Server)

func Addr(host string, port int) Option {
	return func(s *Server) {
		s.addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
}

func Logger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// AppName is used in the alert header names, e.g. X-healthlog-alert.
func AppName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.appName = name
		}
	}
}

func DBContext(db unitofwork.Beginner) Option {
	return func(s *Server) {
		s.db = db
	}
}

func AuthService(service *authapp.Service) Option {
	return func(s *Server) {
		s.authService = service
	}
}

func WeightService(service *weightservice.Service) Option {
	return func(s *Server) {
		s.weightService = service
	}
}

func MessageBus(bus unitofwork.MessageBus) Option {
	return func(s *Server) {
		s.msgBus = bus
	}
}

// AuthContext replaces the postgres-backed atomic context of the auth service.
func AuthContext(f func(context.Context, storage.DBContext) (*authapp.AtomicContext, error)) Option {
	return func(s *Server) {
		s.authContext = f
	}
}

// WeightContext replaces the postgres-backed atomic context of the weight service.
func WeightContext(f func(context.Context, storage.DBContext) (*weightservice.AtomicContext, error)) Option {
	return func(s *Server) {
		s.weightContext = f
	}
}

// RateLimit enables the redis token bucket. A nil client disables limiting.
func RateLimit(rdb *redis.Client, cfg config.RateLimit) Option {
	return func(s *Server) {
		s.redis = rdb
		s.rateLimit = cfg
	}
}

func Registry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}
