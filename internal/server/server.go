package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/fesd/internal/config"
	"github.com/berfenger/fesd/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port        uint
	httpLog     bool
	service     port.FrontEndService
	rootContext *actor.RootContext
	bridgeActor *actor.PID
}

func NewServer(cfg config.Config, service port.FrontEndService, rootContext *actor.RootContext, bridgeActor *actor.PID) *http.Server {
	NewServer := &Server{
		port:        cfg.Port,
		httpLog:     cfg.HttpLog,
		service:     service,
		rootContext: rootContext,
		bridgeActor: bridgeActor,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return server
}
