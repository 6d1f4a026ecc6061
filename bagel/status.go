package bagel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// HealthService is the gRPC health service name reported by the
	// status server.
	HealthService  = "bagel.Engine"
	defaultMaxConn = 64
)

type StatusSource interface {
	Status() Status
}

// VertexRenderer renders one vertex for GET /api/vertex/:id.
type VertexRenderer func(id uint64) (string, error)

// RenderVertex renders vertices of g with w.
func RenderVertex[V any](g *Graph[V], w Writer[V]) VertexRenderer {
	return func(id uint64) (string, error) {
		v, err := g.Vertex(id)
		if err != nil {
			return "", err
		}
		return w.SaveVertex(v), nil
	}
}

// NewStatusRouter builds the status HTTP API.
func NewStatusRouter(src StatusSource, render VertexRenderer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, src.Status())
		})
		api.GET("/vertex/:id", func(c *gin.Context) {
			id, err := strconv.ParseUint(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "vertex id must be an unsigned integer"})
				return
			}
			if render == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no vertex renderer"})
				return
			}
			record, err := render(id)
			if errors.Is(err, ErrVertexNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"id": id, "record": record})
		})
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// StatusServer serves the status API, Prometheus metrics and the gRPC
// health service (over gRPC-web) on one listener.
type StatusServer struct {
	lis    net.Listener
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func StartStatusServer(addr string, src StatusSource, render VertexRenderer, maxConns int) (*StatusServer, error) {
	if maxConns <= 0 {
		maxConns = defaultMaxConn
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	wrapped := grpcweb.WrapServer(grpcServer, grpcweb.WithOriginFunc(func(string) bool { return true }))
	api := cors.AllowAll().Handler(NewStatusRouter(src, render))

	s := &StatusServer{
		lis:    netutil.LimitListener(lis, maxConns),
		grpc:   grpcServer,
		health: healthServer,
	}
	s.http = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wrapped.IsGrpcWebRequest(r) || wrapped.IsAcceptableGrpcCorsRequest(r) {
				wrapped.ServeHTTP(w, r)
				return
			}
			api.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(s.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "status").Msg("StartStatusServer: error while serving")
		}
	}()
	log.Info().Str("component", "status").Str("addr", lis.Addr().String()).Msg("StartStatusServer: listening")
	return s, nil
}

func (s *StatusServer) Addr() net.Addr { return s.lis.Addr() }

// SetServing flips the reported health of the engine service.
func (s *StatusServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, status)
}

func (s *StatusServer) Close(ctx context.Context) error {
	s.health.Shutdown()
	s.grpc.Stop()
	return s.http.Shutdown(ctx)
}
