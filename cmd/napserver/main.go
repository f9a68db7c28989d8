// The NAP companion: receives artifacts pushed from generation hosts and
// places them where the local consumer can read them.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"atelier-api/internal/artifacts"
	"atelier-api/internal/ctx"
	"atelier-api/internal/middleware"
	"atelier-api/internal/shared"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
)

type receiveResponse struct {
	Path string `json:"path"`
}

func receiveArtifact(store *artifacts.Store) echo.HandlerFunc {
	return func(cc echo.Context) error {
		c := cc.(*ctx.Context)

		file, header, err := c.Request().FormFile("file")
		if err != nil {
			c.LogValues.AddError(err)
			return c.JSON(http.StatusBadRequest, shared.APIError{
				Message: "missing file part",
				Object:  "error",
				Type:    "BadRequest",
				Code:    http.StatusBadRequest,
			})
		}
		defer func() {
			_ = file.Close()
		}()

		data, err := io.ReadAll(file)
		if err != nil {
			c.LogValues.AddError(err)
			return c.JSON(http.StatusBadRequest, shared.APIError{
				Message: "failed reading file part",
				Object:  "error",
				Type:    "BadRequest",
				Code:    http.StatusBadRequest,
			})
		}

		name := c.FormValue("filename")
		if name == "" {
			name = header.Filename
		}
		format := strings.TrimPrefix(filepath.Ext(name), ".")
		if format == "" {
			format = "png"
		}

		handle, err := store.Save(data, format)
		if err != nil {
			c.LogValues.AddError(err)
			return c.JSON(http.StatusInsufficientStorage, shared.APIError{
				Message: "failed storing artifact",
				Object:  "error",
				Type:    "StorageError",
				Code:    http.StatusInsufficientStorage,
			})
		}

		c.Log.Infow("Received artifact", "name", name, "path", handle.Path, "bytes", len(data))
		return c.JSON(http.StatusOK, receiveResponse{Path: handle.Path})
	}
}

func main() {
	artifactRoot := flag.String("artifact-root", "data/incoming", "Directory received artifacts land in")
	artifactRetention := flag.Duration("artifact-retention", shared.DefaultArtifactRetention, "Artifact retention window")
	listen := flag.String("listen", ":3658", "Listen address")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("Failed init logger")
	}
	log := logger.Sugar()

	store := artifacts.NewStore(*artifactRoot, log)

	e := echo.New()
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	base := e.Group("")
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	base.POST("/v1/artifacts", receiveArtifact(store))

	// Unlike the generation host, nothing here runs per request, so retention
	// needs its own timer
	reapCtx, stopReaper := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-reapCtx.Done():
				return
			case <-ticker.C:
				store.Reap(*artifactRetention)
			}
		}
	}()

	go func() {
		if err := e.Start(*listen); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	stopReaper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Failed graceful shutdown", "error", err)
	}
	_ = log.Sync()
}
