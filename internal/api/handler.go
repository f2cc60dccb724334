// Package api serves the read side of the replica over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxDepth = 5000

var errBadDepth = errors.New("depth must be a non-negative integer")

// Book is the part of the engine the handlers read.
type Book interface {
	Symbol() string
	State() orderbook.SyncState
	View(depth int) orderbook.BookView
	Stats() orderbook.Stats
}

// BookResponse is the body of GET /book.
type BookResponse struct {
	Symbol string              `json:"symbol"`
	State  string              `json:"state"`
	Cursor int64               `json:"cursor"`
	Spread *string             `json:"spread,omitempty"`
	Bids   []market.PriceLevel `json:"bids"`
	Asks   []market.PriceLevel `json:"asks"`
}

type Handler struct {
	router       *gin.Engine
	book         Book
	defaultDepth int
}

// NewHandler builds the router. metrics may be nil.
func NewHandler(book Book, defaultDepth int, metrics http.Handler) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{router: router, book: book, defaultDepth: defaultDepth}
	router.GET("/book", h.getBook)
	router.GET("/healthz", h.health)
	router.GET("/stats", h.stats)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// getBook returns the top levels. While the state is not live the body is
// still served, flagged by its state, and must not be trusted.
func (h *Handler) getBook(c *gin.Context) {
	depth := h.defaultDepth
	if raw := c.Query("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, errBadDepth)
			return
		}
		depth = n
	}
	if depth == 0 || depth > maxDepth {
		depth = maxDepth
	}

	v := h.book.View(depth)
	resp := BookResponse{
		Symbol: v.Symbol,
		State:  v.State.String(),
		Cursor: v.Cursor,
		Bids:   v.Bids,
		Asks:   v.Asks,
	}
	if resp.Bids == nil {
		resp.Bids = []market.PriceLevel{}
	}
	if resp.Asks == nil {
		resp.Asks = []market.PriceLevel{}
	}
	if spread, ok := v.Spread(); ok {
		s := spread.String()
		resp.Spread = &s
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) health(c *gin.Context) {
	state := h.book.State()
	status := http.StatusOK
	if state != orderbook.Live {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"symbol": h.book.Symbol(), "state": state.String()})
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.book.Stats())
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// Serve runs an HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, log *logrus.Entry) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("API | HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("API | HTTP server stopped")
	return nil
}
