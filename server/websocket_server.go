package server

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/hertz/pkg/app"
	hertzserver "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/cors"
	"github.com/hertz-contrib/gzip"
	"github.com/hertz-contrib/logger/accesslog"
	"github.com/hertz-contrib/pprof"
	"github.com/hertz-contrib/websocket"

	"riskguard/biz/dal/pg"
	"riskguard/biz/pricefeed"
	"riskguard/biz/service"
	"riskguard/conf"
)

var upgrader = websocket.HertzUpgrader{
	CheckOrigin: func(ctx *app.RequestContext) bool {
		return true
	},
}

var subSeq atomic.Uint64

// wsSubscriber adapts one websocket connection to the broadcaster. The write
// mutex keeps heartbeat and event deliveries from interleaving frames.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{
		id:   conn.RemoteAddr().String() + "#" + strconv.FormatUint(subSeq.Add(1), 10),
		conn: conn,
	}
}

func (s *wsSubscriber) ID() string {
	return s.id
}

func (s *wsSubscriber) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// Deps wires the core into the HTTP surface.
type Deps struct {
	Broadcaster *service.Broadcaster
	Scheduler   *service.Scheduler
	Positions   *pg.PositionRepo
	Tickers     *pg.TickerRepo
	History     *pg.HistoryRepo
	Feed        *pricefeed.Feed
}

// New builds the Hertz server hosting the push channel and the manual
// trigger surface.
func New(deps Deps) *hertzserver.Hertz {
	hertzConf := conf.GetConf().Hertz
	h := hertzserver.Default(hertzserver.WithHostPorts(hertzConf.Address))
	h.NoHijackConnPool = true

	if hertzConf.EnableAccessLog {
		h.Use(accesslog.New())
	}
	if hertzConf.EnableGzip {
		h.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	if hertzConf.EnablePprof {
		pprof.Register(h)
	}
	h.Use(cors.Default())

	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "healthy"})
	})

	h.GET("/ws", func(ctx context.Context, c *app.RequestContext) {
		err := upgrader.Upgrade(c, func(conn *websocket.Conn) {
			sub := newWSSubscriber(conn)
			deps.Broadcaster.Subscribe(sub)
			defer deps.Broadcaster.Unsubscribe(sub.ID())

			// read loop only detects disconnects; the channel is push-only
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					hlog.Infof("ws read closed: %v", err)
					return
				}
			}
		})
		if err != nil {
			hlog.Errorf("ws upgrade error: %v", err)
		}
	})

	api := h.Group("/api/v1")

	// manual single-pass reconciliation: one account or all, sync or
	// fire-and-forget
	api.POST("/sync/trigger", func(ctx context.Context, c *app.RequestContext) {
		wait := c.Query("wait") != "false"
		accountParam := c.Query("account_id")

		if accountParam != "" {
			accountID, err := strconv.ParseUint(accountParam, 10, 64)
			if err != nil {
				c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid account_id"})
				return
			}
			if err := deps.Scheduler.TriggerAccount(ctx, uint(accountID)); err != nil {
				c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
				return
			}
			c.JSON(consts.StatusOK, utils.H{"message": "sync completed", "account_id": accountID})
			return
		}

		deps.Scheduler.TriggerAll(ctx, wait)
		if wait {
			c.JSON(consts.StatusOK, utils.H{"message": "sync completed"})
		} else {
			c.JSON(consts.StatusAccepted, utils.H{"message": "sync scheduled"})
		}
	})

	api.GET("/market/ticker-history", func(ctx context.Context, c *app.RequestContext) {
		limit := queryInt(c, "limit", 50)
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		rows, err := deps.Tickers.Recent(ctx, c.Query("symbol"), limit)
		if err != nil {
			c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusOK, rows)
	})

	// in-process sample window, cheaper than the persisted ticker history
	api.GET("/market/price-samples", func(ctx context.Context, c *app.RequestContext) {
		limit := queryInt(c, "limit", 50)
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		c.JSON(consts.StatusOK, deps.Feed.Recent(limit))
	})

	api.GET("/accounts/:id/risk-summary", func(ctx context.Context, c *app.RequestContext) {
		accountID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid account id"})
			return
		}
		positions, err := deps.Positions.ActiveByAccount(ctx, uint(accountID))
		if err != nil {
			c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusOK, service.SummarizeRisk(positions))
	})

	api.GET("/history/transactions", func(ctx context.Context, c *app.RequestContext) {
		limit := queryInt(c, "limit", 100)
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		accountID := uint(queryInt(c, "account_id", 0))
		rows, err := deps.History.Recent(ctx, accountID, limit)
		if err != nil {
			c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusOK, rows)
	})

	return h
}

func queryInt(c *app.RequestContext, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
