package watch

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Relay upgrades a spectator request and streams the match's events as JSON frames.
type Relay struct {
	feed         *Feed
	log          *zap.Logger
	pingInterval time.Duration
	origins      []string
}

func NewRelay(feed *Feed, log *zap.Logger, origins ...string) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{feed: feed, log: log, pingInterval: 30 * time.Second, origins: origins}
}

func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, matchID int64) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  r.origins,
	})
	if err != nil {
		r.log.Debug("watch_accept_error", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "relay closed")

	// Spectators never send; CloseRead cancels ctx when the peer leaves.
	ctx := conn.CloseRead(req.Context())
	sub, err := r.feed.Subscribe(ctx, matchID)
	if err != nil {
		r.log.Warn("watch_subscribe_error", zap.Int64("match_id", matchID), zap.Error(err))
		conn.Close(websocket.StatusTryAgainLater, "feed unavailable")
		return
	}
	defer sub.Close()
	r.log.Debug("watch_open", zap.Int64("match_id", matchID))

	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				r.log.Debug("watch_write_error", zap.Int64("match_id", matchID), zap.Error(err))
				return
			}
		}
	}
}
