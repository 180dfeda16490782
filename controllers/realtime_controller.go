package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/services"
)

const pingInterval = 25 * time.Second

type RealtimeController struct {
	RT *services.RealtimeHub
}

func NewRealtimeController(rt *services.RealtimeHub) *RealtimeController {
	return &RealtimeController{RT: rt}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // tighten behind ALB/CloudFront if needed
}

// EventsWS streams draft and plan status events of the caller.
func (rc *RealtimeController) EventsWS(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "user", uid, "err", err)
		return
	}
	cl := &services.WSClient{UserID: uid, Conn: conn}
	rc.RT.Register(cl)

	done := make(chan struct{})
	defer close(done)

	// keeps connections alive through proxies
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := cl.Write(websocket.PingMessage, nil); err != nil {
					rc.RT.Unregister(cl)
					return
				}
			}
		}
	}()

	// read loop ends on client close/error
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			rc.RT.Unregister(cl)
			return
		}
	}
}
