package realtime

import (
	"github.com/gigmarket/chat-service/internal/gateway"
	registryroute "github.com/gigmarket/chat-service/internal/registry/route"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 120,
		Loader: func(r *gin.Engine) error {
			return nil // mounted by the serve command once the gateway exists
		},
	})
}

// Path is the websocket endpoint.
const Path = "/v1/ws"

// MountRoutes mounts the websocket endpoint. The gateway authenticates the handshake
// itself, so no auth middleware is applied.
func MountRoutes(r *gin.Engine, gw *gateway.Gateway) {
	r.GET(Path, gw.Handle)
}
