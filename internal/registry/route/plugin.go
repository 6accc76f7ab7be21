package route

import (
	"slices"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts a group of handlers on an engine.
type RouterLoader func(r *gin.Engine) error

// RouteType selects the listener a plugin is mounted on.
type RouteType int

const (
	RouteTypeMain RouteType = iota
	// RouteTypeManagement covers health and metrics. Without a management port
	// these are mounted on the main listener too.
	RouteTypeManagement
)

// Plugin is one registered route group. Lower Order mounts first.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register is called from plugin init functions.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func loadersOf(t RouteType) []RouterLoader {
	matched := slices.DeleteFunc(slices.Clone(plugins), func(p Plugin) bool { return p.Type != t })
	slices.SortStableFunc(matched, func(a, b Plugin) int { return a.Order - b.Order })
	loaders := make([]RouterLoader, len(matched))
	for i, p := range matched {
		loaders[i] = p.Loader
	}
	return loaders
}

// MainRouteLoaders returns the API route loaders in mount order.
func MainRouteLoaders() []RouterLoader { return loadersOf(RouteTypeMain) }

// ManagementRouteLoaders returns the health and metrics loaders in mount order.
func ManagementRouteLoaders() []RouterLoader { return loadersOf(RouteTypeManagement) }
