package apps

import (
	"github.com/gofiber/fiber/v2"
)

// Plugin defines the interface every feature module must implement.
type Plugin interface {
	// ID returns the unique feature identifier, used in logs.
	ID() string

	// Models returns the list of GORM model pointers for AutoMigrate.
	Models() []interface{}

	// RegisterRoutes mounts feature routes on the given Fiber group.
	// The group is already prefixed with /api/<ID> and has JWT middleware applied.
	RegisterRoutes(router fiber.Router)
}
