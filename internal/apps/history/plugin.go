package history

import (
	"github.com/gofiber/fiber/v2"
)

type HistoryPlugin struct {
	service *Service
}

func New(service *Service) *HistoryPlugin {
	return &HistoryPlugin{service: service}
}

func (p *HistoryPlugin) ID() string { return "history" }

func (p *HistoryPlugin) Models() []interface{} {
	return []interface{}{
		&ScanRecord{},
	}
}

func (p *HistoryPlugin) RegisterRoutes(router fiber.Router) {
	handler := NewHandler(p.service)

	router.Post("/save", handler.Save)
	router.Post("/upload", handler.Upload)
	router.Get("/", handler.List)
	router.Get("/:id", handler.GetByID)
	router.Delete("/:id", handler.Delete)
}
