package ports

import (
	"context"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

// EventPublisher entrega las notificaciones de cada operación a indexadores externos.
type EventPublisher interface {
	// Publish recibe los eventos de una operación, en orden.
	Publish(ctx context.Context, events []domain.Event) error
}
