// Package moderation revierte respuestas abusivas a la original del creador.
package moderation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

// Reverter es la parte del registry que aplica la reversión.
type Reverter interface {
	ApplyModeration(id uint64, reason string, now time.Time) (registry.Moderation, error)
}

// Controller exige el permiso MODERATOR antes de revertir.
type Controller struct {
	access   *domain.AccessControl
	reverter Reverter
}

// New crea un Controller.
func New(access *domain.AccessControl, reverter Reverter) *Controller {
	return &Controller{access: access, reverter: reverter}
}

// ModerateAnswer devuelve la opinión a su respuesta original. El precio no cambia
// y lo pagado por el dueño moderado no se devuelve.
func (c *Controller) ModerateAnswer(caller domain.Identity, opinionID uint64, reason string, now time.Time) (registry.Moderation, error) {
	if err := c.access.Require(caller, domain.CapModerator); err != nil {
		return registry.Moderation{}, fmt.Errorf("moderation.ModerateAnswer: %w", err)
	}
	m, err := c.reverter.ApplyModeration(opinionID, reason, now)
	if err != nil {
		return registry.Moderation{}, fmt.Errorf("moderation.ModerateAnswer: %w", err)
	}
	slog.Warn("answer moderated",
		"opinion_id", opinionID,
		"moderator", caller.Hex(),
		"previous_owner", m.PreviousOwner.Hex(),
		"reason", m.Entry.Description,
	)
	return m, nil
}
