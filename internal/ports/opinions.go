package ports

import (
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

// Acquisition es la compra de la respuesta de una opinión a un precio dado.
type Acquisition struct {
	OpinionID   uint64
	Buyer       domain.Identity
	Answer      string
	Description string
	Price       domain.Amount
}

// Trade es el resultado de un envío de respuesta o de una adquisición.
type Trade struct {
	OpinionID     uint64
	Buyer         domain.Identity
	PreviousOwner domain.Identity
	QuestionOwner domain.Identity
	Price         domain.Amount
	Fees          domain.FeeDistribution
	Quote         domain.PriceQuote // nuevo nextPrice
	Competitive   bool
	Activity      domain.ActivityLevel
	Nonce         uint64
}

// OpinionMarket es lo que el motor de pools necesita del registry de opiniones.
// Los pools guardan solo el ID de la opinión y pasan siempre por aquí.
type OpinionMarket interface {
	// Opinion devuelve una copia de la opinión.
	Opinion(id uint64) (domain.Opinion, error)

	// Acquire compra la respuesta al precio dado cobrando al comprador.
	Acquire(req Acquisition, now time.Time) (Trade, error)
}
