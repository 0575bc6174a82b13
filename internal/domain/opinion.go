package domain

import (
	"slices"
	"time"
)

// AnswerEntry es una entrada del historial de respuestas. La 0 es siempre la del creador.
type AnswerEntry struct {
	Answer      string
	Description string
	Owner       Identity
	Price       Amount
	Timestamp   time.Time
	Moderated   bool
}

// Opinion es una pregunta con su respuesta vigente y su estado de trading.
type Opinion struct {
	ID       uint64
	Question string
	Creator  Identity // inmutable

	QuestionOwner      Identity // cobra las comisiones de creador; cambia solo por venta
	CurrentAnswerOwner Identity // cambia en cada envío, ejecución de pool o moderación

	CurrentAnswer            string
	CurrentAnswerDescription string

	LastPrice   Amount // lo pagado en el último envío (o el precio inicial)
	NextPrice   Amount // lo que hay que pagar para el siguiente envío
	SalePrice   Amount // > 0 solo mientras la pregunta está a la venta
	TotalVolume Amount

	IsActive   bool
	Categories []string

	AnswerHistory []AnswerEntry
	CreatedAt     time.Time
}

// ForSale devuelve true si la pregunta está listada para venta.
func (o Opinion) ForSale() bool {
	return o.SalePrice > 0
}

// OriginalAnswer devuelve la respuesta del creador (entrada 0 del historial).
func (o Opinion) OriginalAnswer() AnswerEntry {
	if len(o.AnswerHistory) == 0 {
		return AnswerEntry{}
	}
	return o.AnswerHistory[0]
}

// Clone devuelve una copia profunda, segura para entregar fuera del registry.
func (o Opinion) Clone() Opinion {
	o.Categories = slices.Clone(o.Categories)
	o.AnswerHistory = slices.Clone(o.AnswerHistory)
	return o
}
