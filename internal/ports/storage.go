package ports

import (
	"context"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

// Storage persiste el estado del mercado tras cada operación confirmada.
type Storage interface {
	// SaveOpinion hace upsert de la opinión y de su historial completo.
	SaveOpinion(ctx context.Context, opinion domain.Opinion) error

	// SavePool hace upsert del pool y sus aportaciones.
	SavePool(ctx context.Context, pool domain.Pool) error

	// SaveAccounts hace upsert de los saldos dados.
	SaveAccounts(ctx context.Context, accounts []domain.Account) error

	// SaveRoles reemplaza los miembros de cada permiso.
	SaveRoles(ctx context.Context, roles map[domain.Capability][]domain.Identity) error

	// AppendEvents añade eventos al log append-only y guarda seq/nonce.
	AppendEvents(ctx context.Context, events []domain.Event, seq, nonce uint64) error

	// ListEvents devuelve los eventos con seq > afterSeq, como mucho limit.
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error)

	// LoadSnapshot lee todo el estado persistido.
	LoadSnapshot(ctx context.Context) (domain.Snapshot, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
