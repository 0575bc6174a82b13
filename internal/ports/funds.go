package ports

import "github.com/alejandrodnm/opinionmarket/internal/domain"

// Funds mueve valor entre identidades. Cada método es atómico: o aplica todo o devuelve error.
type Funds interface {
	// Require devuelve *domain.InsufficientFundsError si id no puede pagar amount.
	Require(id domain.Identity, amount domain.Amount) error

	// Transfer mueve saldo gastable de from a to.
	Transfer(from, to domain.Identity, amount domain.Amount) error

	// PayTreasury mueve saldo gastable de from a la tesorería.
	PayTreasury(from domain.Identity, amount domain.Amount) error

	// Distribute cobra dist.Total() a payer: plataforma a tesorería, creador y dueño a saldo reclamable.
	Distribute(payer domain.Identity, dist domain.FeeDistribution, creator, owner domain.Identity) error

	// MoveClaimable mueve saldo reclamable de from a to.
	MoveClaimable(from, to domain.Identity, amount domain.Amount) error

	// Claimable devuelve el saldo reclamable de id.
	Claimable(id domain.Identity) domain.Amount
}
