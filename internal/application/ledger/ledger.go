// Package ledger es el libro de saldos del mercado: el sustituto del token externo.
//
// Dos saldos por identidad:
//   - Balance: gastable. Los depósitos, las comisiones de tesorería y las
//     devoluciones de pools van aquí directamente.
//   - Claimable: comisiones de creador y pagos a dueños. Se acumulan y la
//     identidad los reclama con Claim; nunca se empujan a la cuenta del receptor.
//
// Los fondos de un pool viven en el Balance de su identidad derivada.
//
// Solo Deposit crea valor y solo Withdraw lo destruye; el resto de operaciones
// lo mueven. Deposit rechaza cualquier abono que lleve el total por encima de
// MaxInt64, así ningún saldo individual puede desbordar.
package ledger

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

// Ledger implementa ports.Funds. No es seguro para uso concurrente: lo serializa el mercado.
type Ledger struct {
	params   *domain.Params
	accounts map[domain.Identity]*domain.Account
	dirty    map[domain.Identity]struct{}
	supply   domain.Amount
}

// New crea un ledger vacío. La tesorería se lee de params en cada pago.
func New(params *domain.Params) *Ledger {
	return &Ledger{
		params:   params,
		accounts: make(map[domain.Identity]*domain.Account),
		dirty:    make(map[domain.Identity]struct{}),
	}
}

var _ ports.Funds = (*Ledger)(nil)

// Treasury devuelve la identidad de tesorería vigente.
func (l *Ledger) Treasury() domain.Identity {
	return l.params.Treasury
}

// Account devuelve una copia de la cuenta de id (vacía si no existe).
func (l *Ledger) Account(id domain.Identity) domain.Account {
	if a, ok := l.accounts[id]; ok {
		return *a
	}
	return domain.Account{Identity: id}
}

// Balance devuelve el saldo gastable de id.
func (l *Ledger) Balance(id domain.Identity) domain.Amount {
	return l.Account(id).Balance
}

// Claimable devuelve el saldo reclamable de id.
func (l *Ledger) Claimable(id domain.Identity) domain.Amount {
	return l.Account(id).Claimable
}

// Deposit abona amount al saldo gastable de id.
func (l *Ledger) Deposit(id domain.Identity, amount domain.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("ledger.Deposit: %w: %s", domain.ErrInvalidAmount, amount)
	}
	if id == domain.NoIdentity {
		return fmt.Errorf("ledger.Deposit: %w", domain.ErrInvalidIdentity)
	}
	supply, err := domain.CheckedAdd(l.supply, amount)
	if err != nil {
		return fmt.Errorf("ledger.Deposit: supply: %w", err)
	}
	l.supply = supply
	l.account(id).Balance += amount
	return nil
}

// Withdraw retira amount del saldo gastable de id.
func (l *Ledger) Withdraw(id domain.Identity, amount domain.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("ledger.Withdraw: %w: %s", domain.ErrInvalidAmount, amount)
	}
	if err := l.Require(id, amount); err != nil {
		return err
	}
	l.account(id).Balance -= amount
	l.supply -= amount
	return nil
}

// Claim pasa todo el saldo reclamable de id a su saldo gastable y devuelve lo reclamado.
func (l *Ledger) Claim(id domain.Identity) (domain.Amount, error) {
	a, ok := l.accounts[id]
	if !ok || a.Claimable == 0 {
		return 0, fmt.Errorf("ledger.Claim: %w", domain.ErrNothingToClaim)
	}
	claimed := a.Claimable
	a.Balance += claimed
	a.Claimable = 0
	l.dirty[id] = struct{}{}
	slog.Debug("fees claimed", "identity", id.Hex(), "amount", claimed)
	return claimed, nil
}

// Require devuelve *domain.InsufficientFundsError si id no puede pagar amount.
func (l *Ledger) Require(id domain.Identity, amount domain.Amount) error {
	if amount < 0 {
		return fmt.Errorf("ledger.Require: %w: %s", domain.ErrInvalidAmount, amount)
	}
	if available := l.Balance(id); available < amount {
		return &domain.InsufficientFundsError{Required: amount, Available: available}
	}
	return nil
}

// Transfer mueve saldo gastable de from a to.
func (l *Ledger) Transfer(from, to domain.Identity, amount domain.Amount) error {
	if err := l.Require(from, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	l.account(from).Balance -= amount
	l.account(to).Balance += amount
	return nil
}

// PayTreasury mueve saldo gastable de from a la tesorería.
func (l *Ledger) PayTreasury(from domain.Identity, amount domain.Amount) error {
	return l.Transfer(from, l.Treasury(), amount)
}

// Distribute cobra dist.Total() a payer y reparte: plataforma a tesorería,
// creador y dueño a sus saldos reclamables.
func (l *Ledger) Distribute(payer domain.Identity, dist domain.FeeDistribution, creator, owner domain.Identity) error {
	if dist.PlatformFee < 0 || dist.CreatorFee < 0 || dist.OwnerAmount < 0 {
		return fmt.Errorf("ledger.Distribute: %w: negative share", domain.ErrInvalidAmount)
	}
	total := dist.Total()
	if err := l.Require(payer, total); err != nil {
		return err
	}
	l.account(payer).Balance -= total
	l.account(l.Treasury()).Balance += dist.PlatformFee
	l.account(creator).Claimable += dist.CreatorFee
	l.account(owner).Claimable += dist.OwnerAmount
	return nil
}

// MoveClaimable mueve saldo reclamable de from a to.
func (l *Ledger) MoveClaimable(from, to domain.Identity, amount domain.Amount) error {
	if amount < 0 {
		return fmt.Errorf("ledger.MoveClaimable: %w: %s", domain.ErrInvalidAmount, amount)
	}
	if available := l.Claimable(from); available < amount {
		return &domain.InsufficientFundsError{Required: amount, Available: available}
	}
	if amount == 0 {
		return nil
	}
	l.account(from).Claimable -= amount
	l.account(to).Claimable += amount
	return nil
}

// MoveBalance traspasa todo el saldo gastable de from a to y devuelve lo movido.
// El reclamable de from no se toca. Se usa al cambiar la tesorería.
func (l *Ledger) MoveBalance(from, to domain.Identity) domain.Amount {
	a, ok := l.accounts[from]
	if !ok || from == to || a.Balance == 0 {
		return 0
	}
	moved := a.Balance
	l.account(from).Balance = 0
	l.account(to).Balance += moved
	return moved
}

// Accounts devuelve todas las cuentas en orden estable.
func (l *Ledger) Accounts() []domain.Account {
	out := make([]domain.Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	sortAccounts(out)
	return out
}

// Supply devuelve el valor total en el ledger (gastable + reclamable).
func (l *Ledger) Supply() domain.Amount {
	return l.supply
}

// TakeDirty devuelve las cuentas modificadas desde la última llamada y limpia la marca.
func (l *Ledger) TakeDirty() []domain.Account {
	out := make([]domain.Account, 0, len(l.dirty))
	for id := range l.dirty {
		out = append(out, l.Account(id))
	}
	clear(l.dirty)
	sortAccounts(out)
	return out
}

// Restore reemplaza el contenido del ledger con las cuentas persistidas.
func (l *Ledger) Restore(accounts []domain.Account) {
	clear(l.accounts)
	clear(l.dirty)
	l.supply = 0
	for _, a := range accounts {
		a := a
		l.accounts[a.Identity] = &a
		l.supply += a.Total()
	}
}

// account devuelve la cuenta de id creándola si hace falta y la marca como modificada.
func (l *Ledger) account(id domain.Identity) *domain.Account {
	a, ok := l.accounts[id]
	if !ok {
		a = &domain.Account{Identity: id}
		l.accounts[id] = a
	}
	l.dirty[id] = struct{}{}
	return a
}

func sortAccounts(accounts []domain.Account) {
	slices.SortFunc(accounts, func(x, y domain.Account) int {
		return bytes.Compare(x.Identity[:], y.Identity[:])
	})
}
