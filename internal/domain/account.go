package domain

// Account es el saldo de una identidad en el ledger.
type Account struct {
	Identity  Identity
	Balance   Amount // gastable
	Claimable Amount // comisiones acumuladas pendientes de reclamar
}

// Total devuelve el valor total de la cuenta.
func (a Account) Total() Amount {
	return a.Balance + a.Claimable
}

// Snapshot es el estado persistido con el que se reconstruye el mercado al arrancar.
type Snapshot struct {
	Opinions []Opinion
	Pools    []Pool
	Accounts []Account
	Roles    map[Capability][]Identity
	Seq      uint64 // última posición de la secuencia global
	Nonce    uint64 // contador de trades del registry
}
