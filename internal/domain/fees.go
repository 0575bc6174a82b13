package domain

// FeeConfig contiene los porcentajes (en bps) del reparto de cada transferencia.
type FeeConfig struct {
	PlatformBps    int64  // parte de la plataforma → tesorería
	CreatorBps     int64  // parte del dueño de la pregunta → saldo reclamable
	CreationFeeBps int64  // % del precio inicial cobrado al crear una opinión
	MinCreationFee Amount // suelo anti-spam de la comisión de creación
}

// FeeDistribution es el reparto de un importe. Las tres partes suman exactamente el importe.
type FeeDistribution struct {
	PlatformFee Amount
	CreatorFee  Amount
	OwnerAmount Amount
}

// Total devuelve la suma de las tres partes.
func (d FeeDistribution) Total() Amount {
	return d.PlatformFee + d.CreatorFee + d.OwnerAmount
}

// Distribute reparte amount entre plataforma, creador y dueño.
// Plataforma y creador se truncan; el resto de la división entera va al dueño,
// así que nunca se crea ni se pierde valor por redondeo.
func (c FeeConfig) Distribute(amount Amount) FeeDistribution {
	if amount <= 0 {
		return FeeDistribution{}
	}
	platform := amount.MulBps(c.PlatformBps)
	creator := amount.MulBps(c.CreatorBps)
	return FeeDistribution{
		PlatformFee: platform,
		CreatorFee:  creator,
		OwnerAmount: amount - platform - creator,
	}
}

// CreationFee devuelve max(initialPrice × CreationFeeBps, MinCreationFee).
func (c FeeConfig) CreationFee(initialPrice Amount) Amount {
	return MaxAmount(initialPrice.MulBps(c.CreationFeeBps), c.MinCreationFee)
}

// PlatformCut devuelve solo la parte de la plataforma de un importe (ventas de preguntas).
func (c FeeConfig) PlatformCut(amount Amount) (platform, rest Amount) {
	if amount <= 0 {
		return 0, 0
	}
	platform = amount.MulBps(c.PlatformBps)
	return platform, amount - platform
}
