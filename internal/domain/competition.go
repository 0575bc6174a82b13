package domain

import "time"

// DefaultCompetitionWindow es la ventana de observación de traders.
const DefaultCompetitionWindow = 24 * time.Hour

// TraderMark registra la última vez que un trader actuó sobre una opinión.
type TraderMark struct {
	Trader Identity
	At     time.Time
}

// CompetitionTracker mantiene, por opinión, los traders distintos vistos en la ventana.
// Las entradas viejas se descartan en la consulta; no hay barrido en background.
// No es seguro para uso concurrente: lo posee el registry.
type CompetitionTracker struct {
	window  time.Duration
	windows map[uint64][]TraderMark // ordenadas por At ascendente, sin duplicados
}

// NewCompetitionTracker crea un tracker con la ventana dada.
func NewCompetitionTracker(window time.Duration) *CompetitionTracker {
	if window <= 0 {
		window = DefaultCompetitionWindow
	}
	return &CompetitionTracker{window: window, windows: make(map[uint64][]TraderMark)}
}

// Window devuelve la duración de la ventana.
func (t *CompetitionTracker) Window() time.Duration {
	return t.window
}

// SetWindow cambia la duración de la ventana para las consultas siguientes.
func (t *CompetitionTracker) SetWindow(window time.Duration) {
	if window > 0 {
		t.window = window
	}
}

// RecordTrader anota que trader actuó sobre la opinión en now.
func (t *CompetitionTracker) RecordTrader(opinionID uint64, trader Identity, now time.Time) {
	marks := t.prune(opinionID, now)
	for i, m := range marks {
		if m.Trader == trader {
			marks = append(marks[:i], marks[i+1:]...)
			break
		}
	}
	t.windows[opinionID] = append(marks, TraderMark{Trader: trader, At: now})
}

// IsCompetitive devuelve true si otro trader distinto de trader actuó dentro de la ventana.
func (t *CompetitionTracker) IsCompetitive(opinionID uint64, trader Identity, now time.Time) bool {
	for _, m := range t.prune(opinionID, now) {
		if m.Trader != trader {
			return true
		}
	}
	return false
}

// Traders devuelve los traders distintos dentro de la ventana, del más antiguo al más reciente.
func (t *CompetitionTracker) Traders(opinionID uint64, now time.Time) []Identity {
	marks := t.prune(opinionID, now)
	out := make([]Identity, len(marks))
	for i, m := range marks {
		out[i] = m.Trader
	}
	return out
}

// DistinctTraders devuelve cuántos traders distintos hay en la ventana.
func (t *CompetitionTracker) DistinctTraders(opinionID uint64, now time.Time) int {
	return len(t.prune(opinionID, now))
}

// prune descarta las marcas fuera de la ventana y devuelve las vigentes.
func (t *CompetitionTracker) prune(opinionID uint64, now time.Time) []TraderMark {
	marks := t.windows[opinionID]
	cut := 0
	for cut < len(marks) && now.Sub(marks[cut].At) >= t.window {
		cut++
	}
	if cut == 0 {
		return marks
	}
	if cut == len(marks) {
		delete(t.windows, opinionID)
		return nil
	}
	marks = append([]TraderMark(nil), marks[cut:]...)
	t.windows[opinionID] = marks
	return marks
}
