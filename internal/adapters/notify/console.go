package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/olekukonko/tablewriter"
)

const maxTextLen = 40

// Console implementa ports.EventPublisher escribiendo en un terminal.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	table bool
}

// NewConsole crea un publicador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un publicador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Publish imprime los eventos de una operación en el modo configurado.
func (c *Console) Publish(_ context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table {
		c.printEventTable(events)
		return nil
	}
	for _, e := range events {
		fmt.Fprintln(c.out, compactLine(e))
	}
	return nil
}

// compactLine resume un evento en una línea.
func compactLine(e domain.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] #%d %s", e.At.Format("15:04:05"), e.Seq, e.Type)
	if e.OpinionID != 0 {
		fmt.Fprintf(&sb, " op=%d", e.OpinionID)
	}
	if e.PoolID != 0 {
		fmt.Fprintf(&sb, " pool=%d", e.PoolID)
	}
	fmt.Fprintf(&sb, " by %s", shortID(e.Actor))
	if e.Amount != 0 {
		fmt.Fprintf(&sb, " amount=%s", e.Amount)
	}
	if e.NextPrice != 0 {
		fmt.Fprintf(&sb, " next=%s", e.NextPrice)
	}
	if e.Regime != "" {
		fmt.Fprintf(&sb, " [%s]", e.Regime)
	}
	if e.Detail != "" {
		fmt.Fprintf(&sb, " %s", truncate(e.Detail, maxTextLen))
	}
	return sb.String()
}

func (c *Console) printEventTable(events []domain.Event) {
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Seq", "Type", "Opinion", "Pool", "Actor", "Amount", "Price", "Next", "Regime")
	for _, e := range events {
		tbl.Append(
			fmt.Sprintf("%d", e.Seq),
			string(e.Type),
			optionalID(e.OpinionID),
			optionalID(e.PoolID),
			shortID(e.Actor),
			e.Amount.String(),
			e.Price.String(),
			e.NextPrice.String(),
			e.Regime,
		)
	}
	tbl.Render()
}

// ReportInput agrupa lo que PrintReport necesita.
type ReportInput struct {
	Opinions []domain.Opinion
	Pools    []domain.Pool
	Accounts []domain.Account
	Supply   domain.Amount
	Seq      uint64
}

// PrintReport imprime el estado completo del mercado.
func (c *Console) PrintReport(in ReportInput) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  OPINION MARKET REPORT (seq %d)\n", in.Seq)
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(in.Opinions) == 0 {
		fmt.Fprintln(c.out, "  No opinions yet.")
	} else {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("ID", "Question", "Answer", "Owner", "Last", "Next", "Volume", "Sale", "Active")
		for _, o := range in.Opinions {
			sale := "-"
			if o.ForSale() {
				sale = o.SalePrice.String()
			}
			tbl.Append(
				fmt.Sprintf("%d", o.ID),
				truncate(o.Question, maxTextLen),
				truncate(o.CurrentAnswer, maxTextLen),
				shortID(o.CurrentAnswerOwner),
				o.LastPrice.String(),
				o.NextPrice.String(),
				o.TotalVolume.String(),
				sale,
				yesNo(o.IsActive),
			)
		}
		tbl.Render()
	}

	if len(in.Pools) > 0 {
		fmt.Fprintf(c.out, "\n  --- POOLS ---\n")
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("ID", "Opinion", "Name", "Answer", "Target", "Total", "Members", "Deadline", "Status")
		for _, p := range in.Pools {
			tbl.Append(
				fmt.Sprintf("%d", p.ID),
				fmt.Sprintf("%d", p.OpinionID),
				truncate(p.Name, maxTextLen),
				truncate(p.ProposedAnswer, maxTextLen),
				p.TargetPrice.String(),
				p.TotalAmount.String(),
				fmt.Sprintf("%d", len(p.Contributions)),
				p.Deadline.Format("2006-01-02 15:04"),
				string(p.Status),
			)
		}
		tbl.Render()
	}

	if len(in.Accounts) > 0 {
		fmt.Fprintf(c.out, "\n  --- ACCOUNTS ---\n")
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Identity", "Balance", "Claimable", "Total")
		for _, a := range in.Accounts {
			tbl.Append(a.Identity.Hex(), a.Balance.String(), a.Claimable.String(), a.Total().String())
		}
		tbl.Render()
	}

	fmt.Fprintf(c.out, "\n  Total supply:  %s\n\n", in.Supply)
}

func shortID(id domain.Identity) string {
	if id == domain.NoIdentity {
		return "-"
	}
	h := id.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}

func optionalID(id uint64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", id)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
