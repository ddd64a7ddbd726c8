// Package render formats simulator output as terminal tables.
package render

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"
	"github.com/samber/lo"

	"github.com/ardnew/samusb/device"
	"github.com/ardnew/samusb/device/hal/sim"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/internal/scenario"
)

var (
	// adaptive colors look good in light/dark terminals
	borderColor = lipgloss.AdaptiveColor{Light: "#6C6CFF", Dark: "#6C6CFF"}
	chipColor   = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	okColor     = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#9FF29A"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#8B6508", Dark: "#FFD166"}
	errColor    = lipgloss.AdaptiveColor{Light: "#8B0000", Dark: "#FF6B6B"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#707070", Dark: "#8A8A8A"}
)

type styles struct {
	cell   lipgloss.Style
	header lipgloss.Style
	border lipgloss.Style
	chip   lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	dim    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	chip := r.NewStyle().Padding(0, 1).MarginRight(1).
		Border(lipgloss.RoundedBorder()).BorderForeground(borderColor).
		Bold(true).Foreground(chipColor)
	return styles{
		cell:   r.NewStyle().Padding(0, 1),
		header: r.NewStyle().Bold(true).Padding(0, 1),
		border: r.NewStyle().Foreground(borderColor),
		chip:   chip,
		ok:     r.NewStyle().Foreground(okColor).Bold(true),
		warn:   r.NewStyle().Foreground(warnColor),
		err:    r.NewStyle().Foreground(errColor).Bold(true),
		dim:    r.NewStyle().Foreground(dimColor),
	}
}

// Printer writes tables to w. Colors are used only when w is a terminal.
type Printer struct {
	w     io.Writer
	tty   bool
	width int
	s     styles
}

// New returns a printer for w.
func New(w io.Writer) *Printer {
	p := &Printer{w: w}
	if f, ok := w.(*os.File); ok && isTTY(f) {
		p.tty = true
		if width, _, err := term.GetSize(f.Fd()); err == nil {
			p.width = width
		}
	}
	p.s = newStyles(lipgloss.NewRenderer(w))
	return p
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(f.Fd())
}

// TTY reports whether the printer writes to a terminal.
func (p *Printer) TTY() bool { return p.tty }

func (p *Printer) println(s string) error {
	_, err := fmt.Fprintln(p.w, s)
	return err
}

func (p *Printer) table(headers []string, rows [][]string, right func(col int) bool) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.s.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.s.header
			}
			s := p.s.cell
			if right != nil && right(col) {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func (p *Printer) kind(k scenario.EventKind) string {
	switch k {
	case scenario.KindError, scenario.KindFatal:
		return p.s.err.Render(string(k))
	case scenario.KindStall:
		return p.s.warn.Render(string(k))
	case scenario.KindComplete, scenario.KindDrain:
		return p.s.ok.Render(string(k))
	case scenario.KindHostIn, scenario.KindHostOut:
		return p.s.dim.Render(string(k))
	default:
		return string(k)
	}
}

func optional(n int) string {
	if n < 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

// Events prints the event log.
func (p *Printer) Events(events []scenario.Event) error {
	if len(events) == 0 {
		return p.println(p.s.dim.Render("no events"))
	}
	rows := lo.Map(events, func(e scenario.Event, _ int) []string {
		return []string{strconv.Itoa(e.Step), p.kind(e.Kind), optional(e.EP), optional(e.Bank), e.Detail}
	})
	t := p.table([]string{"step", "event", "ep", "bank", "detail"}, rows, func(col int) bool { return col == 0 })
	if p.width > 0 {
		t = t.Width(p.width)
	}
	return p.println(t.Render())
}

func (p *Printer) bankState(s device.BankState) string {
	switch s {
	case device.BankArmed:
		return p.s.warn.Render(s.String())
	case device.BankComplete:
		return p.s.ok.Render(s.String())
	case device.BankStalled:
		return p.s.err.Render(s.String())
	default:
		return s.String()
	}
}

// Endpoints prints the bank table of the enabled endpoints.
func (p *Printer) Endpoints(rows []scenario.EndpointRow) error {
	data := lo.Map(rows, func(e scenario.EndpointRow, _ int) []string {
		faulted := ""
		if e.Faulted {
			faulted = p.s.err.Render("halted")
		}
		return []string{
			strconv.Itoa(int(e.Number)),
			e.Config.Type0().String(),
			e.Config.Type1().String(),
			strconv.Itoa(int(e.MaxPacketSize)),
			p.bankState(e.Banks[0]),
			p.bankState(e.Banks[1]),
			fmt.Sprintf("%d/%d", e.Lengths[0], e.Lengths[1]),
			fmt.Sprintf("%d/%d", e.Toggles[0], e.Toggles[1]),
			strconv.Itoa(int(e.CurrentBank)),
			faulted,
		}
	})
	headers := []string{"ep", "type0", "type1", "mps", "bank0", "bank1", "len", "dtgl out/in", "curbk", "fault"}
	return p.println(p.table(headers, data, func(col int) bool { return col == 0 || col == 3 }).Render())
}

// Registers prints a register dump.
func (p *Printer) Registers(regs []sim.Register) error {
	rows := lo.Map(regs, func(r sim.Register, _ int) []string {
		v := fmt.Sprintf("0x%0*X", r.Width/4, r.Value)
		if r.Value != 0 {
			v = p.s.ok.Render(v)
		}
		return []string{r.Name, fmt.Sprintf("0x%03X", r.Offset), strconv.Itoa(r.Width), v}
	})
	return p.println(p.table([]string{"register", "offset", "bits", "value"}, rows,
		func(col int) bool { return col > 0 }).Render())
}

// Layout prints the static register map with n endpoint blocks.
func (p *Printer) Layout(n int) error {
	rows := lo.FilterMap(reg.Map, func(l reg.Layout, _ int) ([]string, bool) {
		return []string{l.Name, fmt.Sprintf("0x%03X", l.Offset), strconv.Itoa(l.Width)}, l.Offset < reg.EndpointBase
	})
	for ep := range uint8(min(max(n, 0), reg.MaxEndpoints)) {
		for _, off := range []uintptr{
			reg.OffsetEPCFG, reg.OffsetEPSTATUSCLR, reg.OffsetEPSTATUSSET, reg.OffsetEPSTATUS,
			reg.OffsetEPINTFLAG, reg.OffsetEPINTENCLR, reg.OffsetEPINTENSET,
		} {
			addr := reg.EP(ep, off)
			rows = append(rows, []string{reg.Name(addr), fmt.Sprintf("0x%03X", addr), "8"})
		}
	}
	return p.println(p.table([]string{"register", "offset", "bits"}, rows,
		func(col int) bool { return col > 0 }).Render())
}

// Summary prints the device state and the run outcome as chips.
func (p *Printer) Summary(name string, dev device.Device, runErr error) error {
	state := p.s.chip.Foreground(okColor)
	if dev.State != device.StateOn {
		state = p.s.chip.Foreground(warnColor)
	}
	addr := "address -"
	if dev.AddressEnabled {
		addr = fmt.Sprintf("address %d", dev.Address)
	}
	chips := []string{
		p.s.chip.Render(name),
		state.Render(dev.State.String()),
		p.s.chip.Render(addr),
		p.s.chip.Render(dev.Speed.String()),
		p.s.chip.Render(fmt.Sprintf("frame %d", dev.Frame)),
	}
	if runErr != nil {
		chips = append(chips, p.s.chip.Foreground(errColor).Render("FAIL"))
	} else {
		chips = append(chips, p.s.chip.Foreground(okColor).Render("PASS"))
	}
	return p.println(lipgloss.JoinHorizontal(lipgloss.Top, chips...))
}
