package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf/v2"
)

type rgb struct{ r, g, b int }

var (
	colorHeaderBg = rgb{30, 41, 59}
	colorRowEven  = rgb{248, 250, 252}
	colorBorder   = rgb{226, 232, 240}
	colorText     = rgb{0, 0, 0}
	colorMuted    = rgb{100, 116, 139}
	colorSuccess  = rgb{16, 185, 129}
	colorInfo     = rgb{6, 182, 212}
	colorWarning  = rgb{245, 158, 11}
	colorDanger   = rgb{239, 68, 68}
)

type pdfColumn struct {
	title string
	width float64
	align string
}

var pdfColumns = []pdfColumn{
	{"Aluno", 50, "L"},
	{"Email", 55, "L"},
	{"Atividade", 50, "L"},
	{"Nota", 17, "C"},
	{"Conceito", 20, "C"},
	{"Presença", 20, "C"},
	{"Horas", 17, "C"},
	{"Status", 0, "C"},
}

// PDFRenderer renders the participation table as a landscape A4 document.
type PDFRenderer struct {
	Source ParticipationSource
	Now    func() time.Time
}

// Render implements Renderer.
func (p *PDFRenderer) Render(ctx context.Context, classID string, w io.Writer) error {
	rows, err := loadRows(ctx, p.Source, classID)
	if err != nil {
		return err
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("{nb}")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	generated := p.Now().Format("02/01/2006 15:04")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "", 8)
		setText(pdf, colorMuted)
		left, _, _, _ := pdf.GetMargins()
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("Gerado em %s", generated)), "", 0, "L", false, 0, "")
		pdf.SetX(left)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("Página %d de {nb}", pdf.PageNo())), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	setText(pdf, colorHeaderBg)
	pdf.CellFormat(0, 10, tr("Relatório da Turma "+classID), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	setText(pdf, colorMuted)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("%d participações", len(rows))), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// The last column takes whatever width is left on the page.
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	used := 0.0
	for _, c := range pdfColumns[:len(pdfColumns)-1] {
		used += c.width
	}
	cols := make([]pdfColumn, len(pdfColumns))
	copy(cols, pdfColumns)
	cols[len(cols)-1].width = pageW - left - right - used

	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		setFill(pdf, colorHeaderBg)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetDrawColor(colorBorder.r, colorBorder.g, colorBorder.b)
		for _, c := range cols {
			pdf.CellFormat(c.width, 8, tr(c.title), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	header()

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pdf.GetY()+7 > pageH-bottom {
			pdf.AddPage()
			header()
		}
		pdf.SetFont("Helvetica", "", 8)
		fill := i%2 == 1
		setFill(pdf, colorRowEven)
		cells := []struct {
			text  string
			color rgb
		}{
			{row.StudentName, colorText},
			{dash(row.Email), colorText},
			{row.Activity, colorText},
			{fmtFloat(row.Grade), gradeColor(row.Grade)},
			{dash(row.Concept), conceptColor(row.Concept)},
			{fmtBool(row.Present), colorText},
			{fmtFloat(row.Hours), colorText},
			{dash(row.Assessment), statusColor(row.Assessment)},
		}
		for j, c := range cells {
			setText(pdf, c.color)
			pdf.CellFormat(cols[j].width, 7, tr(truncate(pdf, c.text, cols[j].width-2)), "1", 0, cols[j].align, fill, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func setText(pdf *gofpdf.Fpdf, c rgb) { pdf.SetTextColor(c.r, c.g, c.b) }
func setFill(pdf *gofpdf.Fpdf, c rgb) { pdf.SetFillColor(c.r, c.g, c.b) }

func truncate(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func statusColor(status string) rgb {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "aprovado") && !strings.Contains(s, "reprovado"), strings.Contains(s, "concluído"):
		return colorSuccess
	case strings.Contains(s, "reprovado"), strings.Contains(s, "falta"):
		return colorDanger
	case strings.Contains(s, "pendente"), strings.Contains(s, "andamento"):
		return colorWarning
	default:
		return colorText
	}
}

func conceptColor(concept string) rgb {
	switch strings.ToUpper(strings.TrimSpace(concept)) {
	case "A", "EXCELENTE", "ÓTIMO":
		return colorSuccess
	case "B", "BOM":
		return colorInfo
	case "C", "REGULAR":
		return colorWarning
	case "D", "F", "INSUFICIENTE", "REPROVADO":
		return colorDanger
	default:
		return colorText
	}
}

func gradeColor(grade *float64) rgb {
	if grade == nil {
		return colorText
	}
	switch g := *grade; {
	case g >= 9:
		return colorSuccess
	case g >= 7:
		return colorInfo
	case g >= 5:
		return colorWarning
	case g > 0:
		return colorDanger
	default:
		return colorText
	}
}
