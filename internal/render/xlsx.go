package render

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

var xlsxHeaders = []string{"Aluno", "Email", "Atividade", "Nota", "Conceito", "Presença", "Horas", "Status Avaliação"}

var xlsxWidths = []float64{25, 28, 25, 10, 12, 12, 10, 22}

// XLSXRenderer renders the participation sheet with excelize's stream writer.
type XLSXRenderer struct {
	Source ParticipationSource
	Now    func() time.Time
}

// Render implements Renderer.
func (x *XLSXRenderer) Render(ctx context.Context, classID string, w io.Writer) error {
	rows, err := loadRows(ctx, x.Source, classID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Relatório"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	styles, err := newSheetStyles(f)
	if err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      2,
		TopLeftCell: "B3",
		ActivePane:  "bottomRight",
	}); err != nil {
		return fmt.Errorf("freeze panes: %w", err)
	}
	for i, width := range xlsxWidths {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	title := fmt.Sprintf("Relatório da Turma %s - Gerado em %s", classID, x.Now().Format("02/01/2006 15:04:05"))
	if err := sw.SetRow("A1", []any{excelize.Cell{StyleID: styles.title, Value: title}}, excelize.RowOpts{Height: 24}); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(xlsxHeaders))
	if err := sw.MergeCell("A1", lastCol+"1"); err != nil {
		return fmt.Errorf("merge title: %w", err)
	}
	if err := sw.SetRow("A2", headerCells(xlsxHeaders, styles.header), excelize.RowOpts{Height: 22}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, number := styles.text, styles.number
		if i%2 == 1 {
			text, number = styles.textStripe, styles.numberStripe
		}
		cells := []any{
			excelize.Cell{StyleID: text, Value: row.StudentName},
			excelize.Cell{StyleID: text, Value: row.Email},
			excelize.Cell{StyleID: text, Value: row.Activity},
			numberCell(row.Grade, number),
			excelize.Cell{StyleID: text, Value: row.Concept},
			excelize.Cell{StyleID: text, Value: fmtBool(row.Present)},
			numberCell(row.Hours, number),
			excelize.Cell{StyleID: text, Value: row.Assessment},
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

type sheetStyles struct {
	title, header                               int
	text, textStripe, number, numberStripe, pct int
}

func newSheetStyles(f *excelize.File) (sheetStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "DDDDDD", Style: 1},
		{Type: "top", Color: "DDDDDD", Style: 1},
		{Type: "right", Color: "DDDDDD", Style: 1},
		{Type: "bottom", Color: "DDDDDD", Style: 1},
	}
	stripe := excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F2F2F2"}}
	twoPlaces := "0.00"
	percent := "0.0%"

	var s sheetStyles
	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&s.title, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 16, Color: "1F497D"},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		}},
		{&s.header, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F497D"}},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
			Border:    border,
		}},
		{&s.text, &excelize.Style{Border: border, Alignment: &excelize.Alignment{Horizontal: "left"}}},
		{&s.textStripe, &excelize.Style{Border: border, Fill: stripe, Alignment: &excelize.Alignment{Horizontal: "left"}}},
		{&s.number, &excelize.Style{Border: border, CustomNumFmt: &twoPlaces}},
		{&s.numberStripe, &excelize.Style{Border: border, Fill: stripe, CustomNumFmt: &twoPlaces}},
		{&s.pct, &excelize.Style{Border: border, CustomNumFmt: &percent}},
	}
	for _, d := range defs {
		id, err := f.NewStyle(d.style)
		if err != nil {
			return sheetStyles{}, fmt.Errorf("create style: %w", err)
		}
		*d.dst = id
	}
	return s, nil
}

func headerCells(titles []string, style int) []any {
	out := make([]any, len(titles))
	for i, t := range titles {
		out[i] = excelize.Cell{StyleID: style, Value: t}
	}
	return out
}

func numberCell(v *float64, style int) excelize.Cell {
	if v == nil {
		return excelize.Cell{StyleID: style}
	}
	return excelize.Cell{StyleID: style, Value: *v}
}
