package render

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/class-reports/internal/report"
)

// StudentWorkload aggregates one student's participation in a class.
type StudentWorkload struct {
	StudentID      string
	StudentName    string
	RealHours      float64
	SimulatedHours float64
	Participations int
	Presences      int
	GradeSum       float64
	GradeCount     int
}

// TotalHours is real plus simulated workload.
func (s StudentWorkload) TotalHours() float64 {
	return s.RealHours + s.SimulatedHours
}

// PresenceRate is presences over participations, in [0, 1].
func (s StudentWorkload) PresenceRate() float64 {
	if s.Participations == 0 {
		return 0
	}
	return float64(s.Presences) / float64(s.Participations)
}

// AverageGrade returns the mean of graded participations and false if none.
func (s StudentWorkload) AverageGrade() (float64, bool) {
	if s.GradeCount == 0 {
		return 0, false
	}
	return s.GradeSum / float64(s.GradeCount), true
}

// Workloads groups rows by student, preserving first-seen order.
func Workloads(rows []report.Participation) []StudentWorkload {
	index := make(map[string]int)
	var out []StudentWorkload
	for _, r := range rows {
		i, ok := index[r.StudentID]
		if !ok {
			i = len(out)
			index[r.StudentID] = i
			out = append(out, StudentWorkload{StudentID: r.StudentID, StudentName: r.StudentName})
		}
		w := &out[i]
		w.RealHours += r.WorkloadReal
		w.SimulatedHours += r.WorkloadSimul
		w.Participations++
		if r.Present != nil && *r.Present {
			w.Presences++
		}
		if r.Grade != nil {
			w.GradeSum += *r.Grade
			w.GradeCount++
		}
	}
	return out
}

var workloadHeaders = []string{
	"Aluno", "ID", "Total Horas", "Horas Real", "Horas Simuladas", "Média Horas/Turma",
	"Participações", "Presenças", "Taxa Presença", "Média Nota",
}

// WorkloadRenderer renders the per-student workload summary as an Excel table.
type WorkloadRenderer struct {
	Source ParticipationSource
}

// Render implements Renderer.
func (r *WorkloadRenderer) Render(ctx context.Context, classID string, w io.Writer) error {
	rows, err := loadRows(ctx, r.Source, classID)
	if err != nil {
		return err
	}
	students := Workloads(rows)
	var classTotal float64
	for _, s := range students {
		classTotal += s.TotalHours()
	}
	classAvg := classTotal / float64(len(students))

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Workloads"
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
	if err := sw.SetPanes(&excelize.Panes{Freeze: true, YSplit: 3, TopLeftCell: "A4", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze panes: %w", err)
	}
	if err := sw.SetColWidth(1, 1, 30); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := sw.SetColWidth(2, len(workloadHeaders), 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	title := "Relatório de Workloads - Turma " + classID
	if err := sw.SetRow("A1", []any{excelize.Cell{StyleID: styles.title, Value: title}}, excelize.RowOpts{Height: 25}); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(workloadHeaders))
	if err := sw.MergeCell("A1", lastCol+"1"); err != nil {
		return fmt.Errorf("merge title: %w", err)
	}
	if err := sw.SetRow("A3", headerCells(workloadHeaders, 0)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, s := range students {
		if err := ctx.Err(); err != nil {
			return err
		}
		avg, graded := s.AverageGrade()
		avgCell := excelize.Cell{StyleID: styles.number}
		if graded {
			avgCell.Value = avg
		}
		cells := []any{
			s.StudentName,
			s.StudentID,
			excelize.Cell{StyleID: styles.number, Value: s.TotalHours()},
			excelize.Cell{StyleID: styles.number, Value: s.RealHours},
			excelize.Cell{StyleID: styles.number, Value: s.SimulatedHours},
			excelize.Cell{StyleID: styles.number, Value: classAvg},
			s.Participations,
			s.Presences,
			excelize.Cell{StyleID: styles.pct, Value: s.PresenceRate()},
			avgCell,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+4)
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	showStripes := true
	if err := sw.AddTable(&excelize.Table{
		Range:          fmt.Sprintf("A3:%s%d", lastCol, len(students)+3),
		Name:           "WorkloadTable",
		StyleName:      "TableStyleMedium9",
		ShowRowStripes: &showStripes,
	}); err != nil {
		return fmt.Errorf("add table: %w", err)
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
