// Package render produces report artifacts for a class as byte streams.
package render

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/JakeFAU/class-reports/internal/report"
)

// Content types of the produced artifacts.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ErrNoData is returned when a class has no participation rows to render.
var ErrNoData = fmt.Errorf("no participation data for class")

// ParticipationSource reads the participation rows of a class.
type ParticipationSource interface {
	ListParticipations(ctx context.Context, classID string) ([]report.Participation, error)
}

// Renderer writes the artifact for a class to w. It must not close w.
type Renderer interface {
	Render(ctx context.Context, classID string, w io.Writer) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, classID string, w io.Writer) error

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, classID string, w io.Writer) error {
	return f(ctx, classID, w)
}

// Format describes how one report type is rendered and stored.
type Format struct {
	Type        report.Type
	ContentType string
	Extension   string
	Renderer    Renderer
}

// StorageKey returns <prefix>/<classID>/<requestID><ext>.
func (f Format) StorageKey(prefix, classID, requestID string) string {
	return path.Join(prefix, classID, requestID+f.Extension)
}

// FileName returns the download name relatorio-<classID>-<yyyymmdd-hhmmss><ext>.
func (f Format) FileName(classID string, at time.Time) string {
	return fmt.Sprintf("relatorio-%s-%s%s", classID, at.Format("20060102-150405"), f.Extension)
}

// Registry maps report types to formats.
type Registry struct {
	formats map[report.Type]Format
}

// NewRegistry registers the built-in renderers for every report type.
func NewRegistry(src ParticipationSource, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	r := &Registry{formats: make(map[report.Type]Format)}
	r.Register(Format{
		Type:        report.TypePDF,
		ContentType: ContentTypePDF,
		Extension:   ".pdf",
		Renderer:    &PDFRenderer{Source: src, Now: now},
	})
	r.Register(Format{
		Type:        report.TypeXLSX,
		ContentType: ContentTypeXLSX,
		Extension:   ".xlsx",
		Renderer:    &XLSXRenderer{Source: src, Now: now},
	})
	r.Register(Format{
		Type:        report.TypeWorkload,
		ContentType: ContentTypeXLSX,
		Extension:   ".xlsx",
		Renderer:    &WorkloadRenderer{Source: src},
	})
	return r
}

// Register adds or replaces the format for f.Type.
func (r *Registry) Register(f Format) {
	r.formats[f.Type] = f
}

// Lookup returns the format registered for t.
func (r *Registry) Lookup(t report.Type) (Format, bool) {
	f, ok := r.formats[t]
	return f, ok
}

func loadRows(ctx context.Context, src ParticipationSource, classID string) ([]report.Participation, error) {
	if src == nil {
		return nil, fmt.Errorf("participation source is not configured")
	}
	rows, err := src.ListParticipations(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("load participations: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoData, classID)
	}
	return rows, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtBool(v *bool) string {
	switch {
	case v == nil:
		return "-"
	case *v:
		return "Sim"
	default:
		return "Não"
	}
}
