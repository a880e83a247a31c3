package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/class-reports/internal/report"
)

// ParticipationStore reads the class participation rows that feed the renderers.
type ParticipationStore struct {
	db DB
}

// NewParticipationStore wraps an open pool.
func NewParticipationStore(db DB) (*ParticipationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ParticipationStore{db: db}, nil
}

// ListParticipations returns every participation row of a class ordered by
// student name and activity.
func (s *ParticipationStore) ListParticipations(ctx context.Context, classID string) ([]report.Participation, error) {
	const query = `
		SELECT s.id, s.name, COALESCE(s.email, ''), a.name, COALESCE(a.activity_type, ''),
			p.present, p.hours, p.grade, COALESCE(p.concept, ''), COALESCE(p.assessment_status, ''),
			COALESCE(p.workload_real, 0), COALESCE(p.workload_simulated, 0)
		FROM participations p
		JOIN students s ON s.id = p.student_id
		JOIN activities a ON a.id = p.activity_id
		WHERE p.class_id = $1
		ORDER BY s.name, a.name;
	`
	rows, err := s.db.Query(ctx, query, classID)
	if err != nil {
		return nil, report.Infrastructure(err, "query participations")
	}
	defer rows.Close()

	var out []report.Participation
	for rows.Next() {
		var p report.Participation
		if err := rows.Scan(
			&p.StudentID,
			&p.StudentName,
			&p.Email,
			&p.Activity,
			&p.ActivityType,
			&p.Present,
			&p.Hours,
			&p.Grade,
			&p.Concept,
			&p.Assessment,
			&p.WorkloadReal,
			&p.WorkloadSimul,
		); err != nil {
			return nil, report.Infrastructure(err, "scan participation")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, report.Infrastructure(err, "iterate participations")
	}
	return out, nil
}
