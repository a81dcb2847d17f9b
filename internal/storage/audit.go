package storage

import (
	"context"

	"github.com/pkg/errors"
)

// LogAudit appends one audit trail entry. Every terminal job outcome
// and every reaper sweep leaves one.
func (s *Store) LogAudit(ctx context.Context, jobID, action, status, details string) error {
	var ref *string
	if jobID != "" {
		ref = &jobID
	}
	_, err := s.db.Exec(ctx, `insert into audit_log(job_id, action, status, details)
values ($1,$2,$3,$4)`, ref, action, status, details)
	return errors.Wrap(err, "log audit")
}
