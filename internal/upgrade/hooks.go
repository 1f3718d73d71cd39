package upgrade

import (
	"context"
	"database/sql"
)

func init() {
	// Pending escalations whose agent no longer has a supervisor on that
	// platform can never be answered.
	RegisterDataHook(1, "001_expire_unsupervised_escalations", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE escalations e
			SET status = 'expired', resolved_at = NOW()
			WHERE e.status = 'pending'
			  AND NOT EXISTS (
				SELECT 1 FROM agent_channels c
				WHERE c.agent_id = e.agent_id
				  AND c.channel = e.platform
				  AND c.supervisor_id IS NOT NULL
			  )`)
		return err
	})
}
