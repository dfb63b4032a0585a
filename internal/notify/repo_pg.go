package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Save(ctx context.Context, ns []Notification) error {
	b := &pgx.Batch{}
	for _, n := range ns {
		b.Queue(`
			INSERT INTO notifications(event_id, recipient_role, recipient_id, prescription_id, message, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (event_id, recipient_role, recipient_id) DO NOTHING`,
			n.EventID, n.RecipientRole, n.RecipientID, n.PrescriptionID, n.Message, n.CreatedAt)
	}
	if err := s.DB.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}
