package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ── cases ──

func (s *PostgresStore) CreateCase(ctx context.Context, c Case) error {
	owner := sql.NullString{String: c.OwnerID, Valid: c.OwnerID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, name, description, owner_id, color_profile)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.Description, owner, c.ColorProfile)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (Case, error) {
	var c Case
	var owner sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, color_profile, published, published_at, version, created_at, updated_at
		FROM cases WHERE id=$1
	`, caseID).Scan(&c.ID, &c.Name, &c.Description, &owner, &c.ColorProfile, &c.Published, &c.PublishedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Case{}, err
	}
	c.OwnerID = owner.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, permission FROM case_groups WHERE case_id=$1
	`, caseID)
	if err != nil {
		return Case{}, fmt.Errorf("list case groups: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var groupID, permission string
		if err := rows.Scan(&groupID, &permission); err != nil {
			return Case{}, fmt.Errorf("scan case group: %w", err)
		}
		switch permission {
		case "view":
			c.ViewGroups = append(c.ViewGroups, groupID)
		case "review":
			c.ReviewGroups = append(c.ReviewGroups, groupID)
		case "edit":
			c.EditGroups = append(c.EditGroups, groupID)
		}
	}
	if err := rows.Err(); err != nil {
		return Case{}, fmt.Errorf("iterate case groups: %w", err)
	}
	return c, nil
}

// ListCases returns every case the user may at least view: owned cases,
// legacy ownerless cases and cases shared through any of the user's groups.
func (s *PostgresStore) ListCases(ctx context.Context, userID string) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.name, c.description, c.owner_id, c.color_profile,
			c.published, c.published_at, c.version, c.created_at, c.updated_at
		FROM cases c
		LEFT JOIN case_groups cg ON cg.case_id = c.id
		LEFT JOIN group_memberships gm ON gm.group_id = cg.group_id
		WHERE c.owner_id = $1 OR c.owner_id IS NULL OR gm.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	for rows.Next() {
		var c Case
		var owner sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &owner, &c.ColorProfile,
			&c.Published, &c.PublishedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.OwnerID = owner.String
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

// UpdateCase patches the case row. expectedVersion 0 skips the optimistic
// check; otherwise a stale version leaves the row untouched and the caller
// sees changed=false.
func (s *PostgresStore) UpdateCase(ctx context.Context, caseID, name, description, colorProfile string, expectedVersion int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cases
		SET name=$2, description=$3, color_profile=$4, version=version+1, updated_at=NOW()
		WHERE id=$1 AND ($5 = 0 OR version = $5)
	`, caseID, name, description, colorProfile, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update case: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update case result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) TouchCase(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cases SET updated_at=NOW() WHERE id=$1`, caseID)
	if err != nil {
		return fmt.Errorf("touch case: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkCasePublished(ctx context.Context, caseID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cases SET published=TRUE, published_at=$2, updated_at=NOW() WHERE id=$1
	`, caseID, at)
	if err != nil {
		return fmt.Errorf("mark case published: %w", err)
	}
	return nil
}

// DeleteCase removes the case; element tables cascade on the case foreign
// key, so the whole graph goes with it.
func (s *PostgresStore) DeleteCase(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id=$1`, caseID)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetCaseGroup(ctx context.Context, caseID, groupID, permission string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_groups (case_id, group_id, permission)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_id, group_id, permission) DO NOTHING
	`, caseID, groupID, permission)
	if err != nil {
		return fmt.Errorf("set case group: %w", err)
	}
	return nil
}

// ── comments ──

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, case_id, author_id, target_kind, target_id, content)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.CaseID, c.AuthorID, c.TargetKind, c.TargetID, c.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, caseID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cm.id, cm.case_id, cm.author_id, u.display_name, cm.target_kind, cm.target_id, cm.content, cm.created_at
		FROM comments cm
		JOIN users u ON u.id = cm.author_id
		WHERE cm.case_id=$1
		ORDER BY cm.created_at
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.CaseID, &c.AuthorID, &c.AuthorName, &c.TargetKind, &c.TargetID, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, author_id, target_kind, target_id, content, created_at
		FROM comments WHERE id=$1
	`, commentID).Scan(&c.ID, &c.CaseID, &c.AuthorID, &c.TargetKind, &c.TargetID, &c.Content, &c.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// ── published snapshots ──

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap PublishedSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_snapshots (id, case_id, case_name, tree, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.ID, snap.CaseID, snap.CaseName, []byte(snap.Tree), snap.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, snapshotID string) (PublishedSnapshot, error) {
	var snap PublishedSnapshot
	var tree []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, case_name, tree, created_by, created_at
		FROM published_snapshots WHERE id=$1
	`, snapshotID).Scan(&snap.ID, &snap.CaseID, &snap.CaseName, &tree, &snap.CreatedBy, &snap.CreatedAt)
	if err != nil {
		return PublishedSnapshot{}, err
	}
	snap.Tree = json.RawMessage(tree)
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, caseID string) ([]PublishedSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, case_name, created_by, created_at
		FROM published_snapshots WHERE case_id=$1
		ORDER BY created_at DESC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]PublishedSnapshot, 0)
	for rows.Next() {
		var snap PublishedSnapshot
		if err := rows.Scan(&snap.ID, &snap.CaseID, &snap.CaseName, &snap.CreatedBy, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

// ── connection records ──

// SaveConnectionRecord registers a subscriber, replacing any previous record
// for the same (user, case, channel).
func (s *PostgresStore) SaveConnectionRecord(ctx context.Context, rec ConnectionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_records (channel_key, user_id, case_id, since)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, case_id, channel_key) DO UPDATE SET since=EXCLUDED.since
	`, rec.ChannelKey, rec.UserID, rec.CaseID, rec.Since)
	if err != nil {
		return fmt.Errorf("save connection record: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConnectionRecord(ctx context.Context, channelKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connection_records WHERE channel_key=$1`, channelKey)
	if err != nil {
		return fmt.Errorf("delete connection record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConnectionRecords(ctx context.Context, caseID string) ([]ConnectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cr.channel_key, cr.user_id, u.display_name, cr.case_id, cr.since
		FROM connection_records cr
		JOIN users u ON u.id = cr.user_id
		WHERE cr.case_id=$1
		ORDER BY cr.since
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list connection records: %w", err)
	}
	defer rows.Close()

	items := make([]ConnectionRecord, 0)
	for rows.Next() {
		var rec ConnectionRecord
		if err := rows.Scan(&rec.ChannelKey, &rec.UserID, &rec.UserName, &rec.CaseID, &rec.Since); err != nil {
			return nil, fmt.Errorf("scan connection record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection records: %w", err)
	}
	return items, nil
}

// ── feature images ──

func (s *PostgresStore) SaveFeatureImage(ctx context.Context, img FeatureImage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_images (case_id, object_key, content_type, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (case_id) DO UPDATE SET object_key=EXCLUDED.object_key, content_type=EXCLUDED.content_type, updated_at=NOW()
	`, img.CaseID, img.ObjectKey, img.ContentType)
	if err != nil {
		return fmt.Errorf("save feature image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFeatureImage(ctx context.Context, caseID string) (FeatureImage, error) {
	var img FeatureImage
	err := s.db.QueryRowContext(ctx, `
		SELECT case_id, object_key, content_type, updated_at
		FROM feature_images WHERE case_id=$1
	`, caseID).Scan(&img.CaseID, &img.ObjectKey, &img.ContentType, &img.UpdatedAt)
	if err != nil {
		return FeatureImage{}, err
	}
	return img, nil
}
