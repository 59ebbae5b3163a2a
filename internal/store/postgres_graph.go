package store

import (
	"context"
	"database/sql"
	"fmt"

	"casemark/api/internal/casegraph"
)

// Element persistence. The relational shape follows the classic three
// nullable parent columns; the tagged ParentRef variant exists only in
// memory, so the translation lives here.

func parentColumns(parent casegraph.ParentRef) (goalID, strategyID, claimID sql.NullString) {
	switch parent.Kind() {
	case casegraph.KindGoal:
		goalID = sql.NullString{String: parent.ID(), Valid: true}
	case casegraph.KindStrategy:
		strategyID = sql.NullString{String: parent.ID(), Valid: true}
	case casegraph.KindPropertyClaim:
		claimID = sql.NullString{String: parent.ID(), Valid: true}
	}
	return goalID, strategyID, claimID
}

func parentFromColumns(goalID, strategyID, claimID sql.NullString) casegraph.ParentRef {
	switch {
	case goalID.Valid:
		return casegraph.ParentGoal(goalID.String)
	case strategyID.Valid:
		return casegraph.ParentStrategy(strategyID.String)
	case claimID.Valid:
		return casegraph.ParentClaim(claimID.String)
	default:
		return casegraph.Detached()
	}
}

// LoadCaseGraph materializes the full in-memory projection of one case.
func (s *PostgresStore) LoadCaseGraph(ctx context.Context, caseID string) (*casegraph.Graph, error) {
	g := casegraph.New(caseID)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, name, short_desc, long_desc, keywords, assumption, version, created_at
		FROM goals WHERE case_id=$1 ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load goals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		goal := &casegraph.Goal{CaseID: caseID}
		if err := rows.Scan(&goal.ID, &goal.Seq, &goal.Name, &goal.ShortDesc, &goal.LongDesc,
			&goal.Keywords, &goal.Assumption, &goal.Version, &goal.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		g.Goals[goal.ID] = goal
		g.Track(goal.Seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}

	ctxRows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, name, short_desc, long_desc, goal_id, version, created_at
		FROM contexts WHERE case_id=$1 ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load contexts: %w", err)
	}
	defer ctxRows.Close()
	for ctxRows.Next() {
		c := &casegraph.Context{CaseID: caseID}
		var goalID sql.NullString
		if err := ctxRows.Scan(&c.ID, &c.Seq, &c.Name, &c.ShortDesc, &c.LongDesc, &goalID, &c.Version, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		c.Parent = parentFromColumns(goalID, sql.NullString{}, sql.NullString{})
		g.Contexts[c.ID] = c
		g.Track(c.Seq)
	}
	if err := ctxRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contexts: %w", err)
	}

	stratRows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, name, short_desc, long_desc, assumption, justification, goal_id, version, created_at
		FROM strategies WHERE case_id=$1 ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	defer stratRows.Close()
	for stratRows.Next() {
		st := &casegraph.Strategy{CaseID: caseID}
		var goalID sql.NullString
		if err := stratRows.Scan(&st.ID, &st.Seq, &st.Name, &st.ShortDesc, &st.LongDesc,
			&st.Assumption, &st.Justification, &goalID, &st.Version, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		st.Parent = parentFromColumns(goalID, sql.NullString{}, sql.NullString{})
		g.Strategies[st.ID] = st
		g.Track(st.Seq)
	}
	if err := stratRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategies: %w", err)
	}

	claimRows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, name, short_desc, long_desc, assumption, claim_type, level,
			goal_id, strategy_id, parent_claim_id, version, created_at
		FROM property_claims WHERE case_id=$1 ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load property claims: %w", err)
	}
	defer claimRows.Close()
	for claimRows.Next() {
		c := &casegraph.PropertyClaim{CaseID: caseID}
		var goalID, strategyID, parentClaimID sql.NullString
		var claimType string
		if err := claimRows.Scan(&c.ID, &c.Seq, &c.Name, &c.ShortDesc, &c.LongDesc, &c.Assumption,
			&claimType, &c.Level, &goalID, &strategyID, &parentClaimID, &c.Version, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan property claim: %w", err)
		}
		c.ClaimType = casegraph.ClaimType(claimType)
		c.Parent = parentFromColumns(goalID, strategyID, parentClaimID)
		g.Claims[c.ID] = c
		g.Track(c.Seq)
	}
	if err := claimRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate property claims: %w", err)
	}

	evRows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, name, short_desc, long_desc, url, version, created_at
		FROM evidence WHERE case_id=$1 ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		e := &casegraph.Evidence{CaseID: caseID}
		if err := evRows.Scan(&e.ID, &e.Seq, &e.Name, &e.ShortDesc, &e.LongDesc, &e.URL, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		g.Evidence[e.ID] = e
		g.Track(e.Seq)
	}
	if err := evRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}

	linkRows, err := s.db.QueryContext(ctx, `
		SELECT ec.evidence_id, ec.claim_id
		FROM evidence_claims ec
		JOIN evidence e ON e.id = ec.evidence_id
		WHERE e.case_id=$1
		ORDER BY ec.created_at
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("load evidence links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var evidenceID, claimID string
		if err := linkRows.Scan(&evidenceID, &claimID); err != nil {
			return nil, fmt.Errorf("scan evidence link: %w", err)
		}
		if e, ok := g.Evidence[evidenceID]; ok {
			e.Claims = append(e.Claims, claimID)
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence links: %w", err)
	}

	return g, nil
}

// ── inserts ──

func (s *PostgresStore) InsertGoal(ctx context.Context, goal *casegraph.Goal) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO goals (id, case_id, name, short_desc, long_desc, keywords, assumption)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, created_at
	`, goal.ID, goal.CaseID, goal.Name, goal.ShortDesc, goal.LongDesc, goal.Keywords, goal.Assumption).
		Scan(&goal.Seq, &goal.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertContext(ctx context.Context, c *casegraph.Context) error {
	goalID, _, _ := parentColumns(c.Parent)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contexts (id, case_id, name, short_desc, long_desc, goal_id, in_sandbox)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, created_at
	`, c.ID, c.CaseID, c.Name, c.ShortDesc, c.LongDesc, goalID, c.Parent.IsDetached()).
		Scan(&c.Seq, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert context: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertStrategy(ctx context.Context, st *casegraph.Strategy) error {
	goalID, _, _ := parentColumns(st.Parent)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO strategies (id, case_id, name, short_desc, long_desc, assumption, justification, goal_id, in_sandbox)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq, created_at
	`, st.ID, st.CaseID, st.Name, st.ShortDesc, st.LongDesc, st.Assumption, st.Justification, goalID, st.Parent.IsDetached()).
		Scan(&st.Seq, &st.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertClaim(ctx context.Context, c *casegraph.PropertyClaim) error {
	goalID, strategyID, parentClaimID := parentColumns(c.Parent)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO property_claims (id, case_id, name, short_desc, long_desc, assumption, claim_type, level,
			goal_id, strategy_id, parent_claim_id, in_sandbox)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq, created_at
	`, c.ID, c.CaseID, c.Name, c.ShortDesc, c.LongDesc, c.Assumption, string(c.ClaimType), c.Level,
		goalID, strategyID, parentClaimID, c.Parent.IsDetached()).
		Scan(&c.Seq, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert property claim: %w", err)
	}
	return nil
}

// Evidence sandbox state is not stored; it is derived from the presence of
// evidence_claims rows, which FK cascades keep correct on claim deletion.
func (s *PostgresStore) InsertEvidence(ctx context.Context, e *casegraph.Evidence) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO evidence (id, case_id, name, short_desc, long_desc, url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq, created_at
	`, e.ID, e.CaseID, e.Name, e.ShortDesc, e.LongDesc, e.URL).
		Scan(&e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	for _, claimID := range e.Claims {
		if err := s.InsertEvidenceLink(ctx, e.ID, claimID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) InsertEvidenceLink(ctx context.Context, evidenceID, claimID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_claims (evidence_id, claim_id)
		VALUES ($1, $2)
		ON CONFLICT (evidence_id, claim_id) DO NOTHING
	`, evidenceID, claimID)
	if err != nil {
		return fmt.Errorf("insert evidence link: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEvidenceLink(ctx context.Context, evidenceID, claimID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM evidence_claims WHERE evidence_id=$1 AND claim_id=$2
	`, evidenceID, claimID)
	if err != nil {
		return fmt.Errorf("delete evidence link: %w", err)
	}
	return nil
}

// ── field patches (optimistic; expectedVersion 0 skips the check) ──

func (s *PostgresStore) UpdateGoal(ctx context.Context, goal *casegraph.Goal, expectedVersion int64) (bool, error) {
	return s.patch(ctx, `
		UPDATE goals SET name=$2, short_desc=$3, long_desc=$4, keywords=$5, assumption=$6, version=version+1
		WHERE id=$1 AND ($7 = 0 OR version = $7)
	`, goal.ID, goal.Name, goal.ShortDesc, goal.LongDesc, goal.Keywords, goal.Assumption, expectedVersion)
}

func (s *PostgresStore) UpdateContext(ctx context.Context, c *casegraph.Context, expectedVersion int64) (bool, error) {
	return s.patch(ctx, `
		UPDATE contexts SET name=$2, short_desc=$3, long_desc=$4, version=version+1
		WHERE id=$1 AND ($5 = 0 OR version = $5)
	`, c.ID, c.Name, c.ShortDesc, c.LongDesc, expectedVersion)
}

func (s *PostgresStore) UpdateStrategy(ctx context.Context, st *casegraph.Strategy, expectedVersion int64) (bool, error) {
	return s.patch(ctx, `
		UPDATE strategies SET name=$2, short_desc=$3, long_desc=$4, assumption=$5, justification=$6, version=version+1
		WHERE id=$1 AND ($7 = 0 OR version = $7)
	`, st.ID, st.Name, st.ShortDesc, st.LongDesc, st.Assumption, st.Justification, expectedVersion)
}

func (s *PostgresStore) UpdateClaim(ctx context.Context, c *casegraph.PropertyClaim, expectedVersion int64) (bool, error) {
	return s.patch(ctx, `
		UPDATE property_claims SET name=$2, short_desc=$3, long_desc=$4, assumption=$5, claim_type=$6, version=version+1
		WHERE id=$1 AND ($7 = 0 OR version = $7)
	`, c.ID, c.Name, c.ShortDesc, c.LongDesc, c.Assumption, string(c.ClaimType), expectedVersion)
}

func (s *PostgresStore) UpdateEvidence(ctx context.Context, e *casegraph.Evidence, expectedVersion int64) (bool, error) {
	return s.patch(ctx, `
		UPDATE evidence SET name=$2, short_desc=$3, long_desc=$4, url=$5, version=version+1
		WHERE id=$1 AND ($6 = 0 OR version = $6)
	`, e.ID, e.Name, e.ShortDesc, e.LongDesc, e.URL, expectedVersion)
}

func (s *PostgresStore) patch(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("patch element: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("patch element result: %w", err)
	}
	return affected > 0, nil
}

// ── attachment state ──

func (s *PostgresStore) SaveContextAttachment(ctx context.Context, c *casegraph.Context) error {
	goalID, _, _ := parentColumns(c.Parent)
	_, err := s.db.ExecContext(ctx, `
		UPDATE contexts SET goal_id=$2, in_sandbox=$3, name=$4 WHERE id=$1
	`, c.ID, goalID, c.Parent.IsDetached(), c.Name)
	if err != nil {
		return fmt.Errorf("save context attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveStrategyAttachment(ctx context.Context, st *casegraph.Strategy) error {
	goalID, _, _ := parentColumns(st.Parent)
	_, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET goal_id=$2, in_sandbox=$3, name=$4 WHERE id=$1
	`, st.ID, goalID, st.Parent.IsDetached(), st.Name)
	if err != nil {
		return fmt.Errorf("save strategy attachment: %w", err)
	}
	return nil
}

// SaveClaimSubtree writes the root claim's attachment state together with the
// recomputed levels of its descendants. One transaction: a partially moved
// subtree must never become visible.
func (s *PostgresStore) SaveClaimSubtree(ctx context.Context, root *casegraph.PropertyClaim, descendants []*casegraph.PropertyClaim) error {
	goalID, strategyID, parentClaimID := parentColumns(root.Parent)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim subtree tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE property_claims
		SET goal_id=$2, strategy_id=$3, parent_claim_id=$4, in_sandbox=$5, level=$6, name=$7
		WHERE id=$1
	`, root.ID, goalID, strategyID, parentClaimID, root.Parent.IsDetached(), root.Level, root.Name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save claim attachment: %w", err)
	}
	for _, c := range descendants {
		if _, err := tx.ExecContext(ctx, `UPDATE property_claims SET level=$2 WHERE id=$1`, c.ID, c.Level); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update claim level: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim subtree: %w", err)
	}
	return nil
}

// ── deletes (parent foreign keys cascade) ──

func (s *PostgresStore) DeleteGoal(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "goals", id)
}

func (s *PostgresStore) DeleteContext(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "contexts", id)
}

func (s *PostgresStore) DeleteStrategy(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "strategies", id)
}

func (s *PostgresStore) DeleteClaim(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "property_claims", id)
}

func (s *PostgresStore) DeleteEvidence(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "evidence", id)
}

func (s *PostgresStore) deleteRow(ctx context.Context, table, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// ── renames and lookups ──

type ElementRename struct {
	Kind casegraph.Kind
	ID   string
	Name string
}

func elementTable(kind casegraph.Kind) (string, error) {
	switch kind {
	case casegraph.KindGoal:
		return "goals", nil
	case casegraph.KindContext:
		return "contexts", nil
	case casegraph.KindStrategy:
		return "strategies", nil
	case casegraph.KindPropertyClaim:
		return "property_claims", nil
	case casegraph.KindEvidence:
		return "evidence", nil
	default:
		return "", fmt.Errorf("unknown element kind %q", kind)
	}
}

// ApplyRenames writes the result of a re-identification pass in one
// transaction.
func (s *PostgresStore) ApplyRenames(ctx context.Context, renames []ElementRename) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin renames tx: %w", err)
	}
	for _, r := range renames {
		table, err := elementTable(r.Kind)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET name=$2 WHERE id=$1`, r.ID, r.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("rename element: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit renames: %w", err)
	}
	return nil
}

// ElementCase resolves which case an element of the given kind belongs to.
func (s *PostgresStore) ElementCase(ctx context.Context, kind casegraph.Kind, id string) (string, error) {
	table, err := elementTable(kind)
	if err != nil {
		return "", err
	}
	var caseID string
	if err := s.db.QueryRowContext(ctx, `SELECT case_id FROM `+table+` WHERE id=$1`, id).Scan(&caseID); err != nil {
		return "", err
	}
	return caseID, nil
}
