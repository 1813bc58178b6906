package questions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/triviaroom/go/internal/models"
)

// Schema creates the question bank tables.
const Schema = `
CREATE TABLE IF NOT EXISTS subjects (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS questions (
    id                BIGSERIAL PRIMARY KEY,
    subject_id        BIGINT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
    text              TEXT NOT NULL,
    correct_answer_id BIGINT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (subject_id, text)
);
CREATE TABLE IF NOT EXISTS answers (
    id          BIGSERIAL PRIMARY KEY,
    question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
    text        TEXT NOT NULL,
    is_correct  BOOLEAN NOT NULL DEFAULT false
);`

// PostgresStore reads the question bank from Postgres through pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Subjects(ctx context.Context) ([]models.Subject, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT s.id, s.name, s.created_at, count(q.id)
        FROM subjects s
        LEFT JOIN questions q ON q.subject_id = s.id
        GROUP BY s.id
        ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var out []models.Subject
	for rows.Next() {
		var sub models.Subject
		var created time.Time
		if err := rows.Scan(&sub.ID, &sub.Name, &created, &sub.QuestionCount); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		sub.CreatedAt = created.UTC().Format(time.RFC3339)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RandomQuestions(ctx context.Context, subjectID int64, count int) ([]models.Question, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1)`, subjectID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up subject: %w", err)
	}
	if !exists {
		return nil, ErrSubjectNotFound
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, subject_id, text, COALESCE(correct_answer_id, 0), created_at
        FROM questions
        WHERE subject_id = $1
        ORDER BY random()
        LIMIT $2`, subjectID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Question, error) {
		var q models.Question
		var created time.Time
		err := row.Scan(&q.ID, &q.SubjectID, &q.Text, &q.CorrectAnswerID, &created)
		q.CreatedAt = created.UTC().Format(time.RFC3339)
		return q, err
	})
}

func (s *PostgresStore) Answers(ctx context.Context, questionID int64) ([]models.Answer, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, question_id, text, is_correct
        FROM answers
        WHERE question_id = $1
        ORDER BY id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[models.Answer])
}

// Import writes a bank into the database, skipping questions that already
// exist. It returns the number of inserted questions.
func Import(ctx context.Context, pool *pgxpool.Pool, b *Bank) (int, error) {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return 0, fmt.Errorf("failed to create schema: %w", err)
	}

	inserted := 0
	for _, bs := range b.Subjects {
		var subjectID int64
		err := pool.QueryRow(ctx, `
            INSERT INTO subjects (name) VALUES ($1)
            ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
            RETURNING id`, bs.Name).Scan(&subjectID)
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert subject %s: %w", bs.Name, err)
		}

		for _, bq := range bs.Questions {
			ok, err := importQuestion(ctx, pool, subjectID, bq)
			if err != nil {
				return inserted, err
			}
			if ok {
				inserted++
			}
		}
	}
	return inserted, nil
}

func importQuestion(ctx context.Context, pool *pgxpool.Pool, subjectID int64, bq BankQuestion) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var questionID int64
	err = tx.QueryRow(ctx, `
        INSERT INTO questions (subject_id, text) VALUES ($1, $2)
        ON CONFLICT (subject_id, text) DO NOTHING
        RETURNING id`, subjectID, bq.Text).Scan(&questionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert question %q: %w", bq.Text, err)
	}

	for _, ba := range bq.Answers {
		var answerID int64
		err := tx.QueryRow(ctx, `
            INSERT INTO answers (question_id, text, is_correct) VALUES ($1, $2, $3)
            RETURNING id`, questionID, ba.Text, ba.Correct).Scan(&answerID)
		if err != nil {
			return false, fmt.Errorf("failed to insert answer: %w", err)
		}
		if ba.Correct {
			if _, err := tx.Exec(ctx, `UPDATE questions SET correct_answer_id = $2 WHERE id = $1`, questionID, answerID); err != nil {
				return false, fmt.Errorf("failed to set correct answer: %w", err)
			}
		}
	}
	return true, tx.Commit(ctx)
}
