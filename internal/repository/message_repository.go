package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendly/attendly-api/internal/models"
)

// MessageRepository handles persistence of announcements.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, course_id, author_id, title, body, created_at, updated_at`

// Create inserts a new announcement.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	const query = `INSERT INTO messages (id, course_id, author_id, title, body, created_at, updated_at)
        VALUES (:id, :course_id, :author_id, :title, :body, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// FindByID returns an announcement by id.
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		return nil, err
	}
	return &msg, nil
}

// List returns announcements matching the filter, newest first, with the
// total count for pagination.
func (r *MessageRepository) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int, error) {
	conditions := []string{"1=1"}
	args := map[string]interface{}{}
	if filter.CourseID != "" {
		conditions = append(conditions, "course_id = :course_id")
		args["course_id"] = filter.CourseID
	}
	if filter.AuthorID != "" {
		conditions = append(conditions, "author_id = :author_id")
		args["author_id"] = filter.AuthorID
	}
	if filter.Search != "" {
		conditions = append(conditions, "title ILIKE :search")
		args["search"] = "%" + filter.Search + "%"
	}
	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM messages WHERE %s`, where)
	rows, err := r.db.NamedQueryContext(ctx, countQuery, args)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	var total int
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan message count: %w", err)
		}
	}
	rows.Close()

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	args["limit"] = pageSize
	args["offset"] = (page - 1) * pageSize
	listQuery := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY created_at DESC LIMIT :limit OFFSET :offset`, messageColumns, where)
	rows, err = r.db.NamedQueryContext(ctx, listQuery, args)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.StructScan(&msg); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, total, rows.Err()
}

// Update rewrites the title and body of an announcement.
func (r *MessageRepository) Update(ctx context.Context, msg *models.Message) error {
	msg.UpdatedAt = time.Now().UTC()
	const query = `UPDATE messages SET title = :title, body = :body, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, msg)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an announcement.
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
