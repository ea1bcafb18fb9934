package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sharedoc/internal/document/model"
)

type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

// GetOrCreate returns the room's document, inserting an empty one first
// when the room has never been used.
func (r *DocumentRepository) GetOrCreate(ctx context.Context, roomID string) (*model.Document, error) {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO shared_documents (room_id, content, created_at, updated_at)
		VALUES ($1, '', NOW(), NOW()) ON CONFLICT (room_id) DO NOTHING`, roomID)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	doc, err := r.Find(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document for room %s vanished after insert", roomID)
	}
	return doc, nil
}

// Find returns nil when the room has no document.
func (r *DocumentRepository) Find(ctx context.Context, roomID string) (*model.Document, error) {
	var doc model.Document
	err := r.DB.QueryRowContext(ctx, `SELECT room_id, content, updated_at FROM shared_documents WHERE room_id = $1`, roomID).
		Scan(&doc.RoomID, &doc.Content, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) UpdateContent(ctx context.Context, roomID, content string) (*model.Document, error) {
	var doc model.Document
	err := r.DB.QueryRowContext(ctx, `UPDATE shared_documents SET content = $2, updated_at = NOW()
		WHERE room_id = $1 RETURNING room_id, content, updated_at`, roomID, content).
		Scan(&doc.RoomID, &doc.Content, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update document content: %w", err)
	}
	return &doc, nil
}

// ReferencedElsewhere reports whether filename occurs anywhere in the content
// of a document other than roomID's. The single statement reads one
// consistent snapshot of every document.
func (r *DocumentRepository) ReferencedElsewhere(ctx context.Context, roomID, filename string) (bool, error) {
	var referenced bool
	err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(
			SELECT 1 FROM shared_documents WHERE room_id <> $1 AND position($2 in content) > 0
		)`, roomID, filename).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("check image references: %w", err)
	}
	return referenced, nil
}
