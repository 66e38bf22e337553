package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type DraftSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body,omitempty"`
}

// Draft is the artifact the review flow gates on: a generated document
// awaiting a human verdict.
type Draft struct {
	ID        string         `json:"artifactId"`
	Title     string         `json:"title"`
	Sections  []DraftSection `json:"sections,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DraftStore keeps drafts for the lifetime of the process. Both draft
// tools share one store so update_document can find what
// create_document produced.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]*Draft
}

func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[string]*Draft)}
}

func (s *DraftStore) Get(id string) (*Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[id]
	return draft, ok
}

func (s *DraftStore) put(draft *Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draft.ID] = draft
}

type createDocumentArgs struct {
	Title    string         `json:"title"`
	Sections []DraftSection `json:"sections,omitempty"`
}

func NewCreateDocument(store *DraftStore) Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Title of the document to draft.",
			},
			"sections": map[string]any{
				"type":        "array",
				"description": "Document sections, each with a heading and optional body.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"heading": map[string]any{"type": "string"},
						"body":    map[string]any{"type": "string"},
					},
					"required": []string{"heading"},
				},
			},
		},
		"required": []string{"title"},
	}

	return NewFuncTool(
		"create_document",
		"Create a new draft document. The draft is held for human review before it is published.",
		schema,
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in createDocumentArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid create_document args: %w", err)
			}
			if in.Title == "" {
				return nil, fmt.Errorf("title is required")
			}
			now := time.Now().UTC()
			draft := &Draft{
				ID:        "doc_" + uuid.NewString(),
				Title:     in.Title,
				Sections:  in.Sections,
				CreatedAt: now,
				UpdatedAt: now,
			}
			store.put(draft)
			return map[string]any{
				"artifactId": draft.ID,
				"title":      draft.Title,
				"itemCount":  len(draft.Sections),
			}, nil
		},
	)
}

type updateDocumentArgs struct {
	ArtifactID string         `json:"artifactId"`
	Title      string         `json:"title,omitempty"`
	Sections   []DraftSection `json:"sections,omitempty"`
}

func NewUpdateDocument(store *DraftStore) Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"artifactId": map[string]any{
				"type":        "string",
				"description": "Identifier of the draft to update.",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "New title, if it changes.",
			},
			"sections": map[string]any{
				"type":        "array",
				"description": "Replacement sections.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"heading": map[string]any{"type": "string"},
						"body":    map[string]any{"type": "string"},
					},
					"required": []string{"heading"},
				},
			},
		},
		"required": []string{"artifactId"},
	}

	return NewFuncTool(
		"update_document",
		"Update an existing draft document. The updated draft goes back through human review.",
		schema,
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in updateDocumentArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid update_document args: %w", err)
			}
			if in.ArtifactID == "" {
				return nil, fmt.Errorf("artifactId is required")
			}
			draft, ok := store.Get(in.ArtifactID)
			if !ok {
				return nil, fmt.Errorf("draft %q not found", in.ArtifactID)
			}
			if in.Title != "" {
				draft.Title = in.Title
			}
			if in.Sections != nil {
				draft.Sections = in.Sections
			}
			draft.UpdatedAt = time.Now().UTC()
			store.put(draft)
			return map[string]any{
				"artifactId": draft.ID,
				"title":      draft.Title,
				"itemCount":  len(draft.Sections),
			}, nil
		},
	)
}
