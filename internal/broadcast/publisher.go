package broadcast

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/docstore"
	"notifyd/internal/identity"
	logx "notifyd/pkg/logx"
)

// Publisher is the engine's single write path: operators emit broadcasts
// through it with the fixed field set the store contract names.
type Publisher struct {
	coll docstore.Collection
	log  logx.Logger
}

func NewPublisher(coll docstore.Collection, log logx.Logger) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{coll: coll, log: log}
}

// Publish writes a new broadcast document and returns its minted id.
func (p *Publisher) Publish(ctx context.Context, msg Message, createdBy identity.UserID) (string, error) {
	if strings.TrimSpace(msg.Title) == "" {
		return "", errors.New("broadcast title is required")
	}
	target := msg.Target
	if target == "" {
		target = TargetAll
	}
	if target == TargetUser && msg.TargetUserID == "" {
		return "", errors.New("user-targeted broadcast requires a target user id")
	}

	id := uuid.NewString()
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	doc := docstore.Document{
		ID: id,
		Fields: map[string]any{
			FieldTitle:     msg.Title,
			FieldBody:      msg.Body,
			FieldType:      "broadcast",
			FieldTarget:    target,
			FieldTargetUID: msg.TargetUserID,
			FieldURL:       msg.URL,
			FieldCreatedBy: string(createdBy),
			FieldCreatedAt: createdAt,
		},
	}
	if err := p.coll.Put(ctx, doc); err != nil {
		return "", err
	}
	p.log.Info("broadcast published", logx.String("id", id), logx.String("target", target))
	return id, nil
}
