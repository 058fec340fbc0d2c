package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/studycrew-backend/internal/chat"
	"github.com/AnshRaj112/studycrew-backend/internal/models"
)

const chatMessagesCollection = "chat_messages"

// messageDoc is the flat MongoDB representation of models.Message.
type messageDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	GroupID      string             `bson:"group_id"`
	SenderID     string             `bson:"sender_id"`
	Username     string             `bson:"username,omitempty"`
	Type         string             `bson:"type"`
	Text         *string            `bson:"text"`
	File         *models.FileMeta   `bson:"file,omitempty"`
	ReplyTo      string             `bson:"reply_to,omitempty"`
	ClientTempID string             `bson:"client_temp_id,omitempty"`
	Edited       bool               `bson:"edited"`
	Deleted      bool               `bson:"deleted"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

func toDoc(m *models.Message) messageDoc {
	d := messageDoc{
		GroupID:      m.GroupID,
		SenderID:     m.Sender.ID,
		Username:     m.Sender.Username,
		Type:         string(m.Kind),
		ReplyTo:      m.ReplyTo,
		ClientTempID: m.ClientTempID,
		Edited:       m.Edited,
		Deleted:      m.Deleted,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if text, ok := m.Text(); ok {
		d.Text = &text
	}
	if f, ok := m.File(); ok {
		d.File = &f
	}
	return d
}

func (d messageDoc) toMessage() (*models.Message, error) {
	kind, ok := models.ParseMessageKind(d.Type)
	if !ok {
		return nil, fmt.Errorf("message %s: unknown type %q", d.ID.Hex(), d.Type)
	}
	m := &models.Message{
		ID:           d.ID.Hex(),
		GroupID:      d.GroupID,
		Sender:       models.Sender{ID: d.SenderID, Username: d.Username},
		Kind:         kind,
		ReplyTo:      d.ReplyTo,
		ClientTempID: d.ClientTempID,
		Edited:       d.Edited,
		Deleted:      d.Deleted,
		// Mongo stores milliseconds in UTC.
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if d.Deleted {
		return m, nil
	}

	text := ""
	if d.Text != nil {
		text = *d.Text
	}
	content, err := models.NewContent(kind, text, d.File)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", d.ID.Hex(), err)
	}
	m.Content = content
	return m, nil
}

// MongoMessageStore is the durable chat.MessageStore.
type MongoMessageStore struct {
	col *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{col: db.Collection(chatMessagesCollection)}
}

// EnsureChatIndexes configures indexes for the chat_messages collection.
// Called on startup from main after Mongo has connected.
func (s *MongoMessageStore) EnsureChatIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "group_id", Value: 1},
				{Key: "created_at", Value: -1},
				{Key: "_id", Value: -1},
			},
			Options: options.Index().SetName("idx_group_created_at"),
		},
		{
			// Idempotency: one message per (sender, client temp id).
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "client_temp_id", Value: 1},
			},
			Options: options.Index().
				SetName("uniq_sender_client_temp_id").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"client_temp_id": bson.M{"$type": "string"}}),
		},
	}

	if _, err := s.col.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create chat indexes: %w", err)
	}
	return nil
}

func (s *MongoMessageStore) Insert(ctx context.Context, msg *models.Message) error {
	doc := toDoc(msg)
	doc.ID = primitive.NewObjectID()

	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return chat.ErrDuplicateMessage
		}
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID = doc.ID.Hex()
	return nil
}

func (s *MongoMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, chat.ErrMessageNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoMessageStore) FindByClientTempID(ctx context.Context, senderID, clientTempID string) (*models.Message, error) {
	return s.findOne(ctx, bson.M{"sender_id": senderID, "client_temp_id": clientTempID})
}

func (s *MongoMessageStore) findOne(ctx context.Context, filter bson.M) (*models.Message, error) {
	var doc messageDoc
	err := s.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return doc.toMessage()
}

func (s *MongoMessageStore) UpdateText(ctx context.Context, id, text string, at time.Time) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, chat.ErrMessageNotFound
	}

	var value *string
	if text != "" {
		value = &text
	}
	update := bson.M{"$set": bson.M{"text": value, "edited": true, "updated_at": at}}
	return s.findOneAndUpdate(ctx, bson.M{"_id": oid, "deleted": false}, update)
}

func (s *MongoMessageStore) Tombstone(ctx context.Context, id string, at time.Time) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, chat.ErrMessageNotFound
	}

	update := bson.M{
		"$set":   bson.M{"deleted": true, "text": nil, "updated_at": at},
		"$unset": bson.M{"file": ""},
	}
	msg, err := s.findOneAndUpdate(ctx, bson.M{"_id": oid, "deleted": false}, update)
	if errors.Is(err, chat.ErrMessageNotFound) {
		// Already a tombstone, or gone.
		return s.Get(ctx, id)
	}
	return msg, err
}

func (s *MongoMessageStore) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*models.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc messageDoc
	err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return doc.toMessage()
}

// List returns chat history for a group. Pagination is keyed on
// (created_at, _id), newest-first in the query and reversed for the caller.
func (s *MongoMessageStore) List(ctx context.Context, groupID string, before chat.Cursor, limit int) ([]models.Message, bool, error) {
	filter := bson.M{
		"group_id": groupID,
		"deleted":  false,
	}
	if !before.IsZero() {
		older := bson.M{"created_at": bson.M{"$lt": before.Before.UTC()}}
		if oid, err := primitive.ObjectIDFromHex(before.MessageID); err == nil {
			filter["$or"] = bson.A{
				older,
				bson.M{"created_at": before.Before.UTC(), "_id": bson.M{"$lt": oid}},
			}
		} else {
			filter["created_at"] = older["created_at"]
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit) + 1)

	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	var msgs []models.Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, false, fmt.Errorf("decode message: %w", err)
		}
		m, err := doc.toMessage()
		if err != nil {
			return nil, false, err
		}
		msgs = append(msgs, *m)
	}
	if err := cur.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	// Reverse to oldest-first for the UI.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, hasMore, nil
}
