package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	stripPrefix   = "STRIP#"
	sessionPrefix = "SESSION#"
	skMeta        = "META"
	ttlAttribute  = "expiresAt"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore implements Store using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// --- Internal helpers ---

func stripPK(id string) string   { return stripPrefix + id }
func sessionPK(id string) string { return sessionPrefix + id }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// putItem marshals a domain object and writes it to DynamoDB with PK, SK, and TTL.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, expiresAt int64, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	// Add key and TTL attributes (overwrite any conflicting keys from the data).
	for k, v := range itemKey(pk, sk) {
		item[k] = v
	}
	item[ttlAttribute] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist or its TTL has passed.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, int64, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       itemKey(pk, sk),
	})
	if err != nil {
		return false, 0, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, 0, nil
	}

	var ttl int64
	if av, ok := result.Item[ttlAttribute].(*types.AttributeValueMemberN); ok {
		ttl, _ = strconv.ParseInt(av.Value, 10, 64)
	}
	if ttl > 0 && s.now().Unix() >= ttl {
		log.Debug().Str("pk", pk).Int64("expiresAt", ttl).Msg("Ignoring expired item")
		return false, 0, nil
	}

	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, 0, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, ttl, nil
}

// deleteItem removes a single item from DynamoDB by PK/SK.
func (s *DynamoStore) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       itemKey(pk, sk),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// --- Strips ---

func (s *DynamoStore) PutStrip(ctx context.Context, strip *Strip) error {
	if strip == nil || strip.ID == "" {
		return errors.New("strip ID is required")
	}
	now := s.now()
	if strip.CreatedAt == 0 {
		strip.CreatedAt = now.Unix()
	}
	strip.ExpiresAt = now.Add(RecordTTL).Unix()
	if err := s.putItem(ctx, stripPK(strip.ID), skMeta, strip.ExpiresAt, strip); err != nil {
		return err
	}
	log.Debug().Str("stripId", strip.ID).Str("sessionId", strip.SessionID).Msg("Strip record stored")
	return nil
}

func (s *DynamoStore) GetStrip(ctx context.Context, id string) (*Strip, error) {
	var strip Strip
	found, ttl, err := s.getItem(ctx, stripPK(id), skMeta, &strip)
	if err != nil || !found {
		return nil, err
	}
	strip.ID = id
	strip.ExpiresAt = ttl
	return &strip, nil
}

func (s *DynamoStore) DeleteStrip(ctx context.Context, id string) error {
	return s.deleteItem(ctx, stripPK(id), skMeta)
}

// --- Sessions ---

func (s *DynamoStore) PutSession(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID is required")
	}
	return s.putItem(ctx, sessionPK(session.ID), skMeta, s.now().Add(RecordTTL).Unix(), session)
}

func (s *DynamoStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	found, _, err := s.getItem(ctx, sessionPK(id), skMeta, &session)
	if err != nil || !found {
		return nil, err
	}
	session.ID = id
	return &session, nil
}
