package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-nosql/internal/domain"
	"github.com/go-otp-nosql/internal/pkg/id"
)

// OTPRepo stores issued codes.
// PK: identity, SK: record_id (ULID, so the sort order is issuance time).
// Items carry a "ttl" attribute so DynamoDB evicts them after expiry plus
// the retention window.
type OTPRepo struct {
	client    *dynamodb.Client
	tableName string
	retention time.Duration
}

func NewOTPRepo(client *dynamodb.Client, tableName string, retention time.Duration) *OTPRepo {
	return &OTPRepo{client: client, tableName: tableName, retention: retention}
}

type otpItem struct {
	Identity    string `dynamodbav:"identity"`
	RecordID    string `dynamodbav:"record_id"`
	Code        string `dynamodbav:"code"`
	CreatedAt   string `dynamodbav:"created_at"`
	ExpiresAtMs int64  `dynamodbav:"expires_at_ms"`
	Used        bool   `dynamodbav:"used"`
	VerifiedAt  string `dynamodbav:"verified_at,omitempty"`
	TTL         int64  `dynamodbav:"ttl"`
}

func newOTPItem(rec *domain.OTPRecord, recordID string, retention time.Duration) otpItem {
	it := otpItem{
		Identity:    rec.Identity,
		RecordID:    recordID,
		Code:        rec.Code,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAtMs: rec.ExpiresAt.UnixMilli(),
		Used:        rec.Used,
		TTL:         rec.ExpiresAt.Add(retention).Unix(),
	}
	if rec.VerifiedAt != nil {
		it.VerifiedAt = rec.VerifiedAt.UTC().Format(time.RFC3339Nano)
	}
	return it
}

func (it otpItem) record() (*domain.OTPRecord, error) {
	created, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec := &domain.OTPRecord{
		ID:        it.RecordID,
		Identity:  it.Identity,
		Code:      it.Code,
		CreatedAt: created,
		ExpiresAt: time.UnixMilli(it.ExpiresAtMs).UTC(),
		Used:      it.Used,
	}
	if it.VerifiedAt != "" {
		v, err := time.Parse(time.RFC3339Nano, it.VerifiedAt)
		if err != nil {
			return nil, fmt.Errorf("parse verified_at: %w", err)
		}
		rec.VerifiedAt = &v
	}
	return rec, nil
}

func (r *OTPRepo) Insert(ctx context.Context, rec *domain.OTPRecord) (string, error) {
	recordID := id.NewAt(rec.CreatedAt)
	item, err := attributevalue.MarshalMap(newOTPItem(rec, recordID, r.retention))
	if err != nil {
		return "", fmt.Errorf("marshal otp: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#rid)"),
		ExpressionAttributeNames: map[string]string{
			"#rid": fieldRecordID,
		},
	})
	if err != nil {
		return "", err
	}
	return recordID, nil
}

// sinceQuery selects an identity's records issued at or after since, using
// the ULID timestamp prefix of the sort key.
func (r *OTPRepo) sinceQuery(identity string, since time.Time) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("#id = :id AND #rid >= :lo"),
		ExpressionAttributeNames: map[string]string{
			"#id":  fieldIdentity,
			"#rid": fieldRecordID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: identity},
			":lo": &types.AttributeValueMemberS{Value: id.MinAt(since)},
		},
	}
}

// activeQuery lists an identity's unused, unexpired records matching code,
// newest first.
func (r *OTPRepo) activeQuery(identity, code string, now time.Time) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("#id = :id"),
		FilterExpression:       aws.String("#code = :code AND #used = :false AND #exp >= :now"),
		ExpressionAttributeNames: map[string]string{
			"#id":   fieldIdentity,
			"#code": fieldCode,
			"#used": fieldUsed,
			"#exp":  fieldExpiresAtMs,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":    &types.AttributeValueMemberS{Value: identity},
			":code":  &types.AttributeValueMemberS{Value: code},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprint(now.UnixMilli())},
		},
		ScanIndexForward: aws.Bool(false),
	}
}

func (r *OTPRepo) FindActive(ctx context.Context, identity, code string, now time.Time) (*domain.OTPRecord, error) {
	p := dynamodb.NewQueryPaginator(r.client, r.activeQuery(identity, code, now))
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			var it otpItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, err
			}
			rec, err := it.record()
			if err != nil {
				return nil, err
			}
			// expires_at_ms drops sub-millisecond precision of now
			if rec.Active(now) {
				return rec, nil
			}
		}
	}
	return nil, fmt.Errorf("otp not found: %w", domain.ErrNotFound)
}

func (r *OTPRepo) CountSince(ctx context.Context, identity string, since time.Time) (int, error) {
	in := r.sinceQuery(identity, since)
	in.Select = types.SelectCount
	p := dynamodb.NewQueryPaginator(r.client, in)
	n := 0
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		n += int(out.Count)
	}
	return n, nil
}

func (r *OTPRepo) FindMostRecentSince(ctx context.Context, identity string, since time.Time) (*domain.OTPRecord, error) {
	in := r.sinceQuery(identity, since)
	in.ScanIndexForward = aws.Bool(false)
	in.Limit = aws.Int32(1)
	out, err := r.client.Query(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("otp not found: %w", domain.ErrNotFound)
	}
	var it otpItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &it); err != nil {
		return nil, err
	}
	return it.record()
}

// MarkUsed is a conditional used:false -> true update. A record that is
// already used yields ErrConflict; a missing one yields ErrNotFound.
func (r *OTPRepo) MarkUsed(ctx context.Context, identity, recordID string, verifiedAt time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey(fieldIdentity, identity, fieldRecordID, recordID),
		UpdateExpression:    aws.String("SET #used = :true, #vat = :vat"),
		ConditionExpression: aws.String("attribute_exists(#rid) AND #used = :false"),
		ExpressionAttributeNames: map[string]string{
			"#used": fieldUsed,
			"#vat":  fieldVerifiedAt,
			"#rid":  fieldRecordID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":vat":   &types.AttributeValueMemberS{Value: verifiedAt.UTC().Format(time.RFC3339Nano)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return err
	}
	if len(ccf.Item) == 0 {
		exists, getErr := r.exists(ctx, identity, recordID)
		if getErr != nil {
			return getErr
		}
		if !exists {
			return fmt.Errorf("otp %s not found: %w", recordID, domain.ErrNotFound)
		}
	}
	return fmt.Errorf("otp already used: %w", domain.ErrConflict)
}

func (r *OTPRepo) exists(ctx context.Context, identity, recordID string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.tableName),
		Key:                  compositeKey(fieldIdentity, identity, fieldRecordID, recordID),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("#rid"),
		ExpressionAttributeNames: map[string]string{
			"#rid": fieldRecordID,
		},
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

// InvalidateOutstanding marks every active record for identity as used.
// Records that lose a race with a concurrent update are skipped.
func (r *OTPRepo) InvalidateOutstanding(ctx context.Context, identity string, now time.Time) (int, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		ConsistentRead:         aws.Bool(true),
		KeyConditionExpression: aws.String("#id = :id"),
		FilterExpression:       aws.String("#used = :false AND #exp >= :now"),
		ProjectionExpression:   aws.String("#rid"),
		ExpressionAttributeNames: map[string]string{
			"#id":   fieldIdentity,
			"#rid":  fieldRecordID,
			"#used": fieldUsed,
			"#exp":  fieldExpiresAtMs,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":    &types.AttributeValueMemberS{Value: identity},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprint(now.UnixMilli())},
		},
	}

	p := dynamodb.NewQueryPaginator(r.client, in)
	n := 0
	var firstErr error
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return n, err
		}
		for _, item := range out.Items {
			ridAttr, ok := item[fieldRecordID].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:           aws.String(r.tableName),
				Key:                 compositeKey(fieldIdentity, identity, fieldRecordID, ridAttr.Value),
				UpdateExpression:    aws.String("SET #used = :true"),
				ConditionExpression: aws.String("#used = :false"),
				ExpressionAttributeNames: map[string]string{
					"#used": fieldUsed,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":true":  &types.AttributeValueMemberBOOL{Value: true},
					":false": &types.AttributeValueMemberBOOL{Value: false},
				},
			})
			switch {
			case err == nil:
				n++
			case isConditionFailed(err):
			default:
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return n, firstErr
}
