package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-nosql/internal/domain"
)

// AccountFlagRepo provides typed DynamoDB operations for the account flags table.
// PK: identity
type AccountFlagRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewAccountFlagRepo(client *dynamodb.Client, tableName string) *AccountFlagRepo {
	return &AccountFlagRepo{client: client, tableName: tableName}
}

// Upsert sets the flag fields on the identity's item, creating it if absent,
// and returns the stored item.
func (r *AccountFlagRepo) Upsert(ctx context.Context, f *domain.AccountFlag) (*domain.AccountFlag, error) {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldVerified:  f.Verified,
		fieldMethod:    f.Method,
		fieldUpdatedAt: f.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldIdentity, f.Identity),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, err
	}
	var stored domain.AccountFlag
	if err := attributevalue.UnmarshalMap(out.Attributes, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal account flag: %w", err)
	}
	return &stored, nil
}

func (r *AccountFlagRepo) Get(ctx context.Context, identity string) (*domain.AccountFlag, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldIdentity, identity),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("account flag not found: %w", domain.ErrNotFound)
	}
	var f domain.AccountFlag
	if err := attributevalue.UnmarshalMap(out.Item, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
