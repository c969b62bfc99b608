package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wisbric/clusterkeeper/pkg/clustererr"
)

// attribute names, matching spec.md §6's lock-store schema.
const (
	attrClusterName  = "ClusterName"
	attrLockID       = "LockID"
	attrInstanceID   = "InstanceId"
	attrStatus       = "Status"
	attrCreatedAt    = "CreatedAt"
	attrUpdatedAt    = "UpdatedAt"
	attrEtcdMemberID = "EtcdMemberId"
	attrPrivateIP    = "PrivateIp"
	attrHostname     = "Hostname"
	attrRequestID    = "RequestId"

	instanceIndexName = "InstanceIndex"
)

// DynamoStore implements Store on top of a single DynamoDB table with a
// secondary index on InstanceId (spec.md §6).
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore creates a DynamoDB-backed KV-Lock store.
func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) TryAcquire(ctx context.Context, cluster, lockName, holder string, now time.Time) (AcquireResult, error) {
	item := map[string]types.AttributeValue{
		attrClusterName: &types.AttributeValueMemberS{Value: cluster},
		attrLockID:      &types.AttributeValueMemberS{Value: lockName},
		attrInstanceID:  &types.AttributeValueMemberS{Value: holder},
		attrCreatedAt:   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
	}

	cond := expression.AttributeNotExists(expression.Name(attrLockID))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return AcquireResult{}, fmt.Errorf("building acquire condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			held, inspectErr := s.Inspect(ctx, cluster, lockName)
			if inspectErr != nil {
				return AcquireResult{}, fmt.Errorf("inspecting lock held by another holder: %w", inspectErr)
			}
			return AcquireResult{Acquired: false, Held: held}, nil
		}
		return AcquireResult{}, clustererr.NewRetriable(clustererr.KindLockContention, "lock.TryAcquire", err, true)
	}

	return AcquireResult{Acquired: true}, nil
}

func (s *DynamoStore) Release(ctx context.Context, cluster, lockName string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrClusterName: &types.AttributeValueMemberS{Value: cluster},
			attrLockID:      &types.AttributeValueMemberS{Value: lockName},
		},
	})
	if err != nil {
		return fmt.Errorf("releasing lock %s/%s: %w", cluster, lockName, err)
	}
	return nil
}

func (s *DynamoStore) Inspect(ctx context.Context, cluster, lockName string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(cluster, lockName),
		ConsistentRead: aws.Bool(true), // §4.1: reads must be strongly consistent for lock keys
	})
	if err != nil {
		return nil, fmt.Errorf("inspecting lock %s/%s: %w", cluster, lockName, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	rec := fromItem(out.Item)
	return &rec, nil
}

func (s *DynamoStore) PutMember(ctx context.Context, rec Record) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      toItem(rec),
	})
	if err != nil {
		return fmt.Errorf("putting member record %s: %w", rec.LockID, err)
	}
	return nil
}

func (s *DynamoStore) UpdateMemberStatus(ctx context.Context, cluster, memberKey string, status MemberStatus, requestID string, now time.Time) error {
	update := expression.Set(expression.Name(attrStatus), expression.Value(string(status))).
		Set(expression.Name(attrRequestID), expression.Value(requestID)).
		Set(expression.Name(attrUpdatedAt), expression.Value(now.UTC().Format(time.RFC3339)))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("building status update: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(cluster, memberKey),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("updating member status %s/%s: %w", cluster, memberKey, err)
	}
	return nil
}

func (s *DynamoStore) GetMember(ctx context.Context, cluster, memberKey string) (*Record, error) {
	return s.Inspect(ctx, cluster, memberKey)
}

func (s *DynamoStore) QueryByInstance(ctx context.Context, cluster, instanceID string) (*Record, error) {
	keyCond := expression.Key(attrClusterName).Equal(expression.Value(cluster)).
		And(expression.Key(attrInstanceID).Equal(expression.Value(instanceID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("building instance query: %w", err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(instanceIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("querying member by instance %s: %w", instanceID, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	rec := fromItem(out.Items[0])
	return &rec, nil
}

func (s *DynamoStore) DeleteMember(ctx context.Context, cluster, memberKey string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(cluster, memberKey),
	})
	if err != nil {
		return fmt.Errorf("deleting member %s/%s: %w", cluster, memberKey, err)
	}
	return nil
}

func (s *DynamoStore) ListMembers(ctx context.Context, cluster string) ([]Record, error) {
	keyCond := expression.Key(attrClusterName).Equal(expression.Value(cluster)).
		And(expression.Key(attrLockID).BeginsWith("member#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("building member-list query: %w", err)
	}

	var records []Record
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("listing members for cluster %s: %w", cluster, err)
		}
		for _, item := range out.Items {
			records = append(records, fromItem(item))
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return records, nil
}

func key(cluster, lockID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrClusterName: &types.AttributeValueMemberS{Value: cluster},
		attrLockID:      &types.AttributeValueMemberS{Value: lockID},
	}
}

func toItem(rec Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrClusterName: &types.AttributeValueMemberS{Value: rec.ClusterName},
		attrLockID:      &types.AttributeValueMemberS{Value: rec.LockID},
		attrInstanceID:  &types.AttributeValueMemberS{Value: rec.HolderID},
		attrStatus:      &types.AttributeValueMemberS{Value: string(rec.Status)},
		attrCreatedAt:   &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339)},
		attrUpdatedAt:   &types.AttributeValueMemberS{Value: rec.UpdatedAt.UTC().Format(time.RFC3339)},
		attrEtcdMemberID: &types.AttributeValueMemberS{Value: rec.EtcdMemberID},
		attrPrivateIP:    &types.AttributeValueMemberS{Value: rec.PrivateIP},
		attrHostname:     &types.AttributeValueMemberS{Value: rec.Hostname},
		attrRequestID:    &types.AttributeValueMemberS{Value: rec.RequestID},
	}
	return item
}

func fromItem(item map[string]types.AttributeValue) Record {
	get := func(k string) string {
		if v, ok := item[k].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	parseTime := func(k string) time.Time {
		t, _ := time.Parse(time.RFC3339, get(k))
		return t
	}
	return Record{
		ClusterName:  get(attrClusterName),
		LockID:       get(attrLockID),
		HolderID:     get(attrInstanceID),
		Status:       MemberStatus(get(attrStatus)),
		CreatedAt:    parseTime(attrCreatedAt),
		UpdatedAt:    parseTime(attrUpdatedAt),
		EtcdMemberID: get(attrEtcdMemberID),
		PrivateIP:    get(attrPrivateIP),
		Hostname:     get(attrHostname),
		RequestID:    get(attrRequestID),
	}
}
