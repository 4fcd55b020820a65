package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/voltmart/voltmart/internal/models"
)

// ErrOTPNotFound is returned by mutations that require an existing record.
var ErrOTPNotFound = errors.New("otp record not found")

type OTPRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewOTPRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Put writes the record, replacing any existing one for the same phone.
// The TTL attribute lets DynamoDB reap expired items; reads never rely on
// that reaping having happened.
func (r *OTPRepository) Put(ctx context.Context, record *models.OTPRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP record: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: record.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: record.GetSK()}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", record.ExpiresAt.Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP record in DynamoDB")
		return fmt.Errorf("failed to store OTP record: %w", err)
	}

	return nil
}

// Get returns the record for the phone, or nil if none exists.
func (r *OTPRepository) Get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	rec := &models.OTPRecord{Phone: phone}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: rec.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: rec.GetSK()},
		},
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to get OTP record from DynamoDB")
		return nil, fmt.Errorf("failed to get OTP record: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var record models.OTPRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP record: %w", err)
	}
	record.Phone = phone

	return &record, nil
}

// Delete removes the record for the phone. Deleting an absent record is
// not an error.
func (r *OTPRepository) Delete(ctx context.Context, phone string) error {
	rec := &models.OTPRecord{Phone: phone}

	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: rec.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: rec.GetSK()},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}

	return nil
}

// IncrementAttempts bumps the attempt counter atomically and returns the
// new value. DynamoDB performs the read-modify-write, so concurrent failed
// verifications for the same phone cannot lose counts.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	rec := &models.OTPRecord{Phone: phone}

	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: rec.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: rec.GetSK()},
		},
		UpdateExpression:    aws.String("ADD Attempts :one"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})

	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return 0, ErrOTPNotFound
		}
		r.logger.WithError(err).Error("Failed to increment OTP attempts in DynamoDB")
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	var updated models.OTPRecord
	if err := attributevalue.UnmarshalMap(result.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("failed to unmarshal updated OTP record: %w", err)
	}

	return updated.Attempts, nil
}

// SetVerificationRef stores the delivery gateway's correlation handle on
// the existing record. Returns ErrOTPNotFound if the record is already
// gone (consumed or reaped between send and store).
func (r *OTPRepository) SetVerificationRef(ctx context.Context, phone, reference string) error {
	rec := &models.OTPRecord{Phone: phone}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: rec.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: rec.GetSK()},
		},
		UpdateExpression:    aws.String("SET VerificationRef = :ref"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: reference},
		},
	})

	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrOTPNotFound
		}
		r.logger.WithError(err).Error("Failed to set verification reference in DynamoDB")
		return fmt.Errorf("failed to set verification reference: %w", err)
	}

	return nil
}

// Stats scans the OTP partition and counts records relative to now.
// Operational visibility only; the scan is acceptable at this table's size.
func (r *OTPRepository) Stats(ctx context.Context, now time.Time) (*models.OTPStats, error) {
	stats := &models.OTPStats{}

	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: "OTP#"},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			r.logger.WithError(err).Error("Failed to scan OTP records in DynamoDB")
			return nil, fmt.Errorf("failed to scan OTP records: %w", err)
		}

		for _, item := range page.Items {
			var record models.OTPRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal OTP record: %w", err)
			}
			stats.Total++
			if record.Expired(now) {
				stats.Expired++
			} else {
				stats.Active++
			}
		}
	}

	return stats, nil
}
