package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"grindset-agent/internal/domain"
)

func goalSK(goalID string) string {
	return skPrefixGoal + goalID
}

// PutGoal creates or replaces a goal.
func (c *Client) PutGoal(ctx context.Context, g domain.Goal) error {
	if g.UserID == "" || g.ID == "" {
		return errors.New("repository: PutGoal: user id and goal id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      goalItem(g),
	})
	if err != nil {
		return fmt.Errorf("repository: PutGoal: %w", err)
	}
	return nil
}

// GetGoal returns domain.ErrNotFound when the goal does not exist.
func (c *Client) GetGoal(ctx context.Context, userID, goalID string) (domain.Goal, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(userPK(userID), goalSK(goalID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Goal{}, fmt.Errorf("repository: GetGoal get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Goal{}, domain.ErrNotFound
	}
	g, err := itemToGoal(out.Item)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("repository: GetGoal unmarshal: %w", err)
	}
	return g, nil
}

// ListGoals returns every goal of the user, newest first.
func (c *Client) ListGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	// Goal ids are UUIDv7, so descending SK order is newest-created first.
	items, err := c.queryAll(ctx, c.prefixQuery(userID, skPrefixGoal, false), nil)
	if err != nil {
		return nil, fmt.Errorf("repository: ListGoals query: %w", err)
	}
	goals := make([]domain.Goal, 0, len(items))
	for _, item := range items {
		g, err := itemToGoal(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListGoals unmarshal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, nil
}

// DeleteGoal removes every task of the goal and then the goal itself, so a
// failed call leaves the goal in place and can be retried.
func (c *Client) DeleteGoal(ctx context.Context, userID, goalID string) error {
	tasks, err := c.ListGoalTasks(ctx, userID, goalID)
	if err != nil {
		return fmt.Errorf("repository: DeleteGoal: %w", err)
	}
	requests := make([]types.WriteRequest, 0, len(tasks))
	for _, t := range tasks {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: itemKey(userPK(userID), taskSK(t.ID))},
		})
	}
	if err := c.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("repository: DeleteGoal tasks: %w", err)
	}

	_, err = c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(userPK(userID), goalSK(goalID)),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("repository: DeleteGoal: %w", err)
	}
	return nil
}

// batchWrite sends requests in chunks and resubmits unprocessed items once.
func (c *Client) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(requests))
		pending := map[string][]types.WriteRequest{c.tableName: requests[start:end]}
		for attempt := 0; attempt < 2 && len(pending) > 0; attempt++ {
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			if out == nil {
				pending = nil
				break
			}
			pending = out.UnprocessedItems
		}
		if len(pending) > 0 {
			return fmt.Errorf("%d requests left unprocessed", len(pending[c.tableName]))
		}
	}
	return nil
}

func goalItem(g domain.Goal) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                   strVal(userPK(g.UserID)),
		"SK":                   strVal(goalSK(g.ID)),
		"id":                   strVal(g.ID),
		"userId":               strVal(g.UserID),
		"title":                strVal(g.Title),
		"description":          strVal(g.Description),
		"icon":                 strVal(g.Icon),
		"targetOutcome":        strVal(g.TargetOutcome),
		"existingCapabilities": strVal(g.ExistingCapabilities),
		"durationDays":         intVal(g.DurationDays),
		"createdAt":            strVal(formatTime(g.CreatedAt)),
		"updatedAt":            strVal(formatTime(g.UpdatedAt)),
		"feasible":             &types.AttributeValueMemberBOOL{Value: g.Feasible},
		"feasibilityReason":    strVal(g.FeasibilityReason),
	}
}

func itemToGoal(item map[string]types.AttributeValue) (domain.Goal, error) {
	var (
		g   domain.Goal
		err error
	)
	if g.ID, err = strAttr(item, "id"); err != nil {
		return domain.Goal{}, err
	}
	if g.UserID, err = strAttr(item, "userId"); err != nil {
		return domain.Goal{}, err
	}
	if g.Title, err = strAttr(item, "title"); err != nil {
		return domain.Goal{}, err
	}
	if g.DurationDays, err = intAttr(item, "durationDays"); err != nil {
		return domain.Goal{}, err
	}
	if g.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Goal{}, err
	}
	if g.Feasible, err = boolAttr(item, "feasible"); err != nil {
		return domain.Goal{}, err
	}
	// allow empty
	g.Description, _ = optStrAttr(item, "description")
	g.Icon, _ = optStrAttr(item, "icon")
	g.TargetOutcome, _ = optStrAttr(item, "targetOutcome")
	g.ExistingCapabilities, _ = optStrAttr(item, "existingCapabilities")
	g.FeasibilityReason, _ = optStrAttr(item, "feasibilityReason")
	if updated, err := timeAttr(item, "updatedAt"); err == nil {
		g.UpdatedAt = updated
	} else {
		g.UpdatedAt = g.CreatedAt
	}
	return g, nil
}
