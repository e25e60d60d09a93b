package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"grindset-agent/internal/domain"
)

func taskSK(taskID string) string {
	return skPrefixTask + taskID
}

// PutTask inserts a new task. Existing tasks are never overwritten.
func (c *Client) PutTask(ctx context.Context, t domain.Task) error {
	if t.UserID == "" || t.ID == "" {
		return errors.New("repository: PutTask: user id and task id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                taskItem(t),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: PutTask: %w", err)
	}
	return nil
}

// GetTask returns domain.ErrNotFound when the task does not exist.
func (c *Client) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(userPK(userID), taskSK(taskID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("repository: GetTask get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	t, err := itemToTask(out.Item)
	if err != nil {
		return domain.Task{}, fmt.Errorf("repository: GetTask unmarshal: %w", err)
	}
	return t, nil
}

// ListTasks returns every task of the user, newest first.
func (c *Client) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	items, err := c.queryAll(ctx, c.prefixQuery(userID, skPrefixTask, false), nil)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTasks query: %w", err)
	}
	tasks, err := itemsToTasks(items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTasks unmarshal: %w", err)
	}
	return tasks, nil
}

// ListGoalTasks returns the tasks of one goal ordered by step.
func (c *Client) ListGoalTasks(ctx context.Context, userID, goalID string) ([]domain.Task, error) {
	in := c.prefixQuery(userID, skPrefixTask, true)
	in.FilterExpression = aws.String("goalId = :goal")
	in.ExpressionAttributeValues[":goal"] = strVal(goalID)

	items, err := c.queryAll(ctx, in, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: ListGoalTasks query: %w", err)
	}
	tasks, err := itemsToTasks(items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListGoalTasks unmarshal: %w", err)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Step < tasks[j].Step })
	return tasks, nil
}

// UpdateTaskStatus sets the status and, when given, the deadline of a task.
func (c *Client) UpdateTaskStatus(ctx context.Context, userID, taskID string, status domain.TaskStatus, deadline *time.Time) error {
	update := "SET #status = :status"
	values := map[string]types.AttributeValue{":status": strVal(string(status))}
	if deadline != nil {
		update += ", deadline = :deadline"
		values[":deadline"] = strVal(formatTime(*deadline))
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       itemKey(userPK(userID), taskSK(taskID)),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("repository: UpdateTaskStatus: %w", err)
	}
	return nil
}

func taskItem(t domain.Task) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          strVal(userPK(t.UserID)),
		"SK":          strVal(taskSK(t.ID)),
		"id":          strVal(t.ID),
		"goalId":      strVal(t.GoalID),
		"userId":      strVal(t.UserID),
		"step":        intVal(t.Step),
		"taskText":    strVal(t.TaskText),
		"reason":      strVal(t.Reason),
		"description": strVal(t.Description),
		"status":      strVal(string(t.Status)),
		"createdAt":   strVal(formatTime(t.CreatedAt)),
	}
	if t.Deadline != nil {
		item["deadline"] = strVal(formatTime(*t.Deadline))
	}
	return item
}

func itemsToTasks(items []map[string]types.AttributeValue) ([]domain.Task, error) {
	tasks := make([]domain.Task, 0, len(items))
	for _, item := range items {
		t, err := itemToTask(item)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func itemToTask(item map[string]types.AttributeValue) (domain.Task, error) {
	var (
		t   domain.Task
		err error
	)
	if t.ID, err = strAttr(item, "id"); err != nil {
		return domain.Task{}, err
	}
	if t.GoalID, err = strAttr(item, "goalId"); err != nil {
		return domain.Task{}, err
	}
	if t.UserID, err = strAttr(item, "userId"); err != nil {
		return domain.Task{}, err
	}
	if t.Step, err = intAttr(item, "step"); err != nil {
		return domain.Task{}, err
	}
	if t.TaskText, err = strAttr(item, "taskText"); err != nil {
		return domain.Task{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.TaskStatus(status)
	if t.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Task{}, err
	}
	t.Reason, _ = optStrAttr(item, "reason")
	t.Description, _ = optStrAttr(item, "description")
	if _, ok := item["deadline"]; ok {
		deadline, err := timeAttr(item, "deadline")
		if err != nil {
			return domain.Task{}, err
		}
		t.Deadline = &deadline
	}
	return t, nil
}
