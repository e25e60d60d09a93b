package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"grindset-agent/internal/domain"
)

// turnSK orders turns by creation time; the id suffix keeps keys unique.
func turnSK(ts time.Time, id string) string {
	return skPrefixTurn + ts.UTC().Format(sortTimeLayout) + "#" + id
}

// AppendTurn persists a single turn, typically a tool announcement.
func (c *Client) AppendTurn(ctx context.Context, turn domain.Turn) (string, error) {
	stamped, err := c.stampTurns([]domain.Turn{turn})
	if err != nil {
		return "", fmt.Errorf("repository: AppendTurn: %w", err)
	}
	t := stamped[0]

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(t),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return t.ID, nil
}

// AppendTurns persists turns in one transaction, preserving slice order.
func (c *Client) AppendTurns(ctx context.Context, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	stamped, err := c.stampTurns(turns)
	if err != nil {
		return fmt.Errorf("repository: AppendTurns: %w", err)
	}

	items := make([]types.TransactWriteItem, 0, len(stamped))
	for _, t := range stamped {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                turnItem(t),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: AppendTurns: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns whose role is in roles,
// ordered oldest first. An empty roles slice matches every role.
func (c *Client) RecentTurns(ctx context.Context, userID string, limit int, roles []domain.Role) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := c.prefixQuery(userID, skPrefixTurn, false)
	// DynamoDB applies Limit before the filter, so this is a page size, not a cap.
	in.Limit = aws.Int32(int32(limit))
	if len(roles) > 0 {
		placeholders := make([]string, 0, len(roles))
		for i, r := range roles {
			ph := ":role" + strconv.Itoa(i)
			placeholders = append(placeholders, ph)
			in.ExpressionAttributeValues[ph] = strVal(string(r))
		}
		in.FilterExpression = aws.String("#role IN (" + strings.Join(placeholders, ", ") + ")")
		in.ExpressionAttributeNames = map[string]string{"#role": "role"}
	}

	items, err := c.queryAll(ctx, in, func(n int) bool { return n >= limit })
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}
	if len(items) > limit {
		items = items[:limit]
	}

	turns, err := itemsToTurns(items)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns unmarshal: %w", err)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListTurns returns the full conversation of a user, oldest first.
func (c *Client) ListTurns(ctx context.Context, userID string) ([]domain.Turn, error) {
	items, err := c.queryAll(ctx, c.prefixQuery(userID, skPrefixTurn, true), nil)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns query: %w", err)
	}
	turns, err := itemsToTurns(items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns unmarshal: %w", err)
	}
	return turns, nil
}

// stampTurns fills ids and creation times. Times within one batch are made
// strictly increasing so the batch keeps its order under SK sorting.
func (c *Client) stampTurns(turns []domain.Turn) ([]domain.Turn, error) {
	out := make([]domain.Turn, len(turns))
	var prev time.Time
	for i, t := range turns {
		if strings.TrimSpace(t.UserID) == "" {
			return nil, errors.New("user id is required")
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = c.now()
		}
		t.CreatedAt = t.CreatedAt.UTC()
		if i > 0 && !t.CreatedAt.After(prev) {
			t.CreatedAt = prev.Add(time.Nanosecond)
		}
		prev = t.CreatedAt
		out[i] = t
	}
	return out, nil
}

func turnItem(t domain.Turn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        strVal(userPK(t.UserID)),
		"SK":        strVal(turnSK(t.CreatedAt, t.ID)),
		"id":        strVal(t.ID),
		"userId":    strVal(t.UserID),
		"role":      strVal(string(t.Role)),
		"message":   strVal(t.Message),
		"createdAt": strVal(formatTime(t.CreatedAt)),
	}
	if t.UsedTool != nil {
		item["usedTool"] = strVal(string(*t.UsedTool))
	}
	if t.ToolComponent != nil {
		item["toolComponent"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"type":  strVal(string(t.ToolComponent.Type)),
			"label": strVal(t.ToolComponent.Label),
		}}
	}
	return item
}

func itemsToTurns(items []map[string]types.AttributeValue) ([]domain.Turn, error) {
	turns := make([]domain.Turn, 0, len(items))
	for _, item := range items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Turn{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}

	turn := domain.Turn{
		ID:        id,
		UserID:    userID,
		Role:      domain.Role(role),
		Message:   message,
		CreatedAt: createdAt,
	}

	usedTool, err := optStrAttr(item, "usedTool")
	if err != nil {
		return domain.Turn{}, err
	}
	if usedTool != "" {
		tool := domain.ToolName(usedTool)
		turn.UsedTool = &tool
	}
	if v, ok := item["toolComponent"]; ok {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return domain.Turn{}, errors.New(`repository: attribute "toolComponent" is not a map`)
		}
		typ, _ := optStrAttr(m.Value, "type")
		label, _ := optStrAttr(m.Value, "label")
		turn.ToolComponent = &domain.ToolComponent{Type: domain.ToolName(typ), Label: label}
	}
	return turn, nil
}
