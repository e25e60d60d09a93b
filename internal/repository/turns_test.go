package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"grindset-agent/internal/domain"
)

func makeTurnItem(id, role, message string, ts time.Time) map[string]types.AttributeValue {
	return turnItem(domain.Turn{ID: id, UserID: "u", Role: domain.Role(role), Message: message, CreatedAt: ts})
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestTurnSK_SortsChronologically(t *testing.T) {
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	earlier := turnSK(base, "b")
	later := turnSK(base.Add(10*time.Millisecond), "a")
	require.Less(t, earlier, later)
	require.Len(t, earlier, len(later))
}

func TestAppendTurns_SingleTransactionInOrder(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	c.now = fixedClock(now)

	tool := domain.ToolTasks
	err := c.AppendTurns(context.Background(), []domain.Turn{
		{UserID: "u", Role: domain.RoleUser, Message: "what are my tasks"},
		{UserID: "u", Role: domain.RoleAssistant, Message: "You have 3 tasks.", UsedTool: &tool,
			ToolComponent: &domain.ToolComponent{Type: domain.ToolTasks, Label: "Using Tasks Tool"}},
	})
	require.NoError(t, err)
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	first := db.lastTxInput.TransactItems[0].Put
	second := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, "user", sAttr(t, first.Item, "role"))
	require.Equal(t, "assistant", sAttr(t, second.Item, "role"))
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *first.ConditionExpression)
	require.Less(t, sAttr(t, first.Item, "SK"), sAttr(t, second.Item, "SK"), "assistant reply must sort after the user turn")
	require.Equal(t, "tasks", sAttr(t, second.Item, "usedTool"))
	_, hasTool := first.Item["usedTool"]
	require.False(t, hasTool)

	component := second.Item["toolComponent"].(*types.AttributeValueMemberM).Value
	require.Equal(t, "Using Tasks Tool", sAttr(t, component, "label"))
}

func TestAppendTurns_Empty(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.AppendTurns(context.Background(), nil))
	require.Nil(t, db.lastTxInput)
}

func TestAppendTurns_MissingUser(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.AppendTurns(context.Background(), []domain.Turn{{Role: domain.RoleUser, Message: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "user id is required")
}

func TestAppendTurns_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("transaction canceled")})
	err := c.AppendTurns(context.Background(), []domain.Turn{{UserID: "u", Role: domain.RoleUser, Message: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "AppendTurns")
}

func TestAppendTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	tool := domain.ToolSearch
	id, err := c.AppendTurn(context.Background(), domain.Turn{
		UserID: "u", Role: domain.RoleSystem, Message: "Using Web Search Tool", UsedTool: &tool,
		ToolComponent: &domain.ToolComponent{Type: domain.ToolSearch, Label: "Using Web Search Tool"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, db.putInputs, 1)
	item := db.putInputs[0].Item
	require.Equal(t, "USER#u", sAttr(t, item, "PK"))
	require.Equal(t, "system", sAttr(t, item, "role"))
	require.Equal(t, id, sAttr(t, item, "id"))
}

func TestAppendTurn_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	_, err := c.AppendTurn(context.Background(), domain.Turn{UserID: "u", Role: domain.RoleSystem, Message: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "AppendTurn")
}

func TestRecentTurns_FiltersRolesAndReorders(t *testing.T) {
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			makeTurnItem("2", "assistant", "newer", base.Add(time.Second)),
			makeTurnItem("1", "user", "older", base),
		},
	}}}
	c := mustNewClient(t, db)

	turns, err := c.RecentTurns(context.Background(), "u", 5, []domain.Role{domain.RoleUser, domain.RoleAssistant})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "older", turns[0].Message)
	require.Equal(t, "newer", turns[1].Message)

	in := db.queryInputs[0]
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, "#role IN (:role0, :role1)", *in.FilterExpression)
	require.Equal(t, "role", in.ExpressionAttributeNames["#role"])
	require.Equal(t, int32(5), *in.Limit)
}

func TestRecentTurns_PagesUntilLimitAndTruncates(t *testing.T) {
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			// A page emptied by the filter still carries a continuation key.
			LastEvaluatedKey: itemKey("USER#u", "TURN#x"),
		},
		{
			Items: []map[string]types.AttributeValue{
				makeTurnItem("3", "user", "c", base.Add(3*time.Second)),
				makeTurnItem("2", "assistant", "b", base.Add(2*time.Second)),
				makeTurnItem("1", "user", "a", base.Add(time.Second)),
			},
			LastEvaluatedKey: itemKey("USER#u", "TURN#y"),
		},
	}}
	c := mustNewClient(t, db)

	turns, err := c.RecentTurns(context.Background(), "u", 2, []domain.Role{domain.RoleUser, domain.RoleAssistant})
	require.NoError(t, err)
	require.Len(t, db.queryInputs, 2)
	require.Len(t, turns, 2)
	require.Equal(t, "b", turns[0].Message)
	require.Equal(t, "c", turns[1].Message)
}

func TestRecentTurns_ZeroLimit(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	turns, err := c.RecentTurns(context.Background(), "u", 0, nil)
	require.NoError(t, err)
	require.Empty(t, turns)
	require.Empty(t, db.queryInputs)
}

func TestRecentTurns_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.RecentTurns(context.Background(), "u", 5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "RecentTurns")
}

func TestRecentTurns_MalformedItem(t *testing.T) {
	item := map[string]types.AttributeValue{
		"id":     strVal("1"),
		"userId": strVal("u"),
		"role":   strVal("user"),
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)
	_, err := c.RecentTurns(context.Background(), "u", 5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "message")
}

func TestListTurns_Ascending(t *testing.T) {
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	tool := domain.ToolGoals
	withTool := turnItem(domain.Turn{
		ID: "2", UserID: "u", Role: domain.RoleSystem, Message: "Using Goals Tool", CreatedAt: base.Add(time.Second),
		UsedTool: &tool, ToolComponent: &domain.ToolComponent{Type: domain.ToolGoals, Label: "Using Goals Tool"},
	})
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{makeTurnItem("1", "user", "hi", base), withTool},
	}}}
	c := mustNewClient(t, db)

	turns, err := c.ListTurns(context.Background(), "u")
	require.NoError(t, err)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
	require.Len(t, turns, 2)
	require.Nil(t, turns[0].UsedTool)
	require.Equal(t, domain.ToolGoals, *turns[1].UsedTool)
	require.Equal(t, "Using Goals Tool", turns[1].ToolComponent.Label)
	require.True(t, base.Equal(turns[0].CreatedAt))
}

func TestStampTurns_KeepsExplicitOrder(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	ts := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	out, err := c.stampTurns([]domain.Turn{
		{UserID: "u", CreatedAt: ts},
		{UserID: "u", CreatedAt: ts.Add(-time.Second)},
	})
	require.NoError(t, err)
	require.True(t, out[1].CreatedAt.After(out[0].CreatedAt))
	require.NotEqual(t, out[0].ID, out[1].ID)
}
