// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/loom/pkg/model"
)

func TestInMemory_CreateAndGet(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{
		AppName: "demo",
		UserID:  "user-1",
		State:   map[string]any{"plan": "pro"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.Session.ID, "session ID is generated")

	got, err := svc.Get(ctx, &GetRequest{
		AppName:   "demo",
		UserID:    "user-1",
		SessionID: created.Session.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, "demo", got.Session.AppName)
	assert.Equal(t, "user-1", got.Session.UserID)
	assert.Equal(t, map[string]any{"plan": "pro"}, got.Session.State)
	assert.Empty(t, got.Session.LastResponseID)
	assert.False(t, got.Session.CreatedAt.IsZero())
}

func TestInMemory_ExplicitSessionID(t *testing.T) {
	svc := InMemoryService()

	created, err := svc.Create(context.Background(), &CreateRequest{
		AppName:   "demo",
		UserID:    "user-1",
		SessionID: "sess-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-42", created.Session.ID)
}

func TestInMemory_GetNotFound(t *testing.T) {
	svc := InMemoryService()

	_, err := svc.Get(context.Background(), &GetRequest{
		AppName:   "demo",
		UserID:    "user-1",
		SessionID: "missing",
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInMemory_SnapshotIsolation(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{
		AppName: "demo",
		UserID:  "user-1",
		State:   map[string]any{"plan": "pro"},
	})
	require.NoError(t, err)

	// Mutating the returned snapshot must not leak into the store.
	created.Session.State["plan"] = "enterprise"
	created.Session.LastResponseID = "resp_hacked"

	got, err := svc.Get(ctx, &GetRequest{AppName: "demo", UserID: "user-1", SessionID: created.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Session.State["plan"])
	assert.Empty(t, got.Session.LastResponseID)
}

func TestInMemory_AppendEvent(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{AppName: "demo", UserID: "user-1"})
	require.NoError(t, err)
	sess := created.Session

	userEvent := &Event{
		Author: "user",
		Items:  []model.Item{model.UserMessage("hello")},
	}
	require.NoError(t, svc.AppendEvent(ctx, sess, userEvent))
	assert.NotEmpty(t, userEvent.ID, "event ID is assigned")
	assert.False(t, userEvent.Timestamp.IsZero())

	agentEvent := &Event{
		Author: "assistant",
		Items:  []model.Item{model.AssistantMessage("hi there")},
	}
	require.NoError(t, svc.AppendEvent(ctx, sess, agentEvent))

	// Mirrored onto the passed session.
	require.Len(t, sess.Events, 2)
	assert.Equal(t, "user", sess.Events[0].Author)

	// Persisted in the store.
	got, err := svc.Get(ctx, &GetRequest{AppName: "demo", UserID: "user-1", SessionID: sess.ID})
	require.NoError(t, err)
	require.Len(t, got.Session.Events, 2)
	assert.Equal(t, "hello", got.Session.Events[0].Items[0].Content)
	assert.Equal(t, "hi there", got.Session.Events[1].Items[0].Content)
}

func TestInMemory_AppendEventNotFound(t *testing.T) {
	svc := InMemoryService()

	sess := &Session{ID: "missing", AppName: "demo", UserID: "user-1"}
	err := svc.AppendEvent(context.Background(), sess, &Event{Author: "user"})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInMemory_NumRecentEvents(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{AppName: "demo", UserID: "user-1"})
	require.NoError(t, err)
	sess := created.Session

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, svc.AppendEvent(ctx, sess, &Event{
			Author: "user",
			Items:  []model.Item{model.UserMessage(text)},
		}))
	}

	got, err := svc.Get(ctx, &GetRequest{
		AppName:         "demo",
		UserID:          "user-1",
		SessionID:       sess.ID,
		NumRecentEvents: 2,
	})
	require.NoError(t, err)
	require.Len(t, got.Session.Events, 2)
	assert.Equal(t, "two", got.Session.Events[0].Items[0].Content)
	assert.Equal(t, "three", got.Session.Events[1].Items[0].Content)
}

func TestInMemory_UpdateTurn(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{AppName: "demo", UserID: "user-1"})
	require.NoError(t, err)
	sess := created.Session

	require.NoError(t, svc.UpdateTurn(ctx, sess, "resp_123"))
	assert.Equal(t, "resp_123", sess.LastResponseID)

	got, err := svc.Get(ctx, &GetRequest{AppName: "demo", UserID: "user-1", SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "resp_123", got.Session.LastResponseID)
}

func TestInMemory_ListAndDelete(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	for _, userID := range []string{"user-1", "user-1", "user-2"} {
		_, err := svc.Create(ctx, &CreateRequest{AppName: "demo", UserID: userID})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, &CreateRequest{AppName: "other", UserID: "user-1"})
	require.NoError(t, err)

	all, err := svc.List(ctx, &ListRequest{AppName: "demo"})
	require.NoError(t, err)
	assert.Len(t, all.Sessions, 3)

	mine, err := svc.List(ctx, &ListRequest{AppName: "demo", UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, mine.Sessions, 2)

	target := mine.Sessions[0]
	require.NoError(t, svc.Delete(ctx, &DeleteRequest{
		AppName: "demo", UserID: "user-1", SessionID: target.ID,
	}))

	_, err = svc.Get(ctx, &GetRequest{AppName: "demo", UserID: "user-1", SessionID: target.ID})
	require.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting a missing session is a no-op.
	require.NoError(t, svc.Delete(ctx, &DeleteRequest{
		AppName: "demo", UserID: "user-1", SessionID: "missing",
	}))
}

func TestSession_History(t *testing.T) {
	sess := &Session{
		Events: []Event{
			{Author: "user", Items: []model.Item{model.UserMessage("what is 2+2?")}},
			{Author: "assistant", Items: []model.Item{
				model.FunctionCall("call_1", "calculator", `{"expr":"2+2"}`),
				model.FunctionCallOutput("call_1", "4"),
				model.AssistantMessage("It is 4."),
			}},
		},
	}

	items := sess.History()
	require.Len(t, items, 4)
	assert.Equal(t, model.ItemMessage, items[0].Type)
	assert.Equal(t, model.ItemFunctionCall, items[1].Type)
	assert.Equal(t, model.ItemFunctionCallOutput, items[2].Type)
	assert.Equal(t, "It is 4.", items[3].Content)
}
