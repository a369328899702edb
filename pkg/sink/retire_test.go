package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/memory"
)

func TestUserIDs(t *testing.T) {
	ids, err := UserIDs([]models.Record{
		&models.User{ID: 246}, &models.User{ID: 22}, &models.User{ID: 91}, &models.User{ID: 22},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"22", "246", "91"}, ids)

	_, err = UserIDs([]models.Record{&models.UserProfile{ID: 1}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestRetire(t *testing.T) {
	transport := newFakeTransport()
	r := NewRetirementSink(transport, memory.New(), []string{"user_profile", "external_id"}, zap.NewNop())
	users := []models.Record{&models.User{ID: 246}, &models.User{ID: 22}, &models.User{ID: 91}}

	require.NoError(t, r.Retire(context.Background(), users))
	require.NoError(t, r.Retire(context.Background(), users))

	require.Len(t, transport.deletes, 4)
	for i, table := range []string{"user_profile", "external_id", "user_profile", "external_id"} {
		assert.Equal(t, deleteCall{table: table, column: "user_id", values: []string{"22", "246", "91"}}, transport.deletes[i])
	}
	assert.Empty(t, transport.inserts)
}

func TestRetirementDump(t *testing.T) {
	store := memory.New()
	store.Put(repository.KindAuthUser, &models.User{ID: 7, Username: "edx"})
	transport := newFakeTransport()
	r := NewRetirementSink(transport, store, []string{"user_profile"}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Dump(ctx, "7"))
	require.NoError(t, r.Dump(ctx, "8"), "users missing upstream are still retired")
	require.Len(t, transport.deletes, 2)
	assert.Equal(t, []string{"7"}, transport.deletes[0].values)
	assert.Equal(t, []string{"8"}, transport.deletes[1].values)

	err := r.Dump(ctx, "not-a-number")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRetireNothing(t *testing.T) {
	transport := newFakeTransport()
	r := NewRetirementSink(transport, memory.New(), []string{"user_profile"}, zap.NewNop())
	require.NoError(t, r.Retire(context.Background(), nil))
	assert.Empty(t, transport.deletes)
}
