package worker

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"dump_data","model":"user_profile","object_id":"5","connection_overrides":{"database":"reporting"}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageDumpData, msg.Type)
	assert.Equal(t, "user_profile", msg.Model)
	assert.Equal(t, "5", msg.ObjectID)
	require.NotNil(t, msg.Overrides)
	assert.Equal(t, "reporting", *msg.Overrides.Database)
	assert.Nil(t, msg.Overrides.URL)

	_, err = DecodeMessage([]byte(`{"type":`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestHandle(t *testing.T) {
	cfg, store, transport := taskFixture(t, repository.KindCourseOverviews, repository.KindUserProfile, repository.KindAuthUser)
	tasks := NewTasks(cfg, store, transport, WithTasksLogger(zap.NewNop()))
	ctx := context.Background()

	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"course published", Message{Type: MessageCoursePublished, CourseKey: masterCourse}, false},
		{"course published without key", Message{Type: MessageCoursePublished}, true},
		{"profile saved", Message{Type: MessageUserProfileSaved, ObjectID: "5"}, false},
		{"external id saved while disabled", Message{Type: MessageExternalIDSaved, ObjectID: "1"}, false},
		{"user retired", Message{Type: MessageUserRetired, ObjectID: "9"}, false},
		{"dump data", Message{Type: MessageDumpData, Model: "user_profile", ObjectID: "5"}, false},
		{"dump data without model", Message{Type: MessageDumpData, ObjectID: "5"}, true},
		{"missing object id", Message{Type: MessageUserRetired}, true},
		{"unknown type", Message{Type: "course_deleted"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tasks.Handle(ctx, tt.msg)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
	assert.Equal(t, []string{masterCourse, ccxCourse}, transport.inserts)
	assert.Equal(t, []string{"user_profile:9", "external_id:9"}, transport.deletes)
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (f *fakeSession) Context() context.Context { return f.ctx }

func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	f.marked = append(f.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.messages }

type recordingHandler struct {
	handled []Message
	fail    bool
}

func (r *recordingHandler) Handle(_ context.Context, msg Message) error {
	r.handled = append(r.handled, msg)
	if r.fail {
		return errors.New(errors.ErrorTypeQuery, "clickhouse returned 500")
	}
	return nil
}

func TestConsumeClaim(t *testing.T) {
	tests := []struct {
		name        string
		fail        bool
		wantErrLogs int
	}{
		{"handled", false, 1},
		{"handler failure", true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &recordingHandler{fail: tt.fail}
			core, logs := observer.New(zapcore.ErrorLevel)
			c := newConsumer(cfgKafka(), JSONCodec{}, handler, nil, zap.New(core))

			messages := make(chan *sarama.ConsumerMessage, 2)
			messages <- &sarama.ConsumerMessage{Topic: "event-sink-clickhouse", Offset: 10,
				Value: []byte(`{"type":"course_published","course_key":"` + masterCourse + `"}`)}
			messages <- &sarama.ConsumerMessage{Topic: "event-sink-clickhouse", Offset: 11, Value: []byte(`not json`)}
			close(messages)

			session := &fakeSession{ctx: context.Background()}
			require.NoError(t, c.ConsumeClaim(session, &fakeClaim{messages: messages}))

			assert.Equal(t, []int64{10, 11}, session.marked)
			require.Len(t, handler.handled, 1)
			assert.Equal(t, masterCourse, handler.handled[0].CourseKey)
			assert.Equal(t, tt.wantErrLogs, logs.Len())
			assert.Equal(t, 1, logs.FilterMessage("dropping undecodable message").Len())
		})
	}
}

func TestConsumeClaimStopsWithSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newConsumer(cfgKafka(), JSONCodec{}, &recordingHandler{}, nil, zap.NewNop())

	session := &fakeSession{ctx: ctx}
	require.NoError(t, c.ConsumeClaim(session, &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}))
	assert.Empty(t, session.marked)
}

func cfgKafka() config.KafkaConfig {
	return config.KafkaConfig{Enabled: true, Brokers: []string{"kafka:9092"}, Topic: "event-sink-clickhouse", GroupID: "event-sink-clickhouse"}
}
