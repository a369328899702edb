package worker

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

// Message types published by the LMS and CMS
const (
	MessageCoursePublished  = "course_published"
	MessageUserProfileSaved = "user_profile_saved"
	MessageExternalIDSaved  = "external_id_saved"
	MessageUserRetired      = "user_retired"
	MessageDumpData         = "dump_data"
)

// Message is a task request.
type Message struct {
	Type      string            `json:"type"`
	CourseKey string            `json:"course_key,omitempty"`
	Model     string            `json:"model,omitempty"`
	ObjectID  string            `json:"object_id,omitempty"`
	Overrides *config.Overrides `json:"connection_overrides,omitempty"`
}

// DecodeMessage parses a JSON task message
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid task message")
	}
	return msg, nil
}

// Handler runs a task message
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Handle dispatches msg to the matching task.
func (t *Tasks) Handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageCoursePublished:
		if msg.CourseKey == "" {
			return errors.New(errors.ErrorTypeValidation, "course_published needs course_key")
		}
		return t.DumpCourse(ctx, msg.CourseKey, msg.Overrides)
	case MessageUserProfileSaved:
		return t.dumpObject(ctx, repository.KindUserProfile, msg)
	case MessageExternalIDSaved:
		return t.dumpObject(ctx, repository.KindExternalID, msg)
	case MessageUserRetired:
		return t.dumpObject(ctx, repository.KindAuthUser, msg)
	case MessageDumpData:
		if msg.Model == "" {
			return errors.New(errors.ErrorTypeValidation, "dump_data needs model")
		}
		return t.dumpObject(ctx, msg.Model, msg)
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown message type %q", msg.Type)
	}
}

func (t *Tasks) dumpObject(ctx context.Context, kind string, msg Message) error {
	if msg.ObjectID == "" {
		return errors.Newf(errors.ErrorTypeValidation, "%s needs object_id", msg.Type)
	}
	return t.DumpData(ctx, kind, msg.ObjectID, msg.Overrides)
}
