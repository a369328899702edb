package worker

import (
	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

// Message encodings accepted on the task topic
const (
	EncodingJSON = "json"
	EncodingAvro = "avro"
)

// MessageCodec converts task messages to and from their wire form.
type MessageCodec interface {
	Encode(msg Message) ([]byte, error)
	Decode(data []byte) (Message, error)
}

// NewCodec returns the codec of encoding; empty means JSON
func NewCodec(encoding string) (MessageCodec, error) {
	switch encoding {
	case "", EncodingJSON:
		return JSONCodec{}, nil
	case EncodingAvro:
		return NewAvroCodec()
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported message encoding %q", encoding)
	}
}

// JSONCodec reads messages as JSON objects.
type JSONCodec struct{}

// Encode implements MessageCodec
func (JSONCodec) Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode task message")
	}
	return data, nil
}

// Decode implements MessageCodec
func (JSONCodec) Decode(data []byte) (Message, error) {
	return DecodeMessage(data)
}

const avroNamespace = "org.openedx.event_sink"

// messageSchema mirrors Message. Optional fields are unions with null.
const messageSchema = `{
  "type": "record",
  "name": "TaskMessage",
  "namespace": "` + avroNamespace + `",
  "fields": [
    {"name": "type", "type": "string"},
    {"name": "course_key", "type": ["null", "string"], "default": null},
    {"name": "model", "type": ["null", "string"], "default": null},
    {"name": "object_id", "type": ["null", "string"], "default": null},
    {"name": "connection_overrides", "default": null, "type": ["null", {
      "type": "record",
      "name": "ConnectionOverrides",
      "fields": [
        {"name": "url", "type": ["null", "string"], "default": null},
        {"name": "username", "type": ["null", "string"], "default": null},
        {"name": "password", "type": ["null", "string"], "default": null},
        {"name": "database", "type": ["null", "string"], "default": null},
        {"name": "timeout_secs", "type": ["null", "int"], "default": null}
      ]
    }]}
  ]
}`

const overridesType = avroNamespace + ".ConnectionOverrides"

// AvroCodec reads messages as schemaless Avro binary records.
type AvroCodec struct {
	codec *goavro.Codec
}

// NewAvroCodec compiles the task message schema
func NewAvroCodec() (*AvroCodec, error) {
	codec, err := goavro.NewCodec(messageSchema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to compile task message schema")
	}
	return &AvroCodec{codec: codec}, nil
}

// Encode implements MessageCodec
func (c *AvroCodec) Encode(msg Message) ([]byte, error) {
	native := map[string]interface{}{
		"type":                 msg.Type,
		"course_key":           optionalString(msg.CourseKey),
		"model":                optionalString(msg.Model),
		"object_id":            optionalString(msg.ObjectID),
		"connection_overrides": nil,
	}
	if o := msg.Overrides; o != nil {
		overrides := map[string]interface{}{
			"url":          optionalStringPtr(o.URL),
			"username":     optionalStringPtr(o.Username),
			"password":     optionalStringPtr(o.Password),
			"database":     optionalStringPtr(o.Database),
			"timeout_secs": nil,
		}
		if o.TimeoutSecs != nil {
			overrides["timeout_secs"] = goavro.Union("int", int32(*o.TimeoutSecs))
		}
		native["connection_overrides"] = goavro.Union(overridesType, overrides)
	}

	data, err := c.codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode task message")
	}
	return data, nil
}

// Decode implements MessageCodec
func (c *AvroCodec) Decode(data []byte) (Message, error) {
	native, _, err := c.codec.NativeFromBinary(data)
	if err != nil {
		return Message{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid task message")
	}
	record, ok := native.(map[string]interface{})
	if !ok {
		return Message{}, errors.New(errors.ErrorTypeValidation, "invalid task message: not a record")
	}

	msg := Message{
		Type:      stringField(record["type"]),
		CourseKey: unionString(record["course_key"]),
		Model:     unionString(record["model"]),
		ObjectID:  unionString(record["object_id"]),
	}
	if union, ok := record["connection_overrides"].(map[string]interface{}); ok {
		if fields, ok := union[overridesType].(map[string]interface{}); ok {
			msg.Overrides = &config.Overrides{
				URL:      unionStringPtr(fields["url"]),
				Username: unionStringPtr(fields["username"]),
				Password: unionStringPtr(fields["password"]),
				Database: unionStringPtr(fields["database"]),
			}
			if union, ok := fields["timeout_secs"].(map[string]interface{}); ok {
				if secs, ok := union["int"].(int32); ok {
					msg.Overrides.TimeoutSecs = config.Int(int(secs))
				}
			}
		}
	}
	return msg, nil
}

func optionalString(s string) interface{} {
	if s == "" {
		return nil
	}
	return goavro.Union("string", s)
}

func optionalStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return goavro.Union("string", *s)
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}

func unionString(v interface{}) string {
	if union, ok := v.(map[string]interface{}); ok {
		return stringField(union["string"])
	}
	return ""
}

func unionStringPtr(v interface{}) *string {
	union, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	s, ok := union["string"].(string)
	if !ok {
		return nil
	}
	return &s
}
