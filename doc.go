// Package eventsink exports Open edX data to ClickHouse.
//
// Course overviews, course structures, user profiles and external user IDs are
// read from the LMS database and the modulestore, serialized to CSV and posted
// to the ClickHouse HTTP interface. Retiring a user deletes their rows from
// every table holding personal data.
//
// # Architecture
//
// Records flow through three layers:
//
//   - pkg/repository reads upstream records (memory, sqlstore, modulestore)
//   - pkg/sink decides what to export and builds the rows of each dump batch
//   - pkg/clickhouse sends inserts, lookups and deletes over HTTP
//
// The worker in internal/worker runs dumps as events arrive on Kafka, on a
// schedule, or through its admin endpoint. The event-sink command runs bulk
// dumps from the command line:
//
//	event-sink --config config.yaml dump-courses --courses course-v1:edX+DemoX+Demo
//	event-sink --config config.yaml dump-objects --object user_profile --batch_size 500
//	event-sink --config config.yaml worker
//
// # Configuration
//
// Configuration is read from a YAML file and EVENT_SINK_* environment
// variables, e.g. EVENT_SINK_CLICKHOUSE_URL. See pkg/config for every key.
package eventsink
