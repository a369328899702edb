package serializer

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

// Func serializes one record into a row of its table.
type Func func(record models.Record, batch SyncBatch) (*models.Row, error)

// Many serializes records with a shared batch, preserving order.
func Many(records []models.Record, batch SyncBatch, fn Func) ([]*models.Row, error) {
	rows := make([]*models.Row, 0, len(records))
	for _, r := range records {
		row, err := fn(r, batch)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type courseData struct {
	AdvertisedStart              string  `json:"advertised_start"`
	Announcement                 string  `json:"announcement"`
	LowestPassingGrade           float64 `json:"lowest_passing_grade"`
	InvitationOnly               bool    `json:"invitation_only"`
	MaxStudentEnrollmentsAllowed *int    `json:"max_student_enrollments_allowed"`
	Effort                       string  `json:"effort"`
	EnableProctoredExams         bool    `json:"enable_proctored_exams"`
	EntranceExamEnabled          bool    `json:"entrance_exam_enabled"`
	ExternalID                   string  `json:"external_id"`
	Language                     string  `json:"language"`
}

// CourseOverview serializes a course overview into a course_overviews row.
func CourseOverview(record models.Record, batch SyncBatch) (*models.Row, error) {
	o, ok := record.(*models.CourseOverview)
	if !ok {
		return nil, unexpected("course overview", record)
	}

	data := courseData{
		AdvertisedStart:              o.AdvertisedStart,
		Announcement:                 timeString(o.Announcement),
		InvitationOnly:               o.InvitationOnly,
		MaxStudentEnrollmentsAllowed: o.MaxStudentEnrollmentsAllowed,
		Effort:                       o.Effort,
		EnableProctoredExams:         o.EnableProctoredExams,
		EntranceExamEnabled:          o.EntranceExamEnabled,
		ExternalID:                   o.ExternalID,
		Language:                     o.Language,
	}
	if o.LowestPassingGrade != nil {
		data.LowestPassingGrade = *o.LowestPassingGrade
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode course_data_json")
	}

	row := models.NewRow(13).
		Add("org", o.Org).
		Add("course_key", o.ID).
		Add("display_name", o.DisplayName).
		Add("course_start", timeValue(o.Start)).
		Add("course_end", timeValue(o.End)).
		Add("enrollment_start", timeValue(o.EnrollmentStart)).
		Add("enrollment_end", timeValue(o.EnrollmentEnd)).
		Add("self_paced", o.SelfPaced).
		Add("course_data_json", string(blob)).
		Add("created", timeValue(o.Created)).
		Add("modified", timeValue(o.Modified))
	return batch.Apply(row), nil
}

// UserProfile serializes a profile into a user_profile row.
func UserProfile(record models.Record, batch SyncBatch) (*models.Row, error) {
	p, ok := record.(*models.UserProfile)
	if !ok {
		return nil, unexpected("user profile", record)
	}

	var yearOfBirth interface{} = ""
	if p.YearOfBirth != nil {
		yearOfBirth = *p.YearOfBirth
	}

	row := models.NewRow(20).
		Add("id", p.ID).
		Add("user_id", p.UserID).
		Add("name", p.Name).
		Add("meta", p.Meta).
		Add("courseware", p.Courseware).
		Add("language", p.Language).
		Add("location", p.Location).
		Add("year_of_birth", yearOfBirth).
		Add("gender", p.Gender).
		Add("level_of_education", p.LevelOfEducation).
		Add("mailing_address", p.MailingAddress).
		Add("city", p.City).
		Add("country", p.Country).
		Add("state", p.State).
		Add("goals", p.Goals).
		Add("bio", p.Bio).
		Add("profile_image_uploaded_at", timeValue(p.ProfileImageUploadedAt)).
		Add("phone_number", p.PhoneNumber)
	return batch.Apply(row), nil
}

// ExternalID serializes an external id into an external_id row.
func ExternalID(record models.Record, batch SyncBatch) (*models.Row, error) {
	e, ok := record.(*models.ExternalID)
	if !ok {
		return nil, unexpected("external id", record)
	}

	row := models.NewRow(6).
		Add("external_user_id", e.ExternalUserID).
		Add("external_id_type", e.ExternalIDType).
		Add("username", e.Username).
		Add("user_id", e.UserID)
	return batch.Apply(row), nil
}

// UserRetirement reduces a user to the identifier used by retirement deletes.
// The row carries no batch columns since it is never inserted.
func UserRetirement(record models.Record, _ SyncBatch) (*models.Row, error) {
	u, ok := record.(*models.User)
	if !ok {
		return nil, unexpected("user", record)
	}
	return models.NewRow(1).Add("user_id", u.ID), nil
}

type blockData struct {
	Course         string `json:"course"`
	Run            string `json:"run"`
	BlockType      string `json:"block_type"`
	Detached       int    `json:"detached"`
	Graded         int    `json:"graded"`
	CompletionMode string `json:"completion_mode"`
	Section        int    `json:"section"`
	Subsection     int    `json:"subsection"`
	Unit           int    `json:"unit"`
}

// Position locates a block in the course outline.
type Position struct {
	Order      int
	Section    int
	Subsection int
	Unit       int
}

// Block serializes a course block into a course_blocks row.
func Block(b *models.Block, pos Position, detached bool, batch SyncBatch) (*models.Row, error) {
	course := b.Location.Course
	data := blockData{
		Course:         course.Course,
		Run:            course.Run,
		BlockType:      b.Location.BlockType,
		Detached:       boolInt(detached),
		Graded:         boolInt(b.Graded),
		CompletionMode: b.CompletionMode,
		Section:        pos.Section,
		Subsection:     pos.Subsection,
		Unit:           pos.Unit,
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode xblock_data_json")
	}

	row := models.NewRow(9).
		Add("org", course.Org).
		Add("course_key", course.ForBranch().String()).
		Add("location", b.Location.String()).
		Add("display_name", b.DisplayName).
		Add("xblock_data_json", string(blob)).
		Add("order", pos.Order).
		Add("edited_on", timeValue(b.EditedOn))
	return batch.Apply(row), nil
}

// Relationship serializes a parent to child edge into a course_relationships row.
func Relationship(courseKey, parent, child string, order int, batch SyncBatch) *models.Row {
	row := models.NewRow(6).
		Add("course_key", courseKey).
		Add("parent_location", parent).
		Add("child_location", child).
		Add("order", order)
	return batch.Apply(row)
}

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return ""
	}
	return t.UTC()
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unexpected(want string, got models.Record) error {
	return errors.New(errors.ErrorTypeData, fmt.Sprintf("expected %s, got %T", want, got))
}
