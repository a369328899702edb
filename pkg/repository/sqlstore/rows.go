package sqlstore

import (
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

type courseOverviewRow struct {
	ID                           string     `gorm:"column:id"`
	Org                          string     `gorm:"column:org"`
	DisplayName                  *string    `gorm:"column:display_name"`
	Start                        *time.Time `gorm:"column:start"`
	End                          *time.Time `gorm:"column:end"`
	EnrollmentStart              *time.Time `gorm:"column:enrollment_start"`
	EnrollmentEnd                *time.Time `gorm:"column:enrollment_end"`
	SelfPaced                    bool       `gorm:"column:self_paced"`
	AdvertisedStart              *string    `gorm:"column:advertised_start"`
	Announcement                 *time.Time `gorm:"column:announcement"`
	LowestPassingGrade           *float64   `gorm:"column:lowest_passing_grade"`
	InvitationOnly               bool       `gorm:"column:invitation_only"`
	MaxStudentEnrollmentsAllowed *int       `gorm:"column:max_student_enrollments_allowed"`
	Effort                       *string    `gorm:"column:effort"`
	EnableProctoredExams         bool       `gorm:"column:enable_proctored_exams"`
	EntranceExamEnabled          bool       `gorm:"column:entrance_exam_enabled"`
	ExternalID                   *string    `gorm:"column:external_id"`
	Language                     *string    `gorm:"column:language"`
	Created                      *time.Time `gorm:"column:created"`
	Modified                     *time.Time `gorm:"column:modified"`
}

func (r *courseOverviewRow) record() *models.CourseOverview {
	return &models.CourseOverview{
		ID:                           r.ID,
		Org:                          r.Org,
		DisplayName:                  str(r.DisplayName),
		Start:                        r.Start,
		End:                          r.End,
		EnrollmentStart:              r.EnrollmentStart,
		EnrollmentEnd:                r.EnrollmentEnd,
		SelfPaced:                    r.SelfPaced,
		AdvertisedStart:              str(r.AdvertisedStart),
		Announcement:                 r.Announcement,
		LowestPassingGrade:           r.LowestPassingGrade,
		InvitationOnly:               r.InvitationOnly,
		MaxStudentEnrollmentsAllowed: r.MaxStudentEnrollmentsAllowed,
		Effort:                       str(r.Effort),
		EnableProctoredExams:         r.EnableProctoredExams,
		EntranceExamEnabled:          r.EntranceExamEnabled,
		ExternalID:                   str(r.ExternalID),
		Language:                     str(r.Language),
		Created:                      r.Created,
		Modified:                     r.Modified,
	}
}

type userProfileRow struct {
	ID                     int64      `gorm:"column:id"`
	UserID                 int64      `gorm:"column:user_id"`
	Name                   string     `gorm:"column:name"`
	Meta                   string     `gorm:"column:meta"`
	Courseware             string     `gorm:"column:courseware"`
	Language               string     `gorm:"column:language"`
	Location               string     `gorm:"column:location"`
	YearOfBirth            *int       `gorm:"column:year_of_birth"`
	Gender                 *string    `gorm:"column:gender"`
	LevelOfEducation       *string    `gorm:"column:level_of_education"`
	MailingAddress         *string    `gorm:"column:mailing_address"`
	City                   *string    `gorm:"column:city"`
	Country                *string    `gorm:"column:country"`
	State                  *string    `gorm:"column:state"`
	Goals                  *string    `gorm:"column:goals"`
	Bio                    *string    `gorm:"column:bio"`
	ProfileImageUploadedAt *time.Time `gorm:"column:profile_image_uploaded_at"`
	PhoneNumber            *string    `gorm:"column:phone_number"`
}

func (r *userProfileRow) record() *models.UserProfile {
	return &models.UserProfile{
		ID:                     r.ID,
		UserID:                 r.UserID,
		Name:                   r.Name,
		Meta:                   r.Meta,
		Courseware:             r.Courseware,
		Language:               r.Language,
		Location:               r.Location,
		YearOfBirth:            r.YearOfBirth,
		Gender:                 str(r.Gender),
		LevelOfEducation:       str(r.LevelOfEducation),
		MailingAddress:         str(r.MailingAddress),
		City:                   str(r.City),
		Country:                str(r.Country),
		State:                  str(r.State),
		Goals:                  str(r.Goals),
		Bio:                    str(r.Bio),
		ProfileImageUploadedAt: r.ProfileImageUploadedAt,
		PhoneNumber:            str(r.PhoneNumber),
	}
}

type externalIDRow struct {
	ID             int64      `gorm:"column:id"`
	ExternalUserID string     `gorm:"column:external_user_id"`
	ExternalIDType string     `gorm:"column:external_id_type"`
	Username       string     `gorm:"column:username"`
	UserID         int64      `gorm:"column:user_id"`
	Created        *time.Time `gorm:"column:created"`
	Modified       *time.Time `gorm:"column:modified"`
}

func (r *externalIDRow) record() *models.ExternalID {
	return &models.ExternalID{
		ID:             r.ID,
		ExternalUserID: r.ExternalUserID,
		ExternalIDType: r.ExternalIDType,
		Username:       r.Username,
		UserID:         r.UserID,
		Created:        r.Created,
		Modified:       r.Modified,
	}
}

type userRow struct {
	ID       int64  `gorm:"column:id"`
	Username string `gorm:"column:username"`
}

func (r *userRow) record() *models.User {
	return &models.User{ID: r.ID, Username: r.Username}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
