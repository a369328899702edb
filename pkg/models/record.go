// Package models defines the upstream records exported to ClickHouse and the
// ordered rows they are serialized into.
package models

import (
	"strconv"
	"time"
)

// Record is an upstream record that can be exported by a sink.
type Record interface {
	// PrimaryKey is the key used for ordering, filtering and logging
	PrimaryKey() string
}

// CourseOverview is the cached summary of a course kept by the LMS.
type CourseOverview struct {
	// ID is the course key, e.g. course-v1:edX+DemoX+Demo_Course
	ID              string
	Org             string
	DisplayName     string
	Start           *time.Time
	End             *time.Time
	EnrollmentStart *time.Time
	EnrollmentEnd   *time.Time
	SelfPaced       bool

	AdvertisedStart              string
	Announcement                 *time.Time
	LowestPassingGrade           *float64
	InvitationOnly               bool
	MaxStudentEnrollmentsAllowed *int
	Effort                       string
	EnableProctoredExams         bool
	EntranceExamEnabled          bool
	ExternalID                   string
	Language                     string

	Created *time.Time
	// Modified is rewritten on every course publish
	Modified *time.Time
}

// PrimaryKey implements Record
func (c *CourseOverview) PrimaryKey() string { return c.ID }

// UserProfile holds the personal details of a learner.
type UserProfile struct {
	ID                     int64
	UserID                 int64
	Name                   string
	Meta                   string
	Courseware             string
	Language               string
	Location               string
	YearOfBirth            *int
	Gender                 string
	LevelOfEducation       string
	MailingAddress         string
	City                   string
	Country                string
	State                  string
	Goals                  string
	Bio                    string
	ProfileImageUploadedAt *time.Time
	PhoneNumber            string
}

// PrimaryKey implements Record
func (p *UserProfile) PrimaryKey() string { return strconv.FormatInt(p.ID, 10) }

// ExternalID links a user to an identifier used by an external system.
type ExternalID struct {
	ID             int64
	ExternalUserID string
	ExternalIDType string
	Username       string
	UserID         int64
	Created        *time.Time
	Modified       *time.Time
}

// PrimaryKey implements Record
func (e *ExternalID) PrimaryKey() string { return strconv.FormatInt(e.ID, 10) }

// User is the account a retirement request refers to.
type User struct {
	ID       int64
	Username string
}

// PrimaryKey implements Record
func (u *User) PrimaryKey() string { return strconv.FormatInt(u.ID, 10) }

// Block is one node of a course structure.
type Block struct {
	// Location is the usage key of the block, possibly carrying branch and version
	Location       UsageKey
	DisplayName    string
	Graded         bool
	CompletionMode string
	EditedOn       *time.Time
	// Children are the usage keys of the child blocks in declared order
	Children []UsageKey
}

// PrimaryKey implements Record
func (b *Block) PrimaryKey() string { return b.Location.String() }
