package model

import "time"

// IdentityRecord is the normalized row returned by the credential lookup,
// regardless of which identity table it came from. Staff rows carry the
// canonical role string directly in Role; admin and learner rows carry a
// roles-table id in RoleID instead.
type IdentityRecord struct {
	ID     int64
	Name   string
	Hash   string
	Role   string
	RoleID int64
}

type LearnerProfile struct {
	Name           string
	BokamosoNumber string
	Grade          *string
	School         *string
	Email          string
	CellNumber     *string
	WhatsappNumber *string
	Enrolled       bool
	Southdeep      bool
}

type AssessmentMark struct {
	AssessmentName string
	Subject        string
	DateWritten    time.Time
	Mark           float64
}

type AttendanceEntry struct {
	ClassDate      time.Time
	Status         string
	ApologyMessage *string
	RecordedAt     time.Time
}

type Notification struct {
	ID        int64
	Title     string
	Content   string
	IsRead    bool
	CreatedAt time.Time
}

type Application struct {
	AppID     string
	Year      int
	Status    string
	MathType  string
	Grade     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      []byte
}

type TermMarks struct {
	Term       int
	Marks      []byte
	ReportPath *string
	UpdatedAt  time.Time
}

type Warning struct {
	ID       int64
	Type     string
	Reason   string
	Date     time.Time
	Severity string
}

type TeacherReview struct {
	ID      int64
	Teacher string
	Subject string
	Rating  float64
	Comment string
	Date    time.Time
}

type LearnerSummary struct {
	ID             int64
	Name           string
	BokamosoNumber string
	Grade          *string
	School         *string
	Enrolled       bool
}
