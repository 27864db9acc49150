package sis

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Upstream endpoints.
var (
	SchoolsEndpoint     = Endpoint{Name: "schools", Path: "/v1/schools", Style: OffsetLimit, ResourceKey: "schools"}
	StudentsEndpoint    = Endpoint{Name: "students", Path: "/v1/students", Style: OffsetLimit, ResourceKey: "students"}
	StaffEndpoint       = Endpoint{Name: "staff", Path: "/v1/staff", Style: OffsetLimit, ResourceKey: "staff"}
	ClassesEndpoint     = Endpoint{Name: "classes", Path: "/v1/classes", Style: OffsetLimit, ResourceKey: "classes"}
	EnrollmentsEndpoint = Endpoint{Name: "enrollments", Path: "/v1/enrollments", Style: OffsetLimit, ResourceKey: "enrollments"}
	ResultsEndpoint     = Endpoint{Name: "results", Path: "/v1/results", Style: PageNumber, ResourceKey: "results"}

	AttendanceExport = ExportEndpoint{Name: "attendance", Path: "/v1/exports/attendance", Format: "xlsx"}
)

// StaffDetailPath is the per-entity staff detail endpoint used for enrichment.
const StaffDetailPath = "/v1/staff/{id}"

// FlexString accepts a JSON string or number. Upstream ids switch between the
// two across endpoints.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the plain value.
func (f FlexString) String() string { return string(f) }

// Ptr returns nil for an empty value.
func (f FlexString) Ptr() *string {
	if f == "" {
		return nil
	}
	s := string(f)
	return &s
}

// SchoolResource is an item of the schools list.
type SchoolResource struct {
	ID       FlexString `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	ParentID FlexString `json:"parent_id"`
}

// StudentResource is an item of the students list.
type StudentResource struct {
	ID          FlexString `json:"id"`
	SchoolID    FlexString `json:"school_id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	GradeLevel  FlexString `json:"grade_level"`
	DateOfBirth FlexString `json:"date_of_birth"`
	Email       FlexString `json:"email"`
}

// StaffResource is an item of the staff list.
type StaffResource struct {
	ID        FlexString `json:"id"`
	SchoolID  FlexString `json:"school_id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     FlexString `json:"email"`
}

// StaffDetailResource is the body of the staff detail endpoint.
type StaffDetailResource struct {
	ID         FlexString `json:"id"`
	Title      FlexString `json:"title"`
	Department FlexString `json:"department"`
	HireDate   FlexString `json:"hire_date"`
}

// ClassResource is an item of the classes list.
type ClassResource struct {
	ID         FlexString `json:"id"`
	SchoolID   FlexString `json:"school_id"`
	TeacherID  FlexString `json:"teacher_id"`
	Name       string     `json:"name"`
	Subject    string     `json:"subject"`
	GradeLevel FlexString `json:"grade_level"`
	Period     FlexString `json:"period"`
}

// EnrollmentResource is an item of the enrollments list.
type EnrollmentResource struct {
	ID        FlexString `json:"id"`
	ClassID   FlexString `json:"class_id"`
	StudentID FlexString `json:"student_id"`
	StartDate FlexString `json:"start_date"`
	EndDate   FlexString `json:"end_date"`
}

// ResultResource is an item of the assessment platform results list.
type ResultResource struct {
	ID         FlexString `json:"id"`
	StudentID  FlexString `json:"student_id"`
	Period     FlexString `json:"period"`
	Category   string     `json:"category"`
	Subject    string     `json:"subject"`
	GradeLevel FlexString `json:"grade_level"`
	Score      *float64   `json:"score"`
	MaxScore   *float64   `json:"max_score"`
}

// Attendance export column headers.
const (
	AttendanceColEventID   = "Event ID"
	AttendanceColStudentID = "Student ID"
	AttendanceColClassID   = "Class ID"
	AttendanceColDate      = "Date"
	AttendanceColStatus    = "Status"
	AttendanceColMinutes   = "Minutes Absent"
	AttendanceColComment   = "Comment"
)
