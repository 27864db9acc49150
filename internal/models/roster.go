package models

// Roster records are built from decoded upstream payloads and never mutated
// afterwards. Columns and Values list the domain columns in matching order;
// the writer adds id, tenant_id and external_id itself.

// OrgUnit is a school or other organizational node.
type OrgUnit struct {
	ExternalID string  `json:"external_id" validate:"required"`
	Name       string  `json:"name" validate:"required"`
	Kind       string  `json:"kind"`
	ParentID   *string `json:"parent_id,omitempty"`
}

func (OrgUnit) Columns() []string { return []string{"name", "kind", "parent_id"} }

func (r OrgUnit) Values() []interface{} { return []interface{}{r.Name, r.Kind, r.ParentID} }

func (r OrgUnit) NaturalKey() string { return r.ExternalID }

// Student is a learner Person.
type Student struct {
	ExternalID string  `json:"external_id" validate:"required"`
	OrgUnitID  *string `json:"org_unit_id,omitempty"`
	FirstName  string  `json:"first_name" validate:"required"`
	LastName   string  `json:"last_name"`
	GradeLevel string  `json:"grade_level"`
	BirthDate  *string `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
}

func (Student) Columns() []string {
	return []string{"org_unit_id", "first_name", "last_name", "grade_level", "birth_date", "email"}
}

func (r Student) Values() []interface{} {
	return []interface{}{r.OrgUnitID, r.FirstName, r.LastName, r.GradeLevel, r.BirthDate, r.Email}
}

func (r Student) NaturalKey() string { return r.ExternalID }

// Staff is a staff Person, enriched with detail fields when available.
type Staff struct {
	ExternalID string  `json:"external_id" validate:"required"`
	OrgUnitID  *string `json:"org_unit_id,omitempty"`
	FirstName  string  `json:"first_name" validate:"required"`
	LastName   string  `json:"last_name"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Title      *string `json:"title,omitempty"`
	Department *string `json:"department,omitempty"`
	HireDate   *string `json:"hire_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (Staff) Columns() []string {
	return []string{"org_unit_id", "first_name", "last_name", "email", "title", "department", "hire_date"}
}

func (r Staff) Values() []interface{} {
	return []interface{}{r.OrgUnitID, r.FirstName, r.LastName, r.Email, r.Title, r.Department, r.HireDate}
}

func (r Staff) NaturalKey() string { return r.ExternalID }

// Class is a teaching group.
type Class struct {
	ExternalID string  `json:"external_id" validate:"required"`
	OrgUnitID  *string `json:"org_unit_id,omitempty"`
	TeacherID  *string `json:"teacher_id,omitempty"`
	Name       string  `json:"name" validate:"required"`
	Subject    string  `json:"subject"`
	GradeLevel string  `json:"grade_level"`
	Period     string  `json:"period"`
}

func (Class) Columns() []string {
	return []string{"org_unit_id", "teacher_id", "name", "subject", "grade_level", "period"}
}

func (r Class) Values() []interface{} {
	return []interface{}{r.OrgUnitID, r.TeacherID, r.Name, r.Subject, r.GradeLevel, r.Period}
}

func (r Class) NaturalKey() string { return r.ExternalID }

// Allocation places a student in a class.
type Allocation struct {
	ExternalID string  `json:"external_id" validate:"required"`
	ClassID    *string `json:"class_id,omitempty"`
	StudentID  *string `json:"student_id,omitempty"`
	StartDate  *string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate    *string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (Allocation) Columns() []string {
	return []string{"class_id", "student_id", "start_date", "end_date"}
}

func (r Allocation) Values() []interface{} {
	return []interface{}{r.ClassID, r.StudentID, r.StartDate, r.EndDate}
}

func (r Allocation) NaturalKey() string { return r.ExternalID }

// AttendanceEvent is one attendance mark read from an export.
type AttendanceEvent struct {
	ExternalID    string  `json:"external_id" validate:"required"`
	StudentID     *string `json:"student_id,omitempty"`
	ClassID       *string `json:"class_id,omitempty"`
	EventDate     string  `json:"event_date" validate:"required,datetime=2006-01-02"`
	Status        string  `json:"status" validate:"required"`
	MinutesAbsent *int    `json:"minutes_absent,omitempty"`
	Comment       *string `json:"comment,omitempty"`
}

func (AttendanceEvent) Columns() []string {
	return []string{"student_id", "class_id", "event_date", "status", "minutes_absent", "comment"}
}

func (r AttendanceEvent) Values() []interface{} {
	return []interface{}{r.StudentID, r.ClassID, r.EventDate, r.Status, r.MinutesAbsent, r.Comment}
}

func (r AttendanceEvent) NaturalKey() string { return r.ExternalID }

// AssessmentComponent is one scored component of a student assessment.
type AssessmentComponent struct {
	ExternalID string   `json:"external_id" validate:"required"`
	StudentID  *string  `json:"student_id,omitempty"`
	Period     string   `json:"period" validate:"required"`
	Category   string   `json:"category" validate:"required"`
	Subject    string   `json:"subject" validate:"required"`
	GradeLevel string   `json:"grade_level"`
	Score      *float64 `json:"score,omitempty"`
	MaxScore   *float64 `json:"max_score,omitempty"`
}

func (AssessmentComponent) Columns() []string {
	return []string{"student_id", "period", "category", "subject", "grade_level", "score", "max_score"}
}

func (r AssessmentComponent) Values() []interface{} {
	return []interface{}{r.StudentID, r.Period, r.Category, r.Subject, r.GradeLevel, r.Score, r.MaxScore}
}

func (r AssessmentComponent) NaturalKey() string { return r.ExternalID }

// ReportingScope selects which persisted assessment components are copied into
// the reporting table.
type ReportingScope struct {
	TenantID    string
	GradeLevels []string
}
